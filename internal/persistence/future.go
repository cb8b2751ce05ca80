package persistence

import "context"

// Future результат асинхронной операции хранилища
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// run выполняет fn в отдельной горутине и завершает future её результатом
func run[T any](fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		v, err := fn()
		f.complete(v, err)
	}()
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Done закрывается по завершении операции
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await ждёт результат или отмену ctx. Отмена ожидания не отменяет саму операцию.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then вызывает fn с результатом в отдельной горутине после завершения
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.value, f.err)
	}()
}
