package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/cache"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/annel0/battle-replay/internal/persistence"

// Metrics prometheus-метрики адаптера. Методы допускают nil-получатель.
type Metrics struct {
	ops       *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	fallbacks prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Операции хранилища по типу и результату.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replay",
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Длительность операций хранилища.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "storage",
			Name:      "cache_fallbacks_total",
			Help:      "Загрузок, обслуженных локальным кешем после ошибки хранилища.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.latency, m.fallbacks)
	}
	return m
}

func (m *Metrics) observe(op string, began time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(began).Seconds())
}

func (m *Metrics) fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// AdapterOption настраивает Adapter
type AdapterOption func(*Adapter)

// WithCache подключает локальный кеш сессий
func WithCache(c cache.SessionCache) AdapterOption {
	return func(a *Adapter) { a.cache = c }
}

// WithTimeout ограничивает длительность одной операции хранилища
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.timeout = d }
}

// WithStorageMetrics подключает метрики
func WithStorageMetrics(m *Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// WithTracerProvider задаёт провайдер трассировки вместо глобального
func WithTracerProvider(tp trace.TracerProvider) AdapterOption {
	return func(a *Adapter) { a.tracer = tp.Tracer(tracerName) }
}

// Adapter асинхронная граница между игровым потоком и хранилищем.
// Каждая операция выполняется в своей горутине и возвращает Future;
// ошибки приходят как *StorageError и не трогают in-memory состояние.
type Adapter struct {
	store   Store
	cache   cache.SessionCache
	timeout time.Duration
	tracer  trace.Tracer
	metrics *Metrics
	log     *logging.Logger
}

// NewAdapter создаёт адаптер над store
func NewAdapter(store Store, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		store:   store,
		timeout: 10 * time.Second,
		tracer:  otel.Tracer(tracerName),
		log:     logging.GetStorageLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// opContext отвязывает операцию от отмены вызывающего, сохраняя трассу
func (a *Adapter) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
}

func (a *Adapter) finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Save сохраняет финализированную сессию. Незавершённая сессия отклоняется сразу.
func (a *Adapter) Save(ctx context.Context, s *battle.Session) *Future[string] {
	if s == nil || !s.Finalized() {
		id := ""
		if s != nil {
			id = s.ID
		}
		f := newFuture[string]()
		f.complete("", &StorageError{Op: "save", ID: id, Err: ErrNotFinalized})
		return f
	}

	return run(func() (string, error) {
		ctx, cancel := a.opContext(ctx)
		defer cancel()
		ctx, span := a.tracer.Start(ctx, "replay.save", trace.WithAttributes(
			attribute.String("replay.id", s.ID),
			attribute.Int("replay.events", len(s.Events)),
		))

		began := time.Now()
		id, err := a.store.Save(ctx, s)
		a.metrics.observe("save", began, err)
		a.finishSpan(span, err)
		if err != nil {
			a.log.Error("Не удалось сохранить сессию %s: %v", s.ID, err)
			return "", storageErr("save", s.ID, err)
		}

		if a.cache != nil {
			// Delete рассылает инвалидацию, если кеш разделён между узлами
			if err := a.cache.Delete(ctx, id); err != nil {
				a.log.Warn("Не удалось инвалидировать кеш для %s: %v", id, err)
			}
			if err := a.cache.Put(ctx, id, s); err != nil {
				a.log.Warn("Не удалось записать сессию %s в кеш: %v", id, err)
			}
		}
		a.log.Debug("Сессия %s сохранена (%d событий)", id, len(s.Events))
		return id, nil
	})
}

// Load загружает сессию. Если хранилище недоступно, отдаёт копию из кеша.
func (a *Adapter) Load(ctx context.Context, id string) *Future[*battle.Session] {
	return run(func() (*battle.Session, error) {
		ctx, cancel := a.opContext(ctx)
		defer cancel()
		ctx, span := a.tracer.Start(ctx, "replay.load", trace.WithAttributes(attribute.String("replay.id", id)))

		began := time.Now()
		s, err := a.store.Load(ctx, id)
		a.metrics.observe("load", began, err)
		if err == nil {
			a.finishSpan(span, nil)
			if a.cache != nil {
				if err := a.cache.Put(ctx, id, s); err != nil {
					a.log.Warn("Не удалось записать сессию %s в кеш: %v", id, err)
				}
			}
			return s, nil
		}

		if a.cache != nil {
			if cached, cerr := a.cache.Get(ctx, id); cerr == nil {
				a.metrics.fallback()
				span.SetAttributes(attribute.Bool("replay.cache_fallback", true))
				a.finishSpan(span, nil)
				if !errors.Is(err, ErrNotFound) {
					a.log.Warn("Хранилище недоступно (%v), сессия %s взята из кеша", err, id)
				}
				return cached, nil
			}
		}

		a.finishSpan(span, err)
		if !errors.Is(err, ErrNotFound) {
			a.log.Error("Не удалось загрузить сессию %s: %v", id, err)
		}
		return nil, storageErr("load", id, err)
	})
}

// ListSummaries возвращает описания сохранённых сессий
func (a *Adapter) ListSummaries(ctx context.Context, filter SummaryFilter, limit int) *Future[[]battle.SessionSummary] {
	return run(func() ([]battle.SessionSummary, error) {
		ctx, cancel := a.opContext(ctx)
		defer cancel()
		ctx, span := a.tracer.Start(ctx, "replay.list", trace.WithAttributes(
			attribute.String("replay.territory", filter.TerritoryID),
			attribute.Int("replay.limit", limit),
		))

		began := time.Now()
		list, err := a.store.ListSummaries(ctx, filter, limit)
		a.metrics.observe("list", began, err)
		a.finishSpan(span, err)
		if err != nil {
			a.log.Error("Не удалось получить список сессий: %v", err)
			return nil, storageErr("list", "", err)
		}
		return list, nil
	})
}

// CacheStats статистика подключённого кеша
func (a *Adapter) CacheStats() (cache.Stats, bool) {
	if a.cache == nil {
		return cache.Stats{}, false
	}
	return a.cache.Stats(), true
}

// Close закрывает хранилище и кеш
func (a *Adapter) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
