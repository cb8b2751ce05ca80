package cache

import (
	"context"
	"errors"

	"github.com/annel0/battle-replay/internal/battle"
)

// SessionCache кеш финализированных сессий по идентификатору.
// Объём ограничен числом записей; при переполнении вытесняются самые старые.
//
// Использование:
//
//	c := NewLocalCache(20)
//	err := c.Put(ctx, s.ID, s)
//	s, err := c.Get(ctx, id)
type SessionCache interface {
	// Get возвращает сессию или ErrCacheMiss.
	Get(ctx context.Context, key string) (*battle.Session, error)

	// Put добавляет сессию. Повторная запись ключа не меняет его место в очереди вытеснения.
	Put(ctx context.Context, key string, s *battle.Session) error

	// Delete удаляет ключ; отсутствие ключа не ошибка.
	Delete(ctx context.Context, key string) error

	// Len возвращает число записей.
	Len(ctx context.Context) (int, error)

	// Stats возвращает счётчики попаданий и промахов.
	Stats() Stats

	// Close освобождает ресурсы.
	Close() error
}

// Codec сериализация сессии для внешних кешей
type Codec interface {
	EncodeSession(s *battle.Session) ([]byte, error)
	DecodeSession(data []byte) (*battle.Session, error)
}

// Invalidator рассылает уведомления об устаревших ключах другим узлам
type Invalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомление об инвалидации ключа.
type InvalidationHandler func(key string) error

// Stats метрики кеша
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRatio  float64 `json:"hit_ratio"`
}

func newStats(hits, misses, evictions int64) Stats {
	s := Stats{Hits: hits, Misses: misses, Evictions: evictions}
	if total := hits + misses; total > 0 {
		s.HitRatio = float64(hits) / float64(total)
	}
	return s
}

// Ошибки кеша
var (
	ErrCacheMiss  = NewCacheError("cache miss")
	ErrInvalidKey = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
