package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/annel0/battle-replay/internal/battle"
)

// DefaultMaxEntries размер кеша по умолчанию
const DefaultMaxEntries = 20

// LocalCache FIFO-кеш в памяти процесса. Сессии неизменяемы,
// поэтому наружу отдаются те же указатели без копирования.
type LocalCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List // ключи в порядке вставки, голова: самый старый
	entries map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64
}

type localEntry struct {
	key     string
	session *battle.Session
}

// NewLocalCache создаёт кеш не более чем на maxEntries сессий
func NewLocalCache(maxEntries int) *LocalCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &LocalCache{
		max:     maxEntries,
		order:   list.New(),
		entries: make(map[string]*list.Element, maxEntries),
	}
}

func (c *LocalCache) Get(_ context.Context, key string) (*battle.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}
	atomic.AddInt64(&c.hits, 1)
	return el.Value.(*localEntry).session, nil
}

func (c *LocalCache) Put(_ context.Context, key string, s *battle.Session) error {
	if key == "" || s == nil {
		return ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*localEntry).session = s
		return nil
	}

	c.entries[key] = c.order.PushBack(&localEntry{key: key, session: s})
	for c.order.Len() > c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*localEntry).key)
		atomic.AddInt64(&c.evictions, 1)
	}
	return nil
}

func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	return nil
}

func (c *LocalCache) Len(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), nil
}

// Keys возвращает ключи от самого старого к самому новому
func (c *LocalCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*localEntry).key)
	}
	return keys
}

func (c *LocalCache) Stats() Stats {
	return newStats(atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), atomic.LoadInt64(&c.evictions))
}

func (c *LocalCache) Close() error { return nil }
