package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/battle-replay/internal/battle"
)

func session(id string) *battle.Session {
	return &battle.Session{ID: id, Duration: 1}
}

func TestLocalCache_FIFOEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(3)

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, c.Put(ctx, id, session(id)))
	}

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"s3", "s4", "s5"}, c.Keys())

	_, err = c.Get(ctx, "s1")
	assert.True(t, IsCacheMiss(err))

	got, err := c.Get(ctx, "s4")
	require.NoError(t, err)
	assert.Equal(t, "s4", got.ID)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Evictions)
	assert.InDelta(t, 0.5, stats.HitRatio, 1e-9)
}

func TestLocalCache_RePutKeepsPosition(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(2)

	require.NoError(t, c.Put(ctx, "a", session("a")))
	require.NoError(t, c.Put(ctx, "b", session("b")))

	replacement := session("a")
	replacement.Duration = 42
	require.NoError(t, c.Put(ctx, "a", replacement))
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Duration)

	// "a" по-прежнему самый старый и вытесняется первым
	require.NoError(t, c.Put(ctx, "c", session("c")))
	assert.Equal(t, []string{"b", "c"}, c.Keys())
}

func TestLocalCache_DeleteAndInvalidInput(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(0)
	assert.Equal(t, DefaultMaxEntries, c.max)

	assert.ErrorIs(t, c.Put(ctx, "", session("x")), ErrInvalidKey)
	assert.ErrorIs(t, c.Put(ctx, "x", nil), ErrInvalidKey)

	require.NoError(t, c.Put(ctx, "x", session("x")))
	require.NoError(t, c.Delete(ctx, "x"))
	require.NoError(t, c.Delete(ctx, "missing"))
	n, _ := c.Len(ctx)
	assert.Equal(t, 0, n)
}

func TestLocalCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(10)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("g%d-%d", g, i)
				_ = c.Put(ctx, id, session(id))
				_, _ = c.Get(ctx, id)
			}
		}(g)
	}
	wg.Wait()

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestLocalCache_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(4)
	a, b := session("k"), session("k")
	require.NoError(t, c.Put(ctx, "k", a))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			next := a
			if i%2 == 1 {
				next = b
			}
			_ = c.Put(ctx, "k", next)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			got, err := c.Get(ctx, "k")
			if assert.NoError(t, err) {
				assert.True(t, got == a || got == b)
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, []string{"k"}, c.Keys())
}

// mockInvalidator реализует Invalidator в памяти.
type mockInvalidator struct {
	mu        sync.Mutex
	published []string
	handler   InvalidationHandler
}

func (m *mockInvalidator) PublishInvalidation(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, key)
	return nil
}

func (m *mockInvalidator) SubscribeInvalidations(_ context.Context, h InvalidationHandler) error {
	m.handler = h
	return nil
}

func (m *mockInvalidator) Close() error { return nil }

func TestInvalidatingCache(t *testing.T) {
	ctx := context.Background()
	inv := &mockInvalidator{}
	local := NewLocalCache(5)

	c, err := WithInvalidation(ctx, local, inv)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "a", session("a")))
	require.NoError(t, c.Put(ctx, "b", session("b")))

	require.NoError(t, c.Delete(ctx, "a"))
	assert.Equal(t, []string{"a"}, inv.published)

	// уведомление от другого узла удаляет ключ локально
	require.NotNil(t, inv.handler)
	require.NoError(t, inv.handler("b"))
	_, err = c.Get(ctx, "b")
	assert.True(t, IsCacheMiss(err))
	assert.Len(t, inv.published, 1)
}

func TestNATSInvalidator_HandleMessage(t *testing.T) {
	n := newInvalidator(nil, InvalidatorConfig{DedupeWindow: time.Minute}, "node1")
	var got []string
	n.handler = func(key string) error {
		got = append(got, key)
		return nil
	}

	msg := func(key, node string) []byte {
		data, err := json.Marshal(InvalidationMessage{Key: key, NodeID: node, Timestamp: time.Now()})
		require.NoError(t, err)
		return data
	}

	n.handle(msg("s1", "node2"))
	n.handle(msg("s1", "node2")) // дубликат в окне
	n.handle(msg("s2", "node1")) // собственное сообщение
	n.handle([]byte("not json"))

	assert.Equal(t, []string{"s1"}, got)
	m := n.Metrics()
	assert.Equal(t, int64(4), m["received"])
	assert.Equal(t, int64(1), m["errors"])
	require.NoError(t, n.Close())
}

// jsonCodec минимальный кодек для проверки RedisCache
type jsonCodec struct{}

func (jsonCodec) EncodeSession(s *battle.Session) ([]byte, error) { return json.Marshal(s) }
func (jsonCodec) DecodeSession(data []byte) (*battle.Session, error) {
	var s battle.Session
	err := json.Unmarshal(data, &s)
	return &s, err
}

func TestRedisCache_FIFO(t *testing.T) {
	prefix := fmt.Sprintf("test:replay:%d:", time.Now().UnixNano())
	c, err := NewRedisCache(RedisConfig{Addr: "localhost:6379", KeyPrefix: prefix, MaxEntries: 2}, jsonCodec{})
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
		return
	}
	defer c.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "a", "c"} {
		require.NoError(t, c.Put(ctx, id, session(id)))
	}

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))
	got, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "c", got.ID)

	require.NoError(t, c.Delete(ctx, "b"))
	require.NoError(t, c.Delete(ctx, "c"))
	n, err = c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
