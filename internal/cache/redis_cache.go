package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig параметры подключения RedisCache
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	MaxEntries int
	TTL        time.Duration // 0: без истечения
}

// RedisCache реализует SessionCache поверх Redis, чтобы несколько узлов
// делили один кеш. Порядок вставки хранится в списке <prefix>order,
// сами сессии лежат в ключах <prefix>s:<id>.
type RedisCache struct {
	client *redis.Client
	codec  Codec
	cfg    RedisConfig
	log    *logging.Logger

	hits      int64
	misses    int64
	evictions int64
}

// NewRedisCache подключается к Redis и проверяет соединение.
func NewRedisCache(cfg RedisConfig, codec Codec) (*RedisCache, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "replay:cache:"
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := &RedisCache{client: rdb, codec: codec, cfg: cfg, log: logging.GetStorageLogger()}
	c.log.Info("Redis cache initialized: %s (max %d entries)", cfg.Addr, cfg.MaxEntries)
	return c, nil
}

func (r *RedisCache) sessionKey(id string) string {
	return r.cfg.KeyPrefix + "s:" + id
}

func (r *RedisCache) orderKey() string {
	return r.cfg.KeyPrefix + "order"
}

func (r *RedisCache) Get(ctx context.Context, key string) (*battle.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&r.misses, 1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		atomic.AddInt64(&r.misses, 1)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	s, err := r.codec.DecodeSession(data)
	if err != nil {
		// битая запись хуже промаха: удаляем, чтобы следующий Put её заменил
		r.log.Warn("Повреждённая запись кеша %s: %v", key, err)
		_ = r.Delete(ctx, key)
		atomic.AddInt64(&r.misses, 1)
		return nil, ErrCacheMiss
	}
	atomic.AddInt64(&r.hits, 1)
	return s, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, s *battle.Session) error {
	if key == "" || s == nil {
		return ErrInvalidKey
	}
	data, err := r.codec.EncodeSession(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}

	sk := r.sessionKey(key)
	existed, err := r.client.Exists(ctx, sk).Result()
	if err != nil {
		return fmt.Errorf("redis exists error: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sk, data, r.cfg.TTL)
	if existed == 0 {
		pipe.RPush(ctx, r.orderKey(), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return r.evict(ctx)
}

// evict удаляет самые старые записи сверх лимита
func (r *RedisCache) evict(ctx context.Context) error {
	for {
		n, err := r.client.LLen(ctx, r.orderKey()).Result()
		if err != nil {
			return fmt.Errorf("redis llen error: %w", err)
		}
		if n <= int64(r.cfg.MaxEntries) {
			return nil
		}
		oldest, err := r.client.LPop(ctx, r.orderKey()).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis lpop error: %w", err)
		}
		if err := r.client.Del(ctx, r.sessionKey(oldest)).Err(); err != nil {
			return fmt.Errorf("redis del error: %w", err)
		}
		atomic.AddInt64(&r.evictions, 1)
	}
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(key))
	pipe.LRem(ctx, r.orderKey(), 0, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

func (r *RedisCache) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen error: %w", err)
	}
	return int(n), nil
}

func (r *RedisCache) Stats() Stats {
	return newStats(atomic.LoadInt64(&r.hits), atomic.LoadInt64(&r.misses), atomic.LoadInt64(&r.evictions))
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
