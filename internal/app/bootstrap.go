// Package app собирает компоненты сервиса из конфигурации.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/battle-replay/internal/cache"
	"github.com/annel0/battle-replay/internal/config"
	"github.com/annel0/battle-replay/internal/highlight"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/persistence"
)

// LoggingOptions переводит секцию logging в опции логгера
func LoggingOptions(lc config.LoggingConfig) logging.Options {
	return logging.Options{
		Level:  logging.ParseLevel(lc.Level),
		Format: lc.Format,
		Dir:    lc.Dir,
	}
}

// Storage слой хранения реплеев: адаптер и кодек документов
type Storage struct {
	Adapter *persistence.Adapter
	Codec   *persistence.Codec
}

// Close закрывает адаптер вместе с хранилищем и кешем
func (s *Storage) Close() error {
	return s.Adapter.Close()
}

// OpenStorage открывает хранилище, кеш и адаптер над ними.
// Если задан URL шины, локальный кеш подписывается на инвалидации других узлов.
func OpenStorage(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, nodeID string) (*Storage, error) {
	log := logging.GetStorageLogger()
	codec := persistence.NewCodec(highlight.ConfigFrom(cfg.Highlights))

	store, err := persistence.OpenStore(cfg.Storage, codec)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть хранилище %s: %w", cfg.Storage.Backend, err)
	}
	log.Info("Хранилище реплеев: %s", cfg.Storage.Backend)

	c, err := OpenCache(ctx, cfg, codec, nodeID)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	adapter := persistence.NewAdapter(store,
		persistence.WithCache(c),
		persistence.WithTimeout(10*time.Second),
		persistence.WithStorageMetrics(persistence.NewMetrics(reg)),
	)
	return &Storage{Adapter: adapter, Codec: codec}, nil
}

// OpenCache создаёт кеш сессий по секции cache
func OpenCache(ctx context.Context, cfg *config.Config, codec cache.Codec, nodeID string) (cache.SessionCache, error) {
	log := logging.GetStorageLogger()

	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:       cfg.Cache.RedisAddr,
			Password:   cfg.Cache.RedisPassword,
			DB:         cfg.Cache.RedisDB,
			KeyPrefix:  cfg.Cache.KeyPrefix,
			MaxEntries: cfg.Cache.MaxEntries,
		}, codec)
		if err != nil {
			return nil, err
		}
		// Redis общий для всех узлов, рассылка не нужна
		return rc, nil
	case "", "local":
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	local := cache.NewLocalCache(cfg.Cache.MaxEntries)
	if cfg.EventBus.URL == "" {
		return local, nil
	}

	inv, err := cache.NewNATSInvalidator(cache.InvalidatorConfig{NATSURL: cfg.EventBus.URL}, nodeID)
	if err != nil {
		log.Warn("Инвалидация кеша недоступна, кеш остаётся локальным: %v", err)
		return local, nil
	}
	ic, err := cache.WithInvalidation(ctx, local, inv)
	if err != nil {
		_ = inv.Close()
		return nil, err
	}
	log.Info("Кеш реплеев синхронизируется через %s", cfg.EventBus.URL)
	return ic, nil
}
