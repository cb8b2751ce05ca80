package persistence

import (
	"fmt"
	"os"

	"github.com/annel0/battle-replay/internal/config"
)

// OpenStore открывает бэкенд, выбранный в конфигурации
func OpenStore(cfg config.StorageConfig, codec *Codec) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(codec), nil
	case "", "badger":
		if err := os.MkdirAll(cfg.BadgerPath, 0755); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", cfg.BadgerPath, err)
		}
		return NewBadgerStore(cfg.BadgerPath, codec)
	case "mongo":
		return NewMongoStore(MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		}, codec)
	case "maria", "mysql":
		return NewMariaStore(cfg.Maria.DSN, codec)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
