package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/dgraph-io/badger/v3"
)

const (
	sessionPrefix = "session:"
	summaryPrefix = "summary:"
)

// BadgerStore встроенное хранилище на BadgerDB.
// Документ и описание сессии пишутся одной транзакцией.
type BadgerStore struct {
	db      *badger.DB
	codec   *Codec
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает (или создаёт) базу в каталоге path
func NewBadgerStore(path string, codec *Codec) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerStore{db: db, codec: codec, isReady: true}, nil
}

var errStoreClosed = errors.New("store is closed")

func (b *BadgerStore) Save(ctx context.Context, s *battle.Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := b.codec.EncodeSession(s)
	if err != nil {
		return "", err
	}
	sum, err := json.Marshal(s.Summary())
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации описания %s: %w", s.ID, err)
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return "", errStoreClosed
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(sessionPrefix+s.ID), doc); err != nil {
			return err
		}
		return txn.Set([]byte(summaryPrefix+s.ID), sum)
	})
	if err != nil {
		return "", fmt.Errorf("ошибка записи сессии %s: %w", s.ID, err)
	}
	return s.ID, nil
}

func (b *BadgerStore) Load(ctx context.Context, id string) (*battle.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, errStoreClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сессии %s: %w", id, err)
	}
	return b.codec.DecodeSession(data)
}

func (b *BadgerStore) ListSummaries(ctx context.Context, filter SummaryFilter, limit int) ([]battle.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, errStoreClosed
	}

	var list []battle.SessionSummary
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(summaryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sum battle.SessionSummary
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			})
			if err != nil {
				// битое описание не должно ломать весь список
				continue
			}
			if filter.Match(sum) {
				list = append(list, sum)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка сессий: %w", err)
	}
	return sortAndLimit(list, limit), nil
}

func (b *BadgerStore) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.isReady {
		return nil
	}
	b.isReady = false
	return b.db.Close()
}
