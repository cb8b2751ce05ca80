package persistence

import (
	"context"
	"sync"

	"github.com/annel0/battle-replay/internal/battle"
)

// MemoryStore хранит документы сессий в памяти процесса.
// Сессии проходят через кодек, как и в остальных бэкендах.
type MemoryStore struct {
	codec *Codec
	mu    sync.RWMutex
	docs  map[string][]byte
	sums  map[string]battle.SessionSummary
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore(codec *Codec) *MemoryStore {
	return &MemoryStore{
		codec: codec,
		docs:  make(map[string][]byte),
		sums:  make(map[string]battle.SessionSummary),
	}
}

func (m *MemoryStore) Save(ctx context.Context, s *battle.Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := m.codec.EncodeSession(s)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.docs[s.ID] = data
	m.sums[s.ID] = s.Summary()
	m.mu.Unlock()
	return s.ID, nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*battle.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.codec.DecodeSession(data)
}

func (m *MemoryStore) ListSummaries(ctx context.Context, filter SummaryFilter, limit int) ([]battle.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	list := make([]battle.SessionSummary, 0, len(m.sums))
	for _, sum := range m.sums {
		if filter.Match(sum) {
			list = append(list, sum)
		}
	}
	m.mu.RUnlock()
	return sortAndLimit(list, limit), nil
}

func (m *MemoryStore) Close() error { return nil }
