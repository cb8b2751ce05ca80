// Package persistence сохраняет и загружает финализированные сессии.
// Синхронные бэкенды реализуют Store, асинхронную границу даёт Adapter.
package persistence

import (
	"context"
	"sort"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
)

// Store синхронное хранилище сессий.
type Store interface {
	// Save сохраняет сессию и возвращает её идентификатор. Повторное сохранение перезаписывает.
	Save(ctx context.Context, s *battle.Session) (string, error)
	// Load возвращает сессию или ErrNotFound.
	Load(ctx context.Context, id string) (*battle.Session, error)
	// ListSummaries возвращает описания сессий от новых к старым; limit <= 0: без ограничения.
	ListSummaries(ctx context.Context, filter SummaryFilter, limit int) ([]battle.SessionSummary, error)
	Close() error
}

// SummaryFilter отбор сессий для списка. Пустые поля не ограничивают выборку.
type SummaryFilter struct {
	TerritoryID string
	PlayerID    string // атакующий или защитник
	Since       time.Time
}

// Match проверяет описание на соответствие фильтру
func (f SummaryFilter) Match(sum battle.SessionSummary) bool {
	if f.TerritoryID != "" && sum.TerritoryID != f.TerritoryID {
		return false
	}
	if f.PlayerID != "" && sum.AttackerID != f.PlayerID && sum.DefenderID != f.PlayerID {
		return false
	}
	if !f.Since.IsZero() && sum.StartTime.Before(f.Since) {
		return false
	}
	return true
}

// sortAndLimit упорядочивает описания по убыванию времени начала
func sortAndLimit(list []battle.SessionSummary, limit int) []battle.SessionSummary {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].StartTime.After(list[j].StartTime)
		}
		return list[i].ID < list[j].ID
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
