package battle

import (
	"fmt"
	"sort"
	"time"
)

// Session полная запись одного боя.
// После Freeze события, здания и производные данные только читаются.
type Session struct {
	ID            string
	TerritoryID   string
	TerritoryName string
	AttackerID    string
	AttackerName  string
	DefenderID    string
	DefenderName  string

	StartTime   time.Time
	Duration    float64
	AttackerWon bool

	InitialBuildings []BuildingSnapshot
	Events           []BattleEvent
	Stats            SessionStats
	Highlights       []HighlightMoment

	finalized bool
}

// SessionSummary краткое описание сессии для списков
type SessionSummary struct {
	ID             string    `json:"id"`
	TerritoryID    string    `json:"territoryId"`
	TerritoryName  string    `json:"territoryName"`
	AttackerID     string    `json:"attackerId"`
	AttackerName   string    `json:"attackerName"`
	DefenderID     string    `json:"defenderId"`
	DefenderName   string    `json:"defenderName"`
	StartTime      time.Time `json:"startTime"`
	Duration       float64   `json:"duration"`
	AttackerWon    bool      `json:"attackerWon"`
	EventCount     int       `json:"eventCount"`
	HighlightCount int       `json:"highlightCount"`
}

// Freeze помечает сессию как финализированную
func (s *Session) Freeze() { s.finalized = true }

// Finalized сообщает, финализирована ли сессия
func (s *Session) Finalized() bool { return s.finalized }

// TopHighlights возвращает первые n моментов (список уже отсортирован по важности)
func (s *Session) TopHighlights(n int) []HighlightMoment {
	return Top(s.Highlights, n)
}

// Summary строит краткое описание сессии
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:             s.ID,
		TerritoryID:    s.TerritoryID,
		TerritoryName:  s.TerritoryName,
		AttackerID:     s.AttackerID,
		AttackerName:   s.AttackerName,
		DefenderID:     s.DefenderID,
		DefenderName:   s.DefenderName,
		StartTime:      s.StartTime,
		Duration:       s.Duration,
		AttackerWon:    s.AttackerWon,
		EventCount:     len(s.Events),
		HighlightCount: len(s.Highlights),
	}
}

// Validate проверяет инварианты лога: известные типы и неубывающие метки времени
func (s *Session) Validate() error {
	prev := 0.0
	for i, ev := range s.Events {
		if !ev.Type.Valid() {
			return fmt.Errorf("event %d: unknown type %d", i, ev.Type)
		}
		if i > 0 && ev.Timestamp < prev {
			return fmt.Errorf("event %d: timestamp %.3f before %.3f", i, ev.Timestamp, prev)
		}
		prev = ev.Timestamp
	}
	return nil
}

// FirstEventAfter возвращает индекс первого события с Timestamp > t
func (s *Session) FirstEventAfter(t float64) int {
	return sort.Search(len(s.Events), func(i int) bool {
		return s.Events[i].Timestamp > t
	})
}

// EventsBetween возвращает события с from < Timestamp <= to в порядке лога
func (s *Session) EventsBetween(from, to float64) []BattleEvent {
	if to <= from {
		return nil
	}
	start := s.FirstEventAfter(from)
	end := s.FirstEventAfter(to)
	out := make([]BattleEvent, end-start)
	copy(out, s.Events[start:end])
	return out
}
