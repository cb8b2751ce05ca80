package api

import (
	"encoding/json"
	"sort"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/vec"
)

type unitView struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	Position       vec.Vec3Float `json:"position"`
	Health         float64       `json:"health"`
	MaxHealth      float64       `json:"maxHealth"`
	IsAttackerSide bool          `json:"isAttackerSide"`
}

type buildingView struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Position  vec.Vec3Float `json:"position"`
	Health    float64       `json:"health"`
	MaxHealth float64       `json:"maxHealth"`
}

// stateView состояние поля боя; юниты и здания упорядочены по ID
type stateView struct {
	Time              float64        `json:"time"`
	Units             []unitView     `json:"units"`
	Buildings         []buildingView `json:"buildings"`
	AttackerResources float64        `json:"attackerResources"`
	DefenderResources float64        `json:"defenderResources"`
}

func newStateView(st battle.BattlefieldState) stateView {
	v := stateView{
		Time:              st.Time,
		Units:             make([]unitView, 0, len(st.ActiveUnits)),
		Buildings:         make([]buildingView, 0, len(st.ActiveBuildings)),
		AttackerResources: st.AttackerResources,
		DefenderResources: st.DefenderResources,
	}
	for id, u := range st.ActiveUnits {
		v.Units = append(v.Units, unitView{
			ID: id, Type: u.UnitType, Position: u.Position,
			Health: u.Health, MaxHealth: u.MaxHealth, IsAttackerSide: u.IsAttackerSide,
		})
	}
	for id, b := range st.ActiveBuildings {
		v.Buildings = append(v.Buildings, buildingView{
			ID: id, Type: b.Type, Position: b.Position, Health: b.Health, MaxHealth: b.MaxHealth,
		})
	}
	sort.Slice(v.Units, func(i, j int) bool { return v.Units[i].ID < v.Units[j].ID })
	sort.Slice(v.Buildings, func(i, j int) bool { return v.Buildings[i].ID < v.Buildings[j].ID })
	return v
}

type highlightView struct {
	Type        string        `json:"type"`
	Timestamp   float64       `json:"timestamp"`
	Description string        `json:"description"`
	Importance  int           `json:"importance"`
	EntityID    string        `json:"entityId,omitempty"`
	Position    vec.Vec3Float `json:"position"`
}

func newHighlightViews(moments []battle.HighlightMoment) []highlightView {
	out := make([]highlightView, len(moments))
	for i, m := range moments {
		out[i] = highlightView{
			Type:        m.Type.String(),
			Timestamp:   m.Timestamp,
			Description: m.Description,
			Importance:  m.Importance,
			EntityID:    m.EntityID,
			Position:    m.Position,
		}
	}
	return out
}

// replayView полное описание сессии без журнала событий
type replayView struct {
	battle.SessionSummary
	InitialBuildings []buildingView      `json:"initialBuildings"`
	Stats            battle.SessionStats `json:"stats"`
	Highlights       []highlightView     `json:"highlights"`
}

func newReplayView(s *battle.Session) replayView {
	v := replayView{
		SessionSummary:   s.Summary(),
		InitialBuildings: make([]buildingView, len(s.InitialBuildings)),
		Stats:            s.Stats,
		Highlights:       newHighlightViews(s.Highlights),
	}
	for i, b := range s.InitialBuildings {
		v.InitialBuildings[i] = buildingView{
			ID: b.ID, Type: b.Type, Position: b.Position, Health: b.Health, MaxHealth: b.MaxHealth,
		}
	}
	return v
}

// eventsView фрагмент журнала в формате документа сессии
type eventsView struct {
	From   float64           `json:"from"`
	To     float64           `json:"to"`
	Events []json.RawMessage `json:"events"`
}
