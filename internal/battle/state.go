package battle

import "github.com/annel0/battle-replay/internal/vec"

// UnitState состояние живого юнита в момент времени
type UnitState struct {
	UnitType       string
	Position       vec.Vec3Float
	Health         float64
	MaxHealth      float64
	IsAttackerSide bool
}

// BuildingState состояние здания в момент времени
type BuildingState struct {
	Type      string
	Position  vec.Vec3Float
	Health    float64
	MaxHealth float64
}

// BattlefieldState проекция (Session, t). Никогда не сохраняется.
type BattlefieldState struct {
	Time              float64
	ActiveUnits       map[string]UnitState
	ActiveBuildings   map[string]BuildingState
	AttackerResources float64
	DefenderResources float64
}

// NewBattlefieldState создаёт пустое состояние
func NewBattlefieldState() BattlefieldState {
	return BattlefieldState{
		ActiveUnits:     make(map[string]UnitState),
		ActiveBuildings: make(map[string]BuildingState),
	}
}

// Clone возвращает глубокую копию состояния
func (s BattlefieldState) Clone() BattlefieldState {
	out := BattlefieldState{
		Time:              s.Time,
		ActiveUnits:       make(map[string]UnitState, len(s.ActiveUnits)),
		ActiveBuildings:   make(map[string]BuildingState, len(s.ActiveBuildings)),
		AttackerResources: s.AttackerResources,
		DefenderResources: s.DefenderResources,
	}
	for id, u := range s.ActiveUnits {
		out.ActiveUnits[id] = u
	}
	for id, b := range s.ActiveBuildings {
		out.ActiveBuildings[id] = b
	}
	return out
}
