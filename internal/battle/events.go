// Package battle содержит неизменяемую модель записи боя: события, снимки и сессию.
package battle

import "github.com/annel0/battle-replay/internal/vec"

// EventKind перечисляет типы событий боя. Набор закрыт.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventUnitSpawned
	EventUnitMoved
	EventUnitAttacked
	EventUnitDied
	EventBuildingDamaged
	EventBuildingDestroyed
	EventDefenseFired
	EventSpecialAbilityUsed
	EventResourceCaptured
	EventBattleStarted
	EventBattleEnded
)

var eventKindNames = map[EventKind]string{
	EventUnitSpawned:        "UnitSpawned",
	EventUnitMoved:          "UnitMoved",
	EventUnitAttacked:       "UnitAttacked",
	EventUnitDied:           "UnitDied",
	EventBuildingDamaged:    "BuildingDamaged",
	EventBuildingDestroyed:  "BuildingDestroyed",
	EventDefenseFired:       "DefenseFired",
	EventSpecialAbilityUsed: "SpecialAbilityUsed",
	EventResourceCaptured:   "ResourceCaptured",
	EventBattleStarted:      "BattleStarted",
	EventBattleEnded:        "BattleEnded",
}

var eventKindsByName = func() map[string]EventKind {
	m := make(map[string]EventKind, len(eventKindNames))
	for k, name := range eventKindNames {
		m[name] = k
	}
	return m
}()

// String возвращает имя типа в формате хранения
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Valid сообщает, входит ли тип в закрытый набор
func (k EventKind) Valid() bool {
	_, ok := eventKindNames[k]
	return ok
}

// ParseEventKind разбирает имя типа события
func ParseEventKind(name string) (EventKind, bool) {
	k, ok := eventKindsByName[name]
	return k, ok
}

// AllEventKinds возвращает все типы в порядке объявления
func AllEventKinds() []EventKind {
	kinds := make([]EventKind, 0, len(eventKindNames))
	for k := EventUnitSpawned; k <= EventBattleEnded; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// BattleEvent представляет одно событие боя.
// Timestamp отсчитывается в секундах от начала сессии.
// IsAttackerSide относится к источнику для событий урона и к самому юниту
// для спавна, перемещения и гибели.
type BattleEvent struct {
	Type           EventKind
	Timestamp      float64
	UnitID         string
	SourceID       string
	TargetID       string
	UnitType       string
	AbilityType    string
	Position       vec.Vec3Float
	Value          float64
	IsAttackerSide bool
}

// PositionBearing сообщает, несёт ли событие семпл позиции юнита
func (e BattleEvent) PositionBearing() bool {
	return e.Type == EventUnitSpawned || e.Type == EventUnitMoved
}
