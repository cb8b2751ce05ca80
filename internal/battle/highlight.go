package battle

import "github.com/annel0/battle-replay/internal/vec"

// HighlightKind тип яркого момента
type HighlightKind int

const (
	HighlightUnknown HighlightKind = iota
	HighlightMultiKill
	HighlightCriticalHit
	HighlightMassiveDamage
	HighlightStructureLoss
	HighlightSpecialAbility
	HighlightBattleOutcome
)

var highlightKindNames = map[HighlightKind]string{
	HighlightMultiKill:      "MultiKill",
	HighlightCriticalHit:    "CriticalHit",
	HighlightMassiveDamage:  "MassiveDamage",
	HighlightStructureLoss:  "StructureLoss",
	HighlightSpecialAbility: "SpecialAbility",
	HighlightBattleOutcome:  "BattleOutcome",
}

func (k HighlightKind) String() string {
	if name, ok := highlightKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ParseHighlightKind разбирает имя типа момента
func ParseHighlightKind(name string) (HighlightKind, bool) {
	for k, n := range highlightKindNames {
		if n == name {
			return k, true
		}
	}
	return HighlightUnknown, false
}

// HighlightMoment производный яркий момент боя. Importance от 1 до 5.
type HighlightMoment struct {
	Type        HighlightKind
	Timestamp   float64
	Description string
	Importance  int
	EntityID    string
	Position    vec.Vec3Float
}

// Top возвращает первые n моментов уже отсортированного списка
func Top(moments []HighlightMoment, n int) []HighlightMoment {
	if n <= 0 {
		return []HighlightMoment{}
	}
	if n > len(moments) {
		n = len(moments)
	}
	out := make([]HighlightMoment, n)
	copy(out, moments[:n])
	return out
}
