package sim

import (
	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/vec"
)

// archetype параметры типа юнита
type archetype struct {
	Type     string
	Health   float64
	Damage   float64
	Range    float64
	Speed    float64 // метров в секунду
	Cooldown float64 // секунд между ударами
	Ability  string  // особая способность, пусто: нет
}

var (
	knight = archetype{Type: "Knight", Health: 120, Damage: 12, Range: 2, Speed: 4, Cooldown: 1}
	archer = archetype{Type: "Archer", Health: 60, Damage: 9, Range: 10, Speed: 3.5, Cooldown: 1.2}
	mage   = archetype{Type: "Mage", Health: 50, Damage: 16, Range: 8, Speed: 3, Cooldown: 1.5, Ability: "Fireball"}
	guard  = archetype{Type: "Guard", Health: 100, Damage: 10, Range: 2, Speed: 3.5, Cooldown: 1}

	attackerRoster = []archetype{knight, knight, archer, mage}
	defenderRoster = []archetype{guard, archer}
)

type unit struct {
	id       string
	kind     archetype
	pos      vec.Vec3Float
	health   float64
	attacker bool
	alive    bool
	cooldown float64
	ability  float64 // время до готовности способности
	looted   float64 // время до следующего захвата ресурсов
}

func (u *unit) snapshot() battle.UnitSnapshot {
	return battle.UnitSnapshot{
		ID:             u.id,
		Type:           u.kind.Type,
		Position:       u.pos,
		Health:         u.health,
		MaxHealth:      u.kind.Health,
		IsAttackerSide: u.attacker,
	}
}

type building struct {
	snap     battle.BuildingSnapshot
	health   float64
	tower    bool
	rng      float64
	damage   float64
	cooldown float64
	alive    bool
}

// moveToward сдвигает from к to не дальше step
func moveToward(from, to vec.Vec3Float, step float64) vec.Vec3Float {
	d := to.Sub(from)
	dist := d.Length()
	if dist <= step || dist == 0 {
		return to
	}
	return from.Add(d.Mul(step / dist))
}
