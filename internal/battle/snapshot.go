package battle

import "github.com/annel0/battle-replay/internal/vec"

// BuildingSnapshot фиксирует здание в момент начала записи.
type BuildingSnapshot struct {
	ID        string
	Type      string
	Position  vec.Vec3Float
	Rotation  vec.Vec3Float
	Scale     vec.Vec3Float
	Health    float64
	MaxHealth float64
}

// UnitSnapshot описывает текущее состояние юнита, которое хост передаёт
// при спавне и при периодическом семплировании позиций.
type UnitSnapshot struct {
	ID             string
	Type           string
	Position       vec.Vec3Float
	Health         float64
	MaxHealth      float64
	IsAttackerSide bool
}
