package recording

import "github.com/annel0/battle-replay/internal/vec"

// PositionSampler решает, нужно ли записывать новую позицию юнита.
// Базой служит последняя записанная позиция, а не последняя увиденная,
// поэтому медленный дрейф тоже попадает в журнал.
type PositionSampler struct {
	threshold float64
	last      map[string]vec.Vec3Float
}

// NewPositionSampler создаёт семплер с порогом перемещения threshold
func NewPositionSampler(threshold float64) *PositionSampler {
	if threshold < 0 {
		threshold = 0
	}
	return &PositionSampler{
		threshold: threshold,
		last:      make(map[string]vec.Vec3Float),
	}
}

// ShouldSample сообщает, сместился ли юнит строго дальше порога.
// Юнит без записанной позиции (не появлялся или погиб) не семплируется.
func (p *PositionSampler) ShouldSample(id string, pos vec.Vec3Float) bool {
	last, ok := p.last[id]
	if !ok {
		return false
	}
	return last.DistanceTo(pos) > p.threshold
}

// Mark запоминает записанную позицию
func (p *PositionSampler) Mark(id string, pos vec.Vec3Float) {
	p.last[id] = pos
}

// Forget удаляет юнит из учёта
func (p *PositionSampler) Forget(id string) {
	delete(p.last, id)
}

// Last возвращает последнюю записанную позицию
func (p *PositionSampler) Last(id string) (vec.Vec3Float, bool) {
	pos, ok := p.last[id]
	return pos, ok
}

// Reset очищает состояние
func (p *PositionSampler) Reset() {
	p.last = make(map[string]vec.Vec3Float)
}
