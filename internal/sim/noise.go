package sim

import "github.com/aquilax/go-perlin"

// Noise генератор шума Перлина с собственным сидом
type Noise struct {
	p *perlin.Perlin
}

// NewNoise инициализирует генератор шума Перлина с указанным сидом
func NewNoise(seed int64) *Noise {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Noise{p: perlin.NewPerlin(alpha, beta, n, seed)}
}

// Sample2D возвращает значение шума для указанных координат (от 0 до 1)
func (n *Noise) Sample2D(x, y float64) float64 {
	v := (n.p.Noise2D(x, y) + 1.0) / 2.0
	return min(max(v, 0), 1)
}

// Signed возвращает значение шума в диапазоне от -1 до 1
func (n *Noise) Signed(x, y float64) float64 {
	return n.Sample2D(x, y)*2 - 1
}
