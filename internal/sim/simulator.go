// Package sim разыгрывает детерминированный бой за территорию и пишет его
// через recording.Manager. Используется для демо-данных и нагрузочных прогонов.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/recording"
	"github.com/annel0/battle-replay/internal/vec"
)

// Config параметры симуляции
type Config struct {
	Seed          int64
	SessionID     string // пусто: UUID
	TerritoryID   string
	TerritoryName string
	AttackerID    string
	DefenderID    string

	Waves         int     // волн атакующих
	WaveSize      int     // юнитов в волне
	WaveInterval  float64 // секунд между волнами
	Defenders     int
	Towers        int
	ArenaSize     float64
	MaxDuration   float64 // секунд
	Step          float64 // секунд на шаг
	CriticalRatio float64 // вероятность критического удара

	Recording recording.Config
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	rec := recording.DefaultConfig()
	rec.MoveThreshold = 2
	rec.MaxEvents = 50000
	return Config{
		Seed:          1,
		TerritoryID:   "territory-1",
		TerritoryName: "Border Keep",
		AttackerID:    "attacker",
		DefenderID:    "defender",
		Waves:         3,
		WaveSize:      4,
		WaveInterval:  8,
		Defenders:     6,
		Towers:        3,
		ArenaSize:     100,
		MaxDuration:   180,
		Step:          0.25,
		CriticalRatio: 0.1,
		Recording:     rec,
	}
}

// Simulator проигрывает один бой на виртуальных часах
type Simulator struct {
	cfg   Config
	noise *Noise
	rng   *rand.Rand
	rec   *recording.Manager
	log   *logging.Logger

	start     time.Time
	t         float64
	units     []*unit
	buildings []*building
	nextWave  float64
	waves     int
}

// NewSimulator создаёт симулятор. Опции передаются recording.Manager;
// часы менеджера всегда виртуальные.
func NewSimulator(cfg Config, opts ...recording.Option) *Simulator {
	def := DefaultConfig()
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.ArenaSize <= 0 {
		cfg.ArenaSize = def.ArenaSize
	}
	if cfg.WaveInterval <= 0 {
		cfg.WaveInterval = def.WaveInterval
	}

	s := &Simulator{
		cfg:   cfg,
		noise: NewNoise(cfg.Seed),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		log:   logging.GetComponentLogger("sim"),
		start: time.Unix(1700000000, 0).UTC(),
	}
	opts = append(opts[:len(opts):len(opts)], recording.WithClock(s.now))
	s.rec = recording.NewManager(cfg.Recording, opts...)
	return s
}

func (s *Simulator) now() time.Time {
	return s.start.Add(time.Duration(s.t * float64(time.Second)))
}

// Recorder возвращает менеджер записи симулятора
func (s *Simulator) Recorder() *recording.Manager { return s.rec }

// Run проигрывает бой до разрушения ратуши, гибели всех волн или
// истечения MaxDuration. При отмене ctx запись отменяется.
func (s *Simulator) Run(ctx context.Context) (*battle.Session, error) {
	s.setup()

	snaps := make([]battle.BuildingSnapshot, len(s.buildings))
	for i, b := range s.buildings {
		snaps[i] = b.snap
	}
	if _, err := s.rec.Start(recording.StartOptions{
		SessionID:     s.cfg.SessionID,
		TerritoryID:   s.cfg.TerritoryID,
		TerritoryName: s.cfg.TerritoryName,
		AttackerID:    s.cfg.AttackerID,
		DefenderID:    s.cfg.DefenderID,
		Buildings:     snaps,
	}); err != nil {
		return nil, err
	}

	for _, u := range s.units {
		s.rec.RecordSpawn(u.snapshot())
	}

	attackerWon := false
	for s.t < s.cfg.MaxDuration {
		if err := ctx.Err(); err != nil {
			_ = s.rec.Cancel()
			return nil, err
		}
		s.t += s.cfg.Step
		s.step()

		if !s.buildings[0].alive {
			attackerWon = true
			break
		}
		if s.waves >= s.cfg.Waves && s.aliveCount(true) == 0 {
			break
		}
	}

	sess, err := s.rec.Stop(attackerWon)
	if err != nil {
		return nil, err
	}
	s.log.Info("Симуляция %d завершена за %.1fс: победа %s", s.cfg.Seed, s.t, winner(attackerWon))
	return sess, nil
}

func winner(attackerWon bool) string {
	if attackerWon {
		return "атакующих"
	}
	return "защитников"
}

// setup расставляет ратушу, башни и защитников
func (s *Simulator) setup() {
	s.t = 0
	s.units = nil
	s.buildings = nil
	s.waves = 0
	s.nextWave = 0

	center := vec.Vec3Float{X: s.cfg.ArenaSize / 2, Z: s.cfg.ArenaSize / 2}
	one := vec.Vec3Float{X: 1, Y: 1, Z: 1}
	s.buildings = append(s.buildings, &building{
		snap:  battle.BuildingSnapshot{ID: "hq", Type: "TownHall", Position: center, Scale: one, Health: 600, MaxHealth: 600},
		alive: true,
	})
	for i := 0; i < s.cfg.Towers; i++ {
		angle := 2 * math.Pi * float64(i) / float64(s.cfg.Towers)
		pos := vec.Vec3Float{X: center.X + 15*math.Cos(angle), Z: center.Z + 15*math.Sin(angle)}
		s.buildings = append(s.buildings, &building{
			snap: battle.BuildingSnapshot{
				ID: fmt.Sprintf("tower-%d", i+1), Type: "ArcherTower", Position: pos,
				Rotation: vec.Vec3Float{Y: angle * 180 / math.Pi}, Scale: one, Health: 250, MaxHealth: 250,
			},
			tower: true, rng: 14, damage: 8, alive: true,
		})
	}
	for _, b := range s.buildings {
		b.health = b.snap.Health
	}

	for i := 0; i < s.cfg.Defenders; i++ {
		kind := defenderRoster[i%len(defenderRoster)]
		jitter := vec.Vec3Float{
			X: 8 * s.noise.Signed(float64(i)*0.37, 0.5),
			Z: 8 * s.noise.Signed(0.5, float64(i)*0.37),
		}
		s.units = append(s.units, s.newUnit(fmt.Sprintf("d%d", i+1), kind, center.Add(jitter), false))
	}
}

func (s *Simulator) newUnit(id string, kind archetype, pos vec.Vec3Float, attacker bool) *unit {
	return &unit{id: id, kind: kind, pos: pos, health: kind.Health, attacker: attacker, alive: true}
}

// spawnWave выводит очередную волну атакующих с западного края
func (s *Simulator) spawnWave() {
	s.waves++
	for i := 0; i < s.cfg.WaveSize; i++ {
		kind := attackerRoster[i%len(attackerRoster)]
		z := s.cfg.ArenaSize * s.noise.Sample2D(float64(s.waves)*1.3, float64(i)*0.71)
		u := s.newUnit(fmt.Sprintf("a%d-%d", s.waves, i+1), kind, vec.Vec3Float{X: 0, Z: z}, true)
		s.units = append(s.units, u)
		s.rec.RecordSpawn(u.snapshot())
	}
}

func (s *Simulator) step() {
	if s.waves < s.cfg.Waves && s.t >= s.nextWave {
		s.spawnWave()
		s.nextWave = s.t + s.cfg.WaveInterval
	}

	for idx, u := range s.units {
		if !u.alive {
			continue
		}
		u.cooldown -= s.cfg.Step
		u.ability -= s.cfg.Step
		u.looted -= s.cfg.Step
		if u.attacker {
			s.actAttacker(idx, u)
		} else {
			s.actDefender(idx, u)
		}
	}
	for _, b := range s.buildings {
		if b.alive && b.tower {
			s.actTower(b)
		}
	}

	snaps := make([]battle.UnitSnapshot, 0, len(s.units))
	for _, u := range s.units {
		if u.alive {
			snaps = append(snaps, u.snapshot())
		}
	}
	s.rec.SamplePositions(snaps)
}

// roll урон с разбросом по шуму; крит удваивает удар
func (s *Simulator) roll(idx int, base float64) (float64, string) {
	dmg := base * (0.75 + 0.5*s.noise.Sample2D(float64(idx)*0.13, s.t*0.21))
	if s.rng.Float64() < s.cfg.CriticalRatio {
		return math.Round(dmg*2*10) / 10, "Critical"
	}
	return math.Round(dmg*10) / 10, ""
}

func (s *Simulator) actAttacker(idx int, u *unit) {
	// Особая способность бьёт по ближайшему зданию с двойным уроном
	if u.kind.Ability != "" && u.ability <= 0 {
		if b := s.nearestBuilding(u.pos); b != nil && u.pos.DistanceTo(b.snap.Position) <= u.kind.Range*1.5 {
			u.ability = 15
			s.rec.RecordAbility(u.id, u.kind.Ability, u.pos, true)
			s.damageBuilding(b, u, u.kind.Damage*2)
			return
		}
	}

	if enemy := s.nearestUnit(u.pos, false, 12); enemy != nil {
		s.engage(idx, u, enemy)
		return
	}

	b := s.nearestBuilding(u.pos)
	if b == nil {
		return
	}
	dist := u.pos.DistanceTo(b.snap.Position)
	if dist > u.kind.Range+2 {
		s.advance(idx, u, b.snap.Position)
		return
	}
	if b == s.buildings[0] && u.looted <= 0 {
		u.looted = 5
		s.rec.RecordResourceCaptured(u.id, 25, u.pos, true)
	}
	if u.cooldown <= 0 {
		u.cooldown = u.kind.Cooldown
		dmg, _ := s.roll(idx, u.kind.Damage)
		s.damageBuilding(b, u, dmg)
	}
}

func (s *Simulator) actDefender(idx int, u *unit) {
	if enemy := s.nearestUnit(u.pos, true, 25); enemy != nil {
		s.engage(idx, u, enemy)
		return
	}
	// без целей защитник возвращается к ратуше
	home := s.buildings[0].snap.Position
	if u.pos.DistanceTo(home) > 10 {
		s.advance(idx, u, home)
	}
}

// engage сближается с противником или бьёт его
func (s *Simulator) engage(idx int, u, enemy *unit) {
	if u.pos.DistanceTo(enemy.pos) > u.kind.Range {
		s.advance(idx, u, enemy.pos)
		return
	}
	if u.cooldown > 0 {
		return
	}
	u.cooldown = u.kind.Cooldown
	dmg, ability := s.roll(idx, u.kind.Damage)
	s.rec.RecordAttack(u.id, enemy.id, dmg, ability, enemy.pos, u.attacker)
	s.hitUnit(enemy, u.id, dmg)
}

// advance сдвигает юнит к цели с боковым отклонением по шуму
func (s *Simulator) advance(idx int, u *unit, target vec.Vec3Float) {
	next := moveToward(u.pos, target, u.kind.Speed*s.cfg.Step)
	sway := 0.3 * s.noise.Signed(float64(idx)*0.29, s.t*0.17)
	next.X += sway * s.cfg.Step
	next.Z -= sway * s.cfg.Step
	u.pos = next
}

func (s *Simulator) actTower(b *building) {
	b.cooldown -= s.cfg.Step
	if b.cooldown > 0 {
		return
	}
	target := s.nearestUnit(b.snap.Position, true, b.rng)
	if target == nil {
		return
	}
	b.cooldown = 1.5
	s.rec.RecordDefenseFired(b.snap.ID, target.id, b.damage, target.pos)
	s.hitUnit(target, b.snap.ID, b.damage)
}

func (s *Simulator) hitUnit(u *unit, killerID string, dmg float64) {
	u.health -= dmg
	if u.health <= 0 && u.alive {
		u.alive = false
		s.rec.RecordDeath(u.id, killerID, u.kind.Type, u.pos, u.attacker)
	}
}

func (s *Simulator) damageBuilding(b *building, by *unit, dmg float64) {
	if !b.alive {
		return
	}
	dmg = min(dmg, b.health)
	b.health -= dmg
	s.rec.RecordBuildingDamage(b.snap.ID, by.id, dmg, b.snap.Position)
	if b.health <= 0 {
		b.alive = false
		s.rec.RecordBuildingDestroyed(b.snap.ID, b.snap.Type, by.id, b.snap.Position)
	}
}

// nearestUnit ближайший живой юнит стороны attacker в радиусе within
func (s *Simulator) nearestUnit(from vec.Vec3Float, attacker bool, within float64) *unit {
	var best *unit
	bestDist := within
	for _, u := range s.units {
		if !u.alive || u.attacker != attacker {
			continue
		}
		if d := from.DistanceTo(u.pos); d <= bestDist {
			best, bestDist = u, d
		}
	}
	return best
}

// nearestBuilding ближайшее целое здание; башни в приоритете перед ратушей
func (s *Simulator) nearestBuilding(from vec.Vec3Float) *building {
	var best *building
	bestDist := math.Inf(1)
	for _, b := range s.buildings[1:] {
		if !b.alive {
			continue
		}
		if d := from.DistanceTo(b.snap.Position); d < bestDist {
			best, bestDist = b, d
		}
	}
	if best == nil && s.buildings[0].alive {
		return s.buildings[0]
	}
	return best
}

func (s *Simulator) aliveCount(attacker bool) int {
	n := 0
	for _, u := range s.units {
		if u.alive && u.attacker == attacker {
			n++
		}
	}
	return n
}
