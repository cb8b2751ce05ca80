package recording

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/vec"
)

// fakeClock управляемые часы
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func (c *fakeClock) AdvanceSeconds(s float64) {
	c.Advance(time.Duration(s * float64(time.Second)))
}

func (c *fakeClock) Rewind(d time.Duration) {
	c.now = c.now.Add(-d)
}

type recordingObserver struct {
	started   []SessionHandle
	events    []battle.BattleEvent
	finalized []*battle.Session
}

func (o *recordingObserver) OnSessionStarted(h SessionHandle) {
	o.started = append(o.started, h)
}

func (o *recordingObserver) OnEventRecorded(ev battle.BattleEvent) {
	o.events = append(o.events, ev)
}

func (o *recordingObserver) OnSessionFinalized(s *battle.Session) {
	o.finalized = append(o.finalized, s)
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager(cfg, opts...), clock
}

func p(x, z float64) vec.Vec3Float { return vec.Vec3Float{X: x, Z: z} }

func TestStartStopLifecycle(t *testing.T) {
	obs := &recordingObserver{}
	m, clock := newTestManager(t, DefaultConfig(), WithObserver(obs))

	buildings := []battle.BuildingSnapshot{{ID: "hq", Type: "TownHall", Health: 500, MaxHealth: 500}}
	h, err := m.Start(StartOptions{TerritoryID: "t1", AttackerID: "a", DefenderID: "d", Buildings: buildings})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.True(t, m.Recording())

	// снимок зданий копируется
	buildings[0].Health = 1

	_, err = m.Start(StartOptions{})
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	clock.AdvanceSeconds(1.5)
	m.RecordSpawn(battle.UnitSnapshot{ID: "u1", Type: "Knight", Health: 80, IsAttackerSide: true})
	clock.AdvanceSeconds(2)
	m.RecordBuildingDamage("hq", "u1", 120, p(1, 1))

	clock.AdvanceSeconds(1)
	s, err := m.Stop(true)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.False(t, m.Recording())

	assert.True(t, s.Finalized())
	assert.Equal(t, h.ID, s.ID)
	assert.Equal(t, 500.0, s.InitialBuildings[0].Health)
	assert.InDelta(t, 4.5, s.Duration, 1e-9)
	assert.True(t, s.AttackerWon)

	require.Len(t, s.Events, 4)
	assert.Equal(t, battle.EventBattleStarted, s.Events[0].Type)
	assert.Equal(t, 0.0, s.Events[0].Timestamp)
	assert.InDelta(t, 1.5, s.Events[1].Timestamp, 1e-9)
	assert.InDelta(t, 3.5, s.Events[2].Timestamp, 1e-9)
	last := s.Events[3]
	assert.Equal(t, battle.EventBattleEnded, last.Type)
	assert.Equal(t, 1.0, last.Value)
	assert.Equal(t, s.Duration, last.Timestamp)

	assert.Equal(t, 120.0, s.Stats.Attacker.DamageDealt)
	assert.Equal(t, 1, s.Stats.Attacker.UnitsDeployed)
	require.NotEmpty(t, s.Highlights)
	assert.Equal(t, battle.HighlightBattleOutcome, s.Highlights[0].Type)

	assert.Equal(t, []SessionHandle{h}, obs.started)
	assert.Len(t, obs.events, 4)
	require.Len(t, obs.finalized, 1)
	assert.Same(t, s, obs.finalized[0])
}

func TestStopAndCancelWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	s, err := m.Stop(false)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.ErrorIs(t, m.Cancel(), ErrNotRecording)

	// без записи события игнорируются
	m.RecordAttack("a", "b", 10, "", p(0, 0), true)
	assert.Equal(t, LiveStats{}, m.LiveStats())
}

func TestCancelDiscardsSession(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(t, DefaultConfig(), WithObserver(obs))

	_, err := m.Start(StartOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Cancel())
	assert.False(t, m.Recording())
	assert.Empty(t, obs.finalized)

	// после отмены можно начать заново
	_, err = m.Start(StartOptions{})
	require.NoError(t, err)
}

func TestTimestampsNeverDecrease(t *testing.T) {
	m, clock := newTestManager(t, DefaultConfig())
	_, err := m.Start(StartOptions{})
	require.NoError(t, err)

	clock.AdvanceSeconds(3)
	m.RecordAbility("u1", "Fireball", p(0, 0), true)
	clock.Rewind(2 * time.Second)
	m.RecordAbility("u1", "Fireball", p(0, 0), true)

	s, err := m.Stop(false)
	require.NoError(t, err)
	for i := 1; i < len(s.Events); i++ {
		assert.GreaterOrEqual(t, s.Events[i].Timestamp, s.Events[i-1].Timestamp, "событие %d", i)
	}
	assert.Equal(t, 3.0, s.Events[2].Timestamp)
	assert.Equal(t, 0.0, s.Events[len(s.Events)-1].Value)
}

func TestCapacityBound(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	cfg := DefaultConfig()
	cfg.MaxEvents = 5
	m, _ := newTestManager(t, cfg, WithMetrics(metrics))

	_, err := m.Start(StartOptions{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		m.RecordResourceCaptured("u1", 10, p(0, 0), true)
	}
	live := m.LiveStats()
	assert.Equal(t, 5, live.Events)
	assert.Equal(t, 6, live.Dropped)

	s, err := m.Stop(true)
	require.NoError(t, err)
	require.Len(t, s.Events, 6)
	assert.Equal(t, battle.EventBattleEnded, s.Events[5].Type)
	assert.Equal(t, 40.0, s.Stats.Attacker.ResourcesCaptured)

	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.eventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sessions.WithLabelValues("finalized")))
}

func TestInvalidKindsDropped(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	_, err := m.Start(StartOptions{})
	require.NoError(t, err)

	m.RecordEvent(battle.BattleEvent{Type: battle.EventUnknown})
	m.RecordEvent(battle.BattleEvent{Type: battle.EventBattleEnded})
	m.RecordEvent(battle.BattleEvent{Type: battle.EventBattleStarted})
	assert.Equal(t, 1, m.LiveStats().Events)
}

func TestLiveStats(t *testing.T) {
	m, clock := newTestManager(t, DefaultConfig())
	_, err := m.Start(StartOptions{})
	require.NoError(t, err)

	m.RecordAttack("u1", "d1", 25, "", p(0, 0), true)
	m.RecordDefenseFired("tower", "u1", 15, p(0, 0))
	m.RecordBuildingDamage("hq", "u1", 5, p(0, 0))
	for i := 0; i < 3; i++ {
		clock.AdvanceSeconds(0.5)
		m.RecordDeath("d"+string(rune('1'+i)), "u1", "Archer", p(0, 0), false)
	}

	live := m.LiveStats()
	assert.Equal(t, 30.0, live.AttackerDamage)
	assert.Equal(t, 15.0, live.DefenderDamage)
	assert.Equal(t, 3, live.KillStreak)
	assert.InDelta(t, 1.5, live.Elapsed, 1e-9)

	s, err := m.Stop(true)
	require.NoError(t, err)
	kinds := make(map[battle.HighlightKind]int)
	for _, h := range s.Highlights {
		kinds[h.Type]++
	}
	assert.Equal(t, 1, kinds[battle.HighlightMultiKill])
	assert.Equal(t, 3, s.Stats.Defender.UnitsLost)
}

func TestSamplePositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MoveThreshold = 1
	m, _ := newTestManager(t, cfg)
	_, err := m.Start(StartOptions{})
	require.NoError(t, err)

	unit := battle.UnitSnapshot{ID: "u1", Type: "Knight", Health: 50, IsAttackerSide: true}
	m.RecordSpawn(unit)

	unit.Position = p(0.4, 0)
	m.SamplePositions([]battle.UnitSnapshot{unit})
	unit.Position = p(0.8, 0)
	m.SamplePositions([]battle.UnitSnapshot{unit})
	// ровно на пороге: ещё не движение
	unit.Position = p(1.0, 0)
	m.SamplePositions([]battle.UnitSnapshot{unit})
	// дрейф считается от последней записанной позиции
	unit.Position = p(1.5, 0)
	m.SamplePositions([]battle.UnitSnapshot{unit})
	unit.Position = p(2.0, 0)
	m.SamplePositions([]battle.UnitSnapshot{unit})

	last, ok := m.LastKnownPosition("u1")
	require.True(t, ok)
	assert.Equal(t, p(1.5, 0), last)

	s, err := m.Stop(true)
	require.NoError(t, err)
	moves := 0
	for _, ev := range s.Events {
		if ev.Type == battle.EventUnitMoved {
			moves++
			assert.Equal(t, "Knight", ev.UnitType)
		}
	}
	assert.Equal(t, 1, moves)
}

func TestSamplerForgetsDeadUnits(t *testing.T) {
	sampler := NewPositionSampler(2)
	assert.False(t, sampler.ShouldSample("u1", p(0, 0)), "неизвестный юнит")
	sampler.Mark("u1", p(0, 0))
	assert.False(t, sampler.ShouldSample("u1", p(0, 0)))
	assert.False(t, sampler.ShouldSample("u1", p(1, 1)))
	assert.False(t, sampler.ShouldSample("u1", p(2, 0)))
	assert.True(t, sampler.ShouldSample("u1", p(2.1, 0)))

	sampler.Forget("u1")
	_, ok := sampler.Last("u1")
	assert.False(t, ok)
	assert.False(t, sampler.ShouldSample("u1", p(5, 0)))
}

func TestStationaryAndDeadUnitsNotSampled(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	_, err := m.Start(StartOptions{})
	require.NoError(t, err)

	unit := battle.UnitSnapshot{ID: "u1", Type: "Knight", Health: 50, IsAttackerSide: true}
	ghost := battle.UnitSnapshot{ID: "ghost", Type: "Archer", Position: p(3, 3)}
	m.RecordSpawn(unit)
	for i := 0; i < 10; i++ {
		m.SamplePositions([]battle.UnitSnapshot{unit, ghost})
	}
	m.RecordDeath("u1", "tower", unit.Type, unit.Position, true)
	unit.Position = p(10, 10)
	m.SamplePositions([]battle.UnitSnapshot{unit})

	s, err := m.Stop(true)
	require.NoError(t, err)
	for _, ev := range s.Events {
		assert.NotEqual(t, battle.EventUnitMoved, ev.Type, "ts=%.2f unit=%s", ev.Timestamp, ev.UnitID)
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, 10000, m.cfg.MaxEvents)
	assert.Equal(t, DefaultConfig().MoveThreshold, m.cfg.MoveThreshold)
}

func TestObserverFuncs(t *testing.T) {
	var got []battle.EventKind
	var done bool
	m, _ := newTestManager(t, DefaultConfig(), WithObserver(ObserverFuncs{
		EventRecorded:    func(ev battle.BattleEvent) { got = append(got, ev.Type) },
		SessionFinalized: func(*battle.Session) { done = true },
	}))
	_, err := m.Start(StartOptions{})
	require.NoError(t, err)
	m.RecordAbility("u1", "Meteor", p(0, 0), true)
	_, err = m.Stop(false)
	require.NoError(t, err)

	assert.Equal(t, []battle.EventKind{battle.EventBattleStarted, battle.EventSpecialAbilityUsed, battle.EventBattleEnded}, got)
	assert.True(t, done)
}
