package reconstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/vec"
)

func pos(x, y, z float64) vec.Vec3Float { return vec.Vec3Float{X: x, Y: y, Z: z} }

// testSession собирает небольшую, но насыщенную сессию
func testSession() *battle.Session {
	s := &battle.Session{
		ID:       "s1",
		Duration: 10,
		InitialBuildings: []battle.BuildingSnapshot{
			{ID: "hq", Type: "TownHall", Position: pos(50, 0, 50), Health: 100, MaxHealth: 100},
			{ID: "tower", Type: "Tower", Position: pos(20, 0, 20), Health: 60, MaxHealth: 60},
		},
		Events: []battle.BattleEvent{
			{Type: battle.EventBattleStarted, Timestamp: 0},
			{Type: battle.EventUnitSpawned, Timestamp: 0, UnitID: "u1", UnitType: "Knight", Position: pos(0, 0, 0), Value: 80, IsAttackerSide: true},
			{Type: battle.EventUnitMoved, Timestamp: 2, UnitID: "u1", Position: pos(10, 0, 0)},
			{Type: battle.EventBuildingDamaged, Timestamp: 2, TargetID: "hq", SourceID: "u1", Value: 50, IsAttackerSide: true},
			{Type: battle.EventUnitSpawned, Timestamp: 3, UnitID: "d1", UnitType: "Archer", Position: pos(30, 0, 30), Value: 40},
			{Type: battle.EventUnitAttacked, Timestamp: 4, SourceID: "d1", TargetID: "u1", Value: 30},
			{Type: battle.EventUnitMoved, Timestamp: 5, UnitID: "u1", Position: pos(10, 0, 10)},
			{Type: battle.EventBuildingDamaged, Timestamp: 6, TargetID: "tower", Value: 100, IsAttackerSide: true},
			{Type: battle.EventBuildingDestroyed, Timestamp: 6, TargetID: "tower", IsAttackerSide: true},
			{Type: battle.EventBuildingDamaged, Timestamp: 7, TargetID: "tower", Value: 10, IsAttackerSide: true},
			{Type: battle.EventResourceCaptured, Timestamp: 7, UnitID: "u1", Value: 300, IsAttackerSide: true},
			{Type: battle.EventUnitDied, Timestamp: 8, UnitID: "d1", SourceID: "u1"},
			{Type: battle.EventUnitAttacked, Timestamp: 9, TargetID: "d1", Value: 5},
			{Type: battle.EventBattleEnded, Timestamp: 10, Value: 1},
		},
	}
	s.Freeze()
	return s
}

func TestInterpolation(t *testing.T) {
	s := &battle.Session{Duration: 2, Events: []battle.BattleEvent{
		{Type: battle.EventUnitSpawned, Timestamp: 0, UnitID: "unit", Position: pos(0, 0, 0)},
		{Type: battle.EventUnitMoved, Timestamp: 2, UnitID: "unit", Position: pos(10, 0, 0)},
	}}

	st := Reconstruct(s, 1)
	require.Contains(t, st.ActiveUnits, "unit")
	assert.Equal(t, pos(5, 0, 0), st.ActiveUnits["unit"].Position)
}

func TestDamageFold(t *testing.T) {
	s := &battle.Session{
		Duration:         5,
		InitialBuildings: []battle.BuildingSnapshot{{ID: "b", Health: 100, MaxHealth: 100}},
		Events: []battle.BattleEvent{
			{Type: battle.EventBuildingDamaged, Timestamp: 2.0, TargetID: "b", Value: 50},
		},
	}

	assert.Equal(t, 50.0, Reconstruct(s, 2.0).ActiveBuildings["b"].Health)
	assert.Equal(t, 100.0, Reconstruct(s, 1.999).ActiveBuildings["b"].Health)
}

func TestBoundaryAtZero(t *testing.T) {
	s := testSession()

	for _, ts := range []float64{0, -3} {
		st := Reconstruct(s, ts)
		assert.Empty(t, st.ActiveUnits)
		require.Len(t, st.ActiveBuildings, len(s.InitialBuildings))
		for _, b := range s.InitialBuildings {
			assert.Equal(t, b.Health, st.ActiveBuildings[b.ID].Health)
			assert.Equal(t, b.Position, st.ActiveBuildings[b.ID].Position)
		}
	}
}

func TestBoundaryAtDuration(t *testing.T) {
	s := testSession()

	full := NewEngine(s).NewFolder()
	for _, ev := range s.Events {
		full.Apply(ev)
	}
	full.clock = s.Duration

	assert.Equal(t, full.State(), Reconstruct(s, s.Duration))

	beyond := Reconstruct(s, 100)
	assert.Equal(t, full.State().ActiveUnits, beyond.ActiveUnits)
	assert.Equal(t, full.State().ActiveBuildings, beyond.ActiveBuildings)
}

func TestZeroDurationSessionAtEnd(t *testing.T) {
	s := &battle.Session{
		ID: "instant",
		InitialBuildings: []battle.BuildingSnapshot{
			{ID: "hq", Health: 100, MaxHealth: 100},
		},
		Events: []battle.BattleEvent{
			{Type: battle.EventBattleStarted},
			{Type: battle.EventUnitSpawned, UnitID: "u1", Position: pos(1, 0, 1), Value: 10, IsAttackerSide: true},
			{Type: battle.EventBattleEnded},
		},
	}
	s.Freeze()

	st := Reconstruct(s, s.Duration)
	require.Contains(t, st.ActiveUnits, "u1")
	assert.Equal(t, pos(1, 0, 1), st.ActiveUnits["u1"].Position)
	assert.Empty(t, Reconstruct(s, -1).ActiveUnits)

	f := NewEngine(s).NewFolder()
	assert.Len(t, f.AdvanceTo(0), 3)
	assert.Empty(t, f.AdvanceTo(0))
}

func TestDeterminism(t *testing.T) {
	s := testSession()
	for _, ts := range []float64{0.5, 2, 3.3, 6, 7.25, 10} {
		assert.Equal(t, Reconstruct(s, ts), Reconstruct(s, ts), "t=%v", ts)
	}
}

func TestIdempotentComposability(t *testing.T) {
	s := testSession()
	engine := NewEngine(s)
	times := []float64{0, 0.5, 2, 2.5, 4, 6, 6.5, 8, 9.9, 10}

	for i, t1 := range times {
		for _, t2 := range times[i:] {
			f := engine.NewFolder()
			f.AdvanceTo(t1)
			f.AdvanceTo(t2)
			assert.Equal(t, engine.At(t2), f.State(), "t1=%v t2=%v", t1, t2)
		}
	}
}

func TestFoldEffects(t *testing.T) {
	s := testSession()

	st := Reconstruct(s, 4)
	assert.Equal(t, 50.0, st.ActiveUnits["u1"].Health)
	assert.Equal(t, 80.0, st.ActiveUnits["u1"].MaxHealth)
	assert.True(t, st.ActiveUnits["u1"].IsAttackerSide)
	assert.Equal(t, "Archer", st.ActiveUnits["d1"].UnitType)
	assert.Equal(t, 50.0, st.ActiveBuildings["hq"].Health)

	st = Reconstruct(s, 6)
	assert.NotContains(t, st.ActiveBuildings, "tower")

	// урон по уже разрушенному зданию и удар по мёртвому юниту игнорируются
	st = Reconstruct(s, 9.5)
	assert.NotContains(t, st.ActiveBuildings, "tower")
	assert.NotContains(t, st.ActiveUnits, "d1")
	assert.Equal(t, 300.0, st.AttackerResources)
	assert.Zero(t, st.DefenderResources)
}

func TestHoldLastPositionWithoutNextSample(t *testing.T) {
	s := testSession()
	st := Reconstruct(s, 7)
	assert.Equal(t, pos(10, 0, 10), st.ActiveUnits["u1"].Position)
	assert.Equal(t, pos(30, 0, 30), st.ActiveUnits["d1"].Position)
}

func TestInterpolationBetweenLaterSamples(t *testing.T) {
	s := testSession()
	st := Reconstruct(s, 3.5)
	assert.True(t, st.ActiveUnits["u1"].Position.ApproxEquals(pos(10, 0, 5), 1e-9))
}

func TestNoInterpolationAcrossDeath(t *testing.T) {
	s := &battle.Session{Duration: 10, Events: []battle.BattleEvent{
		{Type: battle.EventUnitSpawned, Timestamp: 1, UnitID: "u", Position: pos(0, 0, 0), Value: 10},
		{Type: battle.EventUnitDied, Timestamp: 4, UnitID: "u"},
		{Type: battle.EventUnitSpawned, Timestamp: 6, UnitID: "u", Position: pos(100, 0, 0), Value: 10},
		{Type: battle.EventUnitMoved, Timestamp: 8, UnitID: "u", Position: pos(100, 0, 20)},
	}}

	assert.Equal(t, pos(0, 0, 0), Reconstruct(s, 3).ActiveUnits["u"].Position)
	assert.NotContains(t, Reconstruct(s, 5).ActiveUnits, "u")
	assert.Equal(t, pos(100, 0, 10), Reconstruct(s, 7).ActiveUnits["u"].Position)
}

func TestAdvanceToReturnsAppliedEventsOnce(t *testing.T) {
	s := testSession()
	f := NewEngine(s).NewFolder()

	seen := 0
	for _, ts := range []float64{0, 1, 2, 2, 5.5, 10, 12} {
		seen += len(f.AdvanceTo(ts))
	}
	assert.Equal(t, len(s.Events), seen)
	assert.Equal(t, len(s.Events), f.Cursor())
}
