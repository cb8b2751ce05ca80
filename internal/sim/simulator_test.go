package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/reconstruct"
	"github.com/annel0/battle-replay/internal/recording"
)

func runSim(t *testing.T, cfg Config, opts ...recording.Option) *battle.Session {
	t.Helper()
	s, err := NewSimulator(cfg, opts...).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestNoiseRange(t *testing.T) {
	n := NewNoise(42)
	for i := 0; i < 200; i++ {
		v := n.Sample2D(float64(i)*0.31, float64(i)*0.17)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		sv := n.Signed(float64(i)*0.31, 1)
		assert.GreaterOrEqual(t, sv, -1.0)
		assert.LessOrEqual(t, sv, 1.0)
	}
	assert.Equal(t, n.Sample2D(1.5, 2.5), NewNoise(42).Sample2D(1.5, 2.5))
}

func TestSimulationProducesValidSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionID = "sim-1"
	s := runSim(t, cfg)

	assert.True(t, s.Finalized())
	require.NoError(t, s.Validate())
	assert.Equal(t, "sim-1", s.ID)
	assert.Len(t, s.InitialBuildings, 1+cfg.Towers)

	require.NotEmpty(t, s.Events)
	assert.Equal(t, battle.EventBattleStarted, s.Events[0].Type)
	last := s.Events[len(s.Events)-1]
	assert.Equal(t, battle.EventBattleEnded, last.Type)
	assert.Equal(t, s.Duration, last.Timestamp)
	assert.LessOrEqual(t, s.Duration, cfg.MaxDuration+cfg.Step)

	spawned := map[string]bool{}
	kinds := map[battle.EventKind]int{}
	for _, ev := range s.Events {
		kinds[ev.Type]++
		switch ev.Type {
		case battle.EventUnitSpawned:
			spawned[ev.UnitID] = true
		case battle.EventUnitDied, battle.EventUnitMoved:
			assert.True(t, spawned[ev.UnitID], "%s до спавна %s", ev.Type, ev.UnitID)
		}
	}
	assert.Equal(t, cfg.Defenders+cfg.Waves*cfg.WaveSize, kinds[battle.EventUnitSpawned])
	assert.Positive(t, kinds[battle.EventUnitMoved])
	assert.Positive(t, kinds[battle.EventUnitAttacked]+kinds[battle.EventBuildingDamaged])
	assert.Equal(t, kinds[battle.EventUnitSpawned], s.Stats.Attacker.UnitsDeployed+s.Stats.Defender.UnitsDeployed)
	require.NotEmpty(t, s.Highlights)

	final := reconstruct.Reconstruct(s, s.Duration)
	_, hqStanding := final.ActiveBuildings["hq"]
	assert.Equal(t, !s.AttackerWon, hqStanding)
}

func TestSimulationDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.SessionID = "same"
	a := runSim(t, cfg)
	b := runSim(t, cfg)
	assert.Equal(t, a.Events, b.Events)
	assert.Equal(t, a.Highlights, b.Highlights)

	cfg.Seed = 8
	c := runSim(t, cfg)
	assert.NotEqual(t, a.Events, c.Events)
}

func TestSimulationOverwhelmingAttack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Waves = 4
	cfg.WaveSize = 12
	cfg.Defenders = 0
	cfg.Towers = 0
	s := runSim(t, cfg)
	assert.True(t, s.AttackerWon)
	assert.Equal(t, 1, s.Stats.BuildingsDestroyed)
	assert.Positive(t, s.Stats.Attacker.ResourcesCaptured)
}

func TestSimulationNoAttackers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Waves = 0
	s := runSim(t, cfg)
	assert.False(t, s.AttackerWon)
	assert.Equal(t, 0, s.Stats.Attacker.UnitsDeployed)
}

func TestSimulationObserverAndCancel(t *testing.T) {
	var events int
	obs := recording.ObserverFuncs{EventRecorded: func(battle.BattleEvent) { events++ }}
	s := runSim(t, DefaultConfig(), recording.WithObserver(obs))
	assert.Equal(t, len(s.Events), events)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim := NewSimulator(DefaultConfig())
	_, err := sim.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sim.Recorder().Recording())
}
