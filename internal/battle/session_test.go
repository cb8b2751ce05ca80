package battle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKindRoundTrip(t *testing.T) {
	kinds := AllEventKinds()
	require.Len(t, kinds, 11)

	for _, k := range kinds {
		parsed, ok := ParseEventKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, parsed)
		assert.True(t, k.Valid())
	}

	_, ok := ParseEventKind("Teleported")
	assert.False(t, ok)
	assert.False(t, EventUnknown.Valid())
}

func TestSessionValidate(t *testing.T) {
	s := &Session{Events: []BattleEvent{
		{Type: EventBattleStarted, Timestamp: 0},
		{Type: EventUnitSpawned, Timestamp: 1},
		{Type: EventUnitMoved, Timestamp: 1},
	}}
	assert.NoError(t, s.Validate())

	s.Events = append(s.Events, BattleEvent{Type: EventUnitDied, Timestamp: 0.5})
	assert.Error(t, s.Validate())

	s.Events = []BattleEvent{{Type: EventUnknown}}
	assert.Error(t, s.Validate())
}

func TestEventsBetween(t *testing.T) {
	s := &Session{Events: []BattleEvent{
		{Type: EventBattleStarted, Timestamp: 0},
		{Type: EventUnitSpawned, Timestamp: 1, UnitID: "a"},
		{Type: EventUnitMoved, Timestamp: 2, UnitID: "a"},
		{Type: EventUnitMoved, Timestamp: 2, UnitID: "b"},
		{Type: EventUnitDied, Timestamp: 3, UnitID: "a"},
	}}

	got := s.EventsBetween(1, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].UnitID)
	assert.Equal(t, "b", got[1].UnitID)

	assert.Empty(t, s.EventsBetween(2, 2))
	assert.Len(t, s.EventsBetween(-1, 10), 5)
	assert.Equal(t, 4, s.FirstEventAfter(2))
}

func TestComputeStats(t *testing.T) {
	events := []BattleEvent{
		{Type: EventBattleStarted},
		{Type: EventUnitSpawned, IsAttackerSide: true},
		{Type: EventUnitSpawned, IsAttackerSide: true},
		{Type: EventUnitSpawned, IsAttackerSide: false},
		{Type: EventUnitAttacked, Value: 30, IsAttackerSide: true},
		{Type: EventBuildingDamaged, Value: 70, IsAttackerSide: true},
		{Type: EventDefenseFired, Value: 20, IsAttackerSide: false},
		{Type: EventUnitDied, IsAttackerSide: true},
		{Type: EventBuildingDestroyed, IsAttackerSide: true},
		{Type: EventSpecialAbilityUsed, IsAttackerSide: false},
		{Type: EventResourceCaptured, Value: 250, IsAttackerSide: true},
		{Type: EventBattleEnded, Value: 1},
	}

	st := ComputeStats(events, 10)
	assert.Equal(t, 12, st.TotalEvents)
	assert.Equal(t, 100.0, st.Attacker.DamageDealt)
	assert.Equal(t, 10.0, st.Attacker.DPS)
	assert.Equal(t, 20.0, st.Defender.DamageDealt)
	assert.Equal(t, 2.0, st.Defender.DPS)
	assert.Equal(t, 2, st.Attacker.UnitsDeployed)
	assert.Equal(t, 1, st.Defender.UnitsDeployed)
	assert.Equal(t, 1, st.Attacker.UnitsLost)
	assert.Equal(t, 1, st.BuildingsDestroyed)
	assert.Equal(t, 1, st.Defender.AbilitiesUsed)
	assert.Equal(t, 250.0, st.Attacker.ResourcesCaptured)

	zero := ComputeStats(events, 0)
	assert.Zero(t, zero.Attacker.DPS)
}

func TestTopHighlights(t *testing.T) {
	s := &Session{Highlights: []HighlightMoment{
		{Importance: 5}, {Importance: 4}, {Importance: 3},
	}}
	assert.Len(t, s.TopHighlights(2), 2)
	assert.Len(t, s.TopHighlights(10), 3)
	assert.Empty(t, s.TopHighlights(0))
	assert.Equal(t, 5, s.TopHighlights(1)[0].Importance)
}

func TestBattlefieldStateClone(t *testing.T) {
	st := NewBattlefieldState()
	st.ActiveUnits["u1"] = UnitState{Health: 10}
	st.ActiveBuildings["b1"] = BuildingState{Health: 100}

	cp := st.Clone()
	cp.ActiveUnits["u1"] = UnitState{Health: 1}
	delete(cp.ActiveBuildings, "b1")

	assert.Equal(t, 10.0, st.ActiveUnits["u1"].Health)
	assert.Contains(t, st.ActiveBuildings, "b1")
}
