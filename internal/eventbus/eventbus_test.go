package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/playback"
	"github.com/annel0/battle-replay/internal/recording"
	"github.com/annel0/battle-replay/internal/vec"
)

// collector собирает доставленные конверты
type collector struct {
	mu   sync.Mutex
	envs []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.envs = append(c.envs, ev)
	c.mu.Unlock()
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.envs))
	for i, ev := range c.envs {
		out[i] = ev.EventType
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func mustEnvelope(t *testing.T, typ string, prio int) *Envelope {
	t.Helper()
	env, err := NewEnvelope(typ, "test", prio, map[string]int{"n": 1})
	require.NoError(t, err)
	return env
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("BattleEvent", "svc", 3, SessionStartedPayload{SessionID: "s1"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, time.UTC, env.Timestamp.Location())

	var payload SessionStartedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "s1", payload.SessionID)

	_, err = NewEnvelope("Bad", "svc", 0, make(chan int))
	assert.Error(t, err)
}

func TestMemoryBusDeliversInOrderWithFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	all := &collector{}
	only := &collector{}
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{"B"}}, only.handle)
	require.NoError(t, err)

	for _, typ := range []string{"A", "B", "C", "B"} {
		require.NoError(t, bus.Publish(ctx, mustEnvelope(t, typ, 5)))
	}

	require.Eventually(t, func() bool { return all.len() == 4 && only.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C", "B"}, all.types())
	assert.Equal(t, []string{"B", "B"}, only.types())

	stats := bus.Metrics()
	assert.Equal(t, uint64(4), stats.Published)
	assert.Equal(t, uint64(6), stats.Consumed)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()
	ctx := context.Background()

	c := &collector{}
	sub, err := bus.Subscribe(ctx, Filter{}, c.handle)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, "A", 5)))
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, "A", 5)))
	require.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	_, err := bus.Subscribe(ctx, Filter{}, func(context.Context, *Envelope) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})
	require.NoError(t, err)

	// первый конверт занимает обработчик, второй: буфер
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, "A", 5)))
	<-entered
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, "A", 5)))

	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, "low", 1)))
	assert.Equal(t, uint64(1), bus.Metrics().Dropped)

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(tctx, mustEnvelope(t, "high", 9)), context.DeadlineExceeded)

	close(release)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), mustEnvelope(t, "A", 5)), ErrBusClosed)
	_, err := bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	exp := NewMetricsExporter(bus, reg)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, "A", 5)))
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, "A", 5)))

	exp.collect()
	assert.Equal(t, 2.0, testutil.ToFloat64(exp.published))
	exp.collect()
	assert.Equal(t, 2.0, testutil.ToFloat64(exp.published), "повторный сбор добавляет только приращение")

	exp.Start(time.Millisecond)
	exp.Stop()
	exp.Stop()
}

// jsonEncoder кодирует событие стандартным json
type jsonEncoder struct{}

func (jsonEncoder) EncodeEvent(ev battle.BattleEvent) ([]byte, error) {
	return json.Marshal(map[string]any{"type": ev.Type.String(), "timestamp": ev.Timestamp})
}

func TestReplayPublisherRecording(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()
	c := &collector{}
	_, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)

	pub := NewReplayPublisher(bus, jsonEncoder{}, WithSource("node-1"))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := recording.NewManager(recording.DefaultConfig(),
		recording.WithObserver(pub),
		recording.WithClock(func() time.Time { return now }))

	h, err := m.Start(recording.StartOptions{SessionID: "battle-7"})
	require.NoError(t, err)
	m.RecordAbility("u1", "Meteor", vec.Vec3Float{}, true)
	_, err = m.Stop(true)
	require.NoError(t, err)
	pub.Close()

	want := []string{TypeSessionStarted, TypeBattleEvent, TypeBattleEvent, TypeBattleEvent, TypeSessionFinalized}
	require.Eventually(t, func() bool { return c.len() == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, c.types())

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range c.envs {
		assert.Equal(t, "node-1", env.Source)
		assert.Equal(t, h.ID, env.CorrelationID)
	}

	var ev BattleEventPayload
	require.NoError(t, json.Unmarshal(c.envs[2].Payload, &ev))
	assert.Equal(t, "battle-7", ev.SessionID)
	assert.JSONEq(t, `{"type":"SpecialAbilityUsed","timestamp":0}`, string(ev.Event))

	var summary battle.SessionSummary
	require.NoError(t, json.Unmarshal(c.envs[4].Payload, &summary))
	assert.Equal(t, "battle-7", summary.ID)
	assert.True(t, summary.AttackerWon)
}

func TestReplayPublisherPlayback(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()
	c := &collector{}
	_, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)

	pub := NewReplayPublisher(bus, jsonEncoder{})
	s := &battle.Session{ID: "r1", Duration: 1, Events: []battle.BattleEvent{
		{Type: battle.EventBattleStarted},
		{Type: battle.EventBattleEnded, Timestamp: 1},
	}}
	s.Freeze()

	ctrl := playback.NewController(playback.DefaultConfig(), playback.WithListener(pub.PlaybackListener("r1")))
	require.NoError(t, ctrl.Load(s))
	require.NoError(t, ctrl.Play())
	require.NoError(t, ctrl.SeekTo(0.5))
	ctrl.Tick(1)
	pub.Close()

	want := []string{TypePlaybackState, TypePlaybackSeek, TypePlaybackState, TypeReplayEnded}
	require.Eventually(t, func() bool { return c.len() == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, c.types())

	var st PlaybackStatePayload
	c.mu.Lock()
	require.NoError(t, json.Unmarshal(c.envs[0].Payload, &st))
	c.mu.Unlock()
	assert.Equal(t, PlaybackStatePayload{ReplayID: "r1", From: "Stopped", To: "Playing"}, st)
}

// blockingBus задерживает каждую публикацию до закрытия release
type blockingBus struct {
	EventBus
	release chan struct{}
}

func (b *blockingBus) Publish(ctx context.Context, ev *Envelope) error {
	<-b.release
	return b.EventBus.Publish(ctx, ev)
}

func TestReplayPublisherDropsWhenQueueFull(t *testing.T) {
	inner := NewMemoryBus(64)
	defer inner.Close()
	bus := &blockingBus{EventBus: inner, release: make(chan struct{})}

	pub := NewReplayPublisher(bus, jsonEncoder{}, WithQueueSize(1))
	for i := 0; i < 50; i++ {
		pub.OnEventRecorded(battle.BattleEvent{Type: battle.EventUnitMoved})
	}
	// в работе и в очереди не больше двух конвертов
	assert.GreaterOrEqual(t, pub.Dropped(), uint64(48))

	close(bus.release)
	pub.Close()
	pub.Close()
	pub.OnEventRecorded(battle.BattleEvent{Type: battle.EventUnitMoved})
	assert.LessOrEqual(t, inner.Metrics().Published, uint64(2))
}
