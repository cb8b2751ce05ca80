package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/playback"
	"github.com/annel0/battle-replay/internal/recording"
)

// Типы конвертов, публикуемых ReplayPublisher.
const (
	TypeSessionStarted   = "SessionStarted"
	TypeBattleEvent      = "BattleEvent"
	TypeSessionFinalized = "SessionFinalized"
	TypePlaybackState    = "PlaybackState"
	TypePlaybackSeek     = "PlaybackSeek"
	TypeReplayEnded      = "ReplayEnded"
)

const (
	priorityEvent     = 3
	priorityLifecycle = 7
)

// EventEncoder сериализует одно событие боя (реализуется persistence.Codec).
type EventEncoder interface {
	EncodeEvent(ev battle.BattleEvent) ([]byte, error)
}

// SessionStartedPayload полезная нагрузка SessionStarted
type SessionStartedPayload struct {
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

// BattleEventPayload полезная нагрузка BattleEvent
type BattleEventPayload struct {
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

// PlaybackStatePayload полезная нагрузка PlaybackState
type PlaybackStatePayload struct {
	ReplayID string `json:"replayId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// PlaybackSeekPayload полезная нагрузка PlaybackSeek
type PlaybackSeekPayload struct {
	ReplayID  string  `json:"replayId"`
	Time      float64 `json:"time"`
	Units     int     `json:"units"`
	Buildings int     `json:"buildings"`
}

// PublisherOption настраивает ReplayPublisher
type PublisherOption func(*ReplayPublisher)

// WithSource задаёт имя сервиса-источника в конвертах
func WithSource(source string) PublisherOption {
	return func(p *ReplayPublisher) { p.source = source }
}

// WithQueueSize задаёт размер очереди публикации
func WithQueueSize(n int) PublisherOption {
	return func(p *ReplayPublisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithPublishTimeout ограничивает одну публикацию в шину
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *ReplayPublisher) { p.timeout = d }
}

// ReplayPublisher транслирует запись и воспроизведение в шину событий.
// Колбэки не блокируются: конверты ставятся в очередь, которую разбирает
// отдельная горутина. При переполнении очереди конверт отбрасывается.
type ReplayPublisher struct {
	bus       EventBus
	encoder   EventEncoder
	source    string
	queueSize int
	timeout   time.Duration
	log       *logging.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan *Envelope
	done    chan struct{}
	session atomic.Value // string
	dropped atomic.Uint64
}

var _ recording.Observer = (*ReplayPublisher)(nil)

// NewReplayPublisher создаёт издателя и запускает его рабочую горутину.
func NewReplayPublisher(bus EventBus, encoder EventEncoder, opts ...PublisherOption) *ReplayPublisher {
	p := &ReplayPublisher{
		bus:       bus,
		encoder:   encoder,
		source:    "battle-replay",
		queueSize: 1024,
		timeout:   5 * time.Second,
		log:       logging.GetEventBusLogger(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.session.Store("")
	p.queue = make(chan *Envelope, p.queueSize)
	go p.worker()
	return p
}

func (p *ReplayPublisher) worker() {
	defer close(p.done)
	for env := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.bus.Publish(ctx, env); err != nil {
			p.log.Warn("Не удалось опубликовать %s (%s): %v", env.EventType, env.CorrelationID, err)
		}
		cancel()
	}
}

func (p *ReplayPublisher) enqueue(eventType, correlation string, priority int, payload any) {
	env, err := NewEnvelope(eventType, p.source, priority, payload)
	if err != nil {
		p.log.Error("Не удалось сериализовать %s: %v", eventType, err)
		return
	}
	env.CorrelationID = correlation

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- env:
	default:
		if p.dropped.Add(1) == 1 {
			p.log.Warn("Очередь публикации переполнена, конверты отбрасываются")
		}
	}
}

// Dropped число конвертов, отброшенных из-за переполнения очереди
func (p *ReplayPublisher) Dropped() uint64 { return p.dropped.Load() }

// Close публикует накопленные конверты и останавливает горутину.
func (p *ReplayPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

func (p *ReplayPublisher) currentSession() string {
	return p.session.Load().(string)
}

func (p *ReplayPublisher) OnSessionStarted(h recording.SessionHandle) {
	p.session.Store(h.ID)
	p.enqueue(TypeSessionStarted, h.ID, priorityLifecycle, SessionStartedPayload{
		SessionID: h.ID,
		StartedAt: h.StartedAt.UTC(),
	})
}

func (p *ReplayPublisher) OnEventRecorded(ev battle.BattleEvent) {
	data, err := p.encoder.EncodeEvent(ev)
	if err != nil {
		p.log.Error("Не удалось закодировать событие %s: %v", ev.Type, err)
		return
	}
	id := p.currentSession()
	p.enqueue(TypeBattleEvent, id, priorityEvent, BattleEventPayload{SessionID: id, Event: data})
}

func (p *ReplayPublisher) OnSessionFinalized(s *battle.Session) {
	p.enqueue(TypeSessionFinalized, s.ID, priorityLifecycle, s.Summary())
}

// PlaybackListener возвращает слушателя воспроизведения реплея replayID.
func (p *ReplayPublisher) PlaybackListener(replayID string) playback.Listener {
	return &playbackListener{p: p, replayID: replayID}
}

type playbackListener struct {
	playback.NopListener
	p        *ReplayPublisher
	replayID string
}

func (l *playbackListener) OnPlaybackStateChanged(from, to playback.State) {
	l.p.enqueue(TypePlaybackState, l.replayID, priorityLifecycle, PlaybackStatePayload{
		ReplayID: l.replayID,
		From:     from.String(),
		To:       to.String(),
	})
}

func (l *playbackListener) OnSeek(t float64, state battle.BattlefieldState) {
	l.p.enqueue(TypePlaybackSeek, l.replayID, priorityEvent, PlaybackSeekPayload{
		ReplayID:  l.replayID,
		Time:      t,
		Units:     len(state.ActiveUnits),
		Buildings: len(state.ActiveBuildings),
	})
}

func (l *playbackListener) OnReplayEnded() {
	l.p.enqueue(TypeReplayEnded, l.replayID, priorityLifecycle, map[string]string{"replayId": l.replayID})
}
