// Package playback проигрывает записанную сессию по виртуальным часам.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/config"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/reconstruct"
)

var (
	ErrNoSession    = errors.New("no session loaded")
	ErrInvalidSpeed = errors.New("playback speed must be positive")
)

// State состояние воспроизведения
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config ограничения скорости
type Config struct {
	DefaultSpeed float64
	MinSpeed     float64
	MaxSpeed     float64
}

// DefaultConfig скорость 1x, допустимый диапазон 0.1x..8x
func DefaultConfig() Config {
	return Config{DefaultSpeed: 1, MinSpeed: 0.1, MaxSpeed: 8}
}

// ConfigFrom переносит настройки из конфигурации сервиса
func ConfigFrom(pc config.PlaybackConfig) Config {
	return Config{DefaultSpeed: pc.DefaultSpeed, MinSpeed: pc.MinSpeed, MaxSpeed: pc.MaxSpeed}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MinSpeed <= 0 {
		c.MinSpeed = d.MinSpeed
	}
	if c.MaxSpeed < c.MinSpeed {
		c.MaxSpeed = max(d.MaxSpeed, c.MinSpeed)
	}
	if c.DefaultSpeed <= 0 {
		c.DefaultSpeed = d.DefaultSpeed
	}
	c.DefaultSpeed = min(max(c.DefaultSpeed, c.MinSpeed), c.MaxSpeed)
	return c
}

// Option настраивает Controller
type Option func(*Controller)

// WithListener добавляет слушателя
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, l) }
}

// WithMetrics подключает метрики
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger задаёт логгер
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller конечный автомат Stopped/Playing/Paused над одной сессией.
// Каждое событие лога доставляется слушателям не более одного раза
// между перемотками.
type Controller struct {
	mu sync.Mutex

	cfg       Config
	listeners []Listener
	metrics   *Metrics
	log       *logging.Logger

	engine  *reconstruct.Engine
	folder  *reconstruct.Folder
	state   State
	current float64
	speed   float64
}

// NewController создаёт контроллер без загруженной сессии
func NewController(cfg Config, opts ...Option) *Controller {
	cfg = cfg.normalized()
	c := &Controller{cfg: cfg, speed: cfg.DefaultSpeed}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.GetPlaybackLogger()
	}
	return c
}

// AddListener регистрирует слушателя
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// notification отложенный вызов слушателей
type notification func(l Listener)

func (c *Controller) dispatch(notes []notification) {
	if len(notes) == 0 {
		return
	}
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, n := range notes {
		for _, l := range listeners {
			n(l)
		}
	}
}

func (c *Controller) transitionLocked(to State, notes []notification) []notification {
	from := c.state
	if from == to {
		return notes
	}
	c.state = to
	return append(notes, func(l Listener) { l.OnPlaybackStateChanged(from, to) })
}

// Load загружает сессию и переводит контроллер в Stopped на t=0
func (c *Controller) Load(s *battle.Session) error {
	if s == nil {
		return ErrNoSession
	}
	engine := reconstruct.NewEngine(s)

	c.mu.Lock()
	notes := c.transitionLocked(Stopped, nil)
	c.engine = engine
	c.folder = engine.NewFolder()
	c.current = 0
	c.mu.Unlock()

	c.log.Debug("Загружена сессия %s: %d событий, %.1fс", s.ID, len(s.Events), s.Duration)
	c.dispatch(notes)
	return nil
}

// Session возвращает загруженную сессию
func (c *Controller) Session() *battle.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil
	}
	return c.engine.Session()
}

// Play запускает воспроизведение. В конце записи начинает с нуля.
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.engine == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	var notes []notification
	if c.current >= c.engine.Session().Duration {
		notes = c.rewindLocked(notes)
	}
	notes = c.transitionLocked(Playing, notes)
	c.mu.Unlock()

	c.dispatch(notes)
	return nil
}

// Pause приостанавливает воспроизведение; вне Playing ничего не делает
func (c *Controller) Pause() {
	c.mu.Lock()
	var notes []notification
	if c.state == Playing {
		notes = c.transitionLocked(Paused, nil)
	}
	c.mu.Unlock()
	c.dispatch(notes)
}

// Stop останавливает воспроизведение и возвращает часы в ноль
func (c *Controller) Stop() {
	c.mu.Lock()
	notes := c.transitionLocked(Stopped, nil)
	if c.engine != nil {
		c.folder = c.engine.NewFolder()
	}
	c.current = 0
	c.mu.Unlock()
	c.dispatch(notes)
}

// SeekTo переносит часы в t (с ограничением диапазоном сессии) и
// восстанавливает состояние. События после t будут доставлены снова.
func (c *Controller) SeekTo(t float64) error {
	c.mu.Lock()
	if c.engine == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	notes := c.seekLocked(t, nil)
	c.mu.Unlock()

	c.dispatch(notes)
	return nil
}

func (c *Controller) seekLocked(t float64, notes []notification) []notification {
	began := time.Now()
	duration := c.engine.Session().Duration
	t = min(max(t, 0), duration)

	c.folder = c.engine.NewFolder()
	c.folder.AdvanceTo(t)
	c.current = t
	state := c.folder.State()

	c.metrics.seek(time.Since(began))
	return append(notes, func(l Listener) { l.OnSeek(t, state) })
}

// rewindLocked возвращает часы в ноль без свёртки, чтобы события t=0
// пришли первым тиком и у сессии нулевой длительности.
func (c *Controller) rewindLocked(notes []notification) []notification {
	c.folder = c.engine.NewFolder()
	c.current = 0
	state := c.folder.State()
	return append(notes, func(l Listener) { l.OnSeek(0, state) })
}

// Tick продвигает часы на dt*speed реальных секунд. Вне Playing ничего не делает.
// Возвращает события, пересечённые за этот шаг.
func (c *Controller) Tick(dt float64) []battle.BattleEvent {
	c.mu.Lock()
	if c.state != Playing || c.engine == nil || dt <= 0 {
		c.mu.Unlock()
		return nil
	}

	duration := c.engine.Session().Duration
	target := min(c.current+dt*c.speed, duration)
	crossed := c.folder.AdvanceTo(target)
	c.current = target
	state := c.folder.State()

	notes := []notification{func(l Listener) { l.OnTick(state, crossed) }}
	ended := c.current >= duration
	if ended {
		notes = c.transitionLocked(Paused, notes)
		notes = append(notes, func(l Listener) { l.OnReplayEnded() })
	}
	c.mu.Unlock()

	c.metrics.played(len(crossed))
	if ended {
		c.metrics.ended()
	}
	c.dispatch(notes)
	return crossed
}

// SetSpeed задаёт множитель скорости, ограниченный диапазоном конфигурации
func (c *Controller) SetSpeed(multiplier float64) (float64, error) {
	if multiplier <= 0 {
		return c.Speed(), ErrInvalidSpeed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = min(max(multiplier, c.cfg.MinSpeed), c.cfg.MaxSpeed)
	return c.speed, nil
}

// Speed текущий множитель скорости
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// State текущее состояние автомата
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentTime позиция виртуальных часов в секундах
func (c *Controller) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Progress доля проигранного, от 0 до 1
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil || c.engine.Session().Duration <= 0 {
		return 0
	}
	return c.current / c.engine.Session().Duration
}

// Snapshot состояние поля боя на текущих часах
func (c *Controller) Snapshot() (battle.BattlefieldState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return battle.BattlefieldState{}, ErrNoSession
	}
	return c.folder.State(), nil
}
