// Package recording ведёт запись боя: принимает события от хоста,
// семплирует позиции и финализирует неизменяемую сессию.
package recording

import (
	"errors"
	"sync"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/config"
	"github.com/annel0/battle-replay/internal/highlight"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/vec"
	"github.com/google/uuid"
)

var (
	ErrAlreadyRecording = errors.New("recording session already active")
	ErrNotRecording     = errors.New("no active recording session")
)

// Config параметры записи
type Config struct {
	MaxEvents     int
	MoveThreshold float64
	Highlights    highlight.Config
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxEvents:     10000,
		MoveThreshold: 0.5,
		Highlights:    highlight.DefaultConfig(),
	}
}

// ConfigFrom собирает параметры записи из конфигурации сервиса
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxEvents:     cfg.Recording.MaxEvents,
		MoveThreshold: cfg.Recording.MoveThreshold,
		Highlights:    highlight.ConfigFrom(cfg.Highlights),
	}
}

// StartOptions метаданные новой сессии
type StartOptions struct {
	SessionID     string // пусто: сгенерировать UUID
	TerritoryID   string
	TerritoryName string
	AttackerID    string
	AttackerName  string
	DefenderID    string
	DefenderName  string
	Buildings     []battle.BuildingSnapshot
}

// SessionHandle идентифицирует начатую запись
type SessionHandle struct {
	ID        string
	StartedAt time.Time
}

// LiveStats текущие агрегаты активной записи
type LiveStats struct {
	Elapsed        float64
	AttackerDamage float64
	DefenderDamage float64
	KillStreak     int
	Events         int
	Dropped        int
}

// Option настраивает Manager
type Option func(*Manager)

// WithClock подменяет источник времени (для тестов и симуляции)
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithObserver добавляет наблюдателя
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithMetrics подключает prometheus-метрики
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger задаёт логгер компонента
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager записывает не более одной сессии одновременно.
type Manager struct {
	mu sync.Mutex

	cfg       Config
	clock     func() time.Time
	observers []Observer
	metrics   *Metrics
	log       *logging.Logger

	session   *battle.Session
	startedAt time.Time
	lastTS    float64
	sampler   *PositionSampler
	detector  *highlight.Detector
	stats     battle.StatsAccumulator
	dropped   int
	warned    bool
}

// NewManager создаёт менеджер записи
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.MoveThreshold <= 0 {
		cfg.MoveThreshold = def.MoveThreshold
	}

	m := &Manager{
		cfg:   cfg,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.GetRecordingLogger()
	}
	return m
}

// Recording сообщает, идёт ли запись
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Start начинает новую сессию
func (m *Manager) Start(opts StartOptions) (SessionHandle, error) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		m.log.Warn("Попытка начать запись при активной сессии")
		return SessionHandle{}, ErrAlreadyRecording
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := m.clock()

	buildings := make([]battle.BuildingSnapshot, len(opts.Buildings))
	copy(buildings, opts.Buildings)

	m.session = &battle.Session{
		ID:               id,
		TerritoryID:      opts.TerritoryID,
		TerritoryName:    opts.TerritoryName,
		AttackerID:       opts.AttackerID,
		AttackerName:     opts.AttackerName,
		DefenderID:       opts.DefenderID,
		DefenderName:     opts.DefenderName,
		StartTime:        now,
		InitialBuildings: buildings,
		Events:           make([]battle.BattleEvent, 0, 256),
	}
	m.startedAt = now
	m.lastTS = 0
	m.sampler = NewPositionSampler(m.cfg.MoveThreshold)
	m.detector = highlight.NewDetector(m.cfg.Highlights)
	m.stats = battle.StatsAccumulator{}
	m.dropped = 0
	m.warned = false

	started := m.appendLocked(battle.BattleEvent{Type: battle.EventBattleStarted, Timestamp: 0})
	observers := m.observers
	m.mu.Unlock()

	m.log.Info("Начата запись боя %s (территория %s, %d зданий)", id, opts.TerritoryID, len(buildings))
	handle := SessionHandle{ID: id, StartedAt: now}
	for _, o := range observers {
		o.OnSessionStarted(handle)
		o.OnEventRecorded(started)
	}
	return handle, nil
}

// RecordEvent добавляет событие в журнал. Время события проставляется менеджером.
// Без активной записи вызов ничего не делает.
func (m *Manager) RecordEvent(ev battle.BattleEvent) {
	if ev, ok := m.record(ev); ok {
		m.notify(ev)
	}
}

func (m *Manager) record(ev battle.BattleEvent) (battle.BattleEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ev, false
	}
	if !ev.Type.Valid() || ev.Type == battle.EventBattleStarted || ev.Type == battle.EventBattleEnded {
		m.log.Warn("Отброшено событие недопустимого типа %s", ev.Type)
		return ev, false
	}
	if len(m.session.Events) >= m.cfg.MaxEvents {
		m.dropped++
		m.metrics.dropped()
		if !m.warned {
			m.warned = true
			m.log.Warn("Журнал сессии %s достиг лимита %d событий, новые события отбрасываются",
				m.session.ID, m.cfg.MaxEvents)
		}
		return ev, false
	}

	ev.Timestamp = m.elapsedLocked()
	return m.appendLocked(ev), true
}

// appendLocked добавляет событие и ведёт живой учёт. Вызывается под mu.
func (m *Manager) appendLocked(ev battle.BattleEvent) battle.BattleEvent {
	m.session.Events = append(m.session.Events, ev)
	m.stats.Add(ev)
	m.detector.Observe(ev)

	switch ev.Type {
	case battle.EventUnitSpawned, battle.EventUnitMoved:
		m.sampler.Mark(ev.UnitID, ev.Position)
	case battle.EventUnitDied:
		m.sampler.Forget(ev.UnitID)
	}
	m.metrics.recorded(ev.Type)
	return ev
}

// elapsedLocked возвращает неубывающее время от начала записи в секундах
func (m *Manager) elapsedLocked() float64 {
	ts := m.clock().Sub(m.startedAt).Seconds()
	if ts < m.lastTS {
		ts = m.lastTS
	}
	m.lastTS = ts
	return ts
}

func (m *Manager) notify(ev battle.BattleEvent) {
	m.mu.Lock()
	observers := m.observers
	m.mu.Unlock()
	for _, o := range observers {
		o.OnEventRecorded(ev)
	}
}

// SamplePositions записывает UnitMoved для живых юнитов, сместившихся дальше порога
func (m *Manager) SamplePositions(units []battle.UnitSnapshot) {
	for _, u := range units {
		m.mu.Lock()
		should := m.session != nil && m.sampler.ShouldSample(u.ID, u.Position)
		m.mu.Unlock()
		if !should {
			continue
		}
		m.RecordEvent(battle.BattleEvent{
			Type:           battle.EventUnitMoved,
			UnitID:         u.ID,
			UnitType:       u.Type,
			Position:       u.Position,
			IsAttackerSide: u.IsAttackerSide,
		})
	}
}

// RecordSpawn записывает появление юнита; Value хранит его здоровье
func (m *Manager) RecordSpawn(u battle.UnitSnapshot) {
	health := u.Health
	if health <= 0 {
		health = u.MaxHealth
	}
	m.RecordEvent(battle.BattleEvent{
		Type:           battle.EventUnitSpawned,
		UnitID:         u.ID,
		UnitType:       u.Type,
		Position:       u.Position,
		Value:          health,
		IsAttackerSide: u.IsAttackerSide,
	})
}

// RecordAttack записывает удар по юниту
func (m *Manager) RecordAttack(sourceID, targetID string, damage float64, ability string, at vec.Vec3Float, attackerSide bool) {
	m.RecordEvent(battle.BattleEvent{
		Type:           battle.EventUnitAttacked,
		SourceID:       sourceID,
		TargetID:       targetID,
		AbilityType:    ability,
		Position:       at,
		Value:          damage,
		IsAttackerSide: attackerSide,
	})
}

// RecordDeath записывает гибель юнита; attackerSide относится к погибшему
func (m *Manager) RecordDeath(unitID, killerID, unitType string, at vec.Vec3Float, attackerSide bool) {
	m.RecordEvent(battle.BattleEvent{
		Type:           battle.EventUnitDied,
		UnitID:         unitID,
		SourceID:       killerID,
		UnitType:       unitType,
		Position:       at,
		IsAttackerSide: attackerSide,
	})
}

// RecordBuildingDamage записывает урон зданию защитника
func (m *Manager) RecordBuildingDamage(buildingID, sourceID string, damage float64, at vec.Vec3Float) {
	m.RecordEvent(battle.BattleEvent{
		Type:           battle.EventBuildingDamaged,
		TargetID:       buildingID,
		SourceID:       sourceID,
		Position:       at,
		Value:          damage,
		IsAttackerSide: true,
	})
}

// RecordBuildingDestroyed записывает разрушение здания
func (m *Manager) RecordBuildingDestroyed(buildingID, buildingType, destroyerID string, at vec.Vec3Float) {
	m.RecordEvent(battle.BattleEvent{
		Type:           battle.EventBuildingDestroyed,
		TargetID:       buildingID,
		SourceID:       destroyerID,
		UnitType:       buildingType,
		Position:       at,
		IsAttackerSide: true,
	})
}

// RecordDefenseFired записывает выстрел оборонительного сооружения
func (m *Manager) RecordDefenseFired(buildingID, targetID string, damage float64, at vec.Vec3Float) {
	m.RecordEvent(battle.BattleEvent{
		Type:     battle.EventDefenseFired,
		SourceID: buildingID,
		TargetID: targetID,
		Position: at,
		Value:    damage,
	})
}

// RecordAbility записывает применение особой способности
func (m *Manager) RecordAbility(sourceID, ability string, at vec.Vec3Float, attackerSide bool) {
	m.RecordEvent(battle.BattleEvent{
		Type:           battle.EventSpecialAbilityUsed,
		SourceID:       sourceID,
		AbilityType:    ability,
		Position:       at,
		IsAttackerSide: attackerSide,
	})
}

// RecordResourceCaptured записывает захват ресурсов
func (m *Manager) RecordResourceCaptured(unitID string, amount float64, at vec.Vec3Float, attackerSide bool) {
	m.RecordEvent(battle.BattleEvent{
		Type:           battle.EventResourceCaptured,
		UnitID:         unitID,
		Position:       at,
		Value:          amount,
		IsAttackerSide: attackerSide,
	})
}

// Stop завершает запись: добавляет BattleEnded (в обход лимита),
// считает статистику и моменты и возвращает замороженную сессию.
func (m *Manager) Stop(attackerWon bool) (*battle.Session, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		m.log.Warn("Stop вызван без активной записи")
		return nil, ErrNotRecording
	}

	value := 0.0
	if attackerWon {
		value = 1
	}
	ts := m.elapsedLocked()
	end := m.appendLocked(battle.BattleEvent{
		Type:           battle.EventBattleEnded,
		Timestamp:      ts,
		Value:          value,
		IsAttackerSide: attackerWon,
	})

	s := m.session
	s.Duration = ts
	s.AttackerWon = attackerWon
	s.Stats = m.stats.Result(ts)
	s.Highlights = m.detector.Finish()
	s.Freeze()

	dropped := m.dropped
	m.resetLocked()
	observers := m.observers
	m.mu.Unlock()

	m.metrics.finalized(len(s.Events))
	m.log.Info("Запись боя %s завершена: %.1fс, %d событий, %d моментов, отброшено %d",
		s.ID, s.Duration, len(s.Events), len(s.Highlights), dropped)

	for _, o := range observers {
		o.OnEventRecorded(end)
	}
	for _, o := range observers {
		o.OnSessionFinalized(s)
	}
	return s, nil
}

// Cancel отбрасывает активную запись без финализации
func (m *Manager) Cancel() error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		m.log.Warn("Cancel вызван без активной записи")
		return ErrNotRecording
	}
	id := m.session.ID
	m.resetLocked()
	m.mu.Unlock()

	m.metrics.cancelled()
	m.log.Info("Запись боя %s отменена", id)
	return nil
}

func (m *Manager) resetLocked() {
	m.session = nil
	m.sampler = nil
	m.detector = nil
	m.stats = battle.StatsAccumulator{}
}

// LiveStats возвращает текущие агрегаты; без записи: нулевое значение
func (m *Manager) LiveStats() LiveStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return LiveStats{}
	}
	st := m.stats.Result(0)
	return LiveStats{
		Elapsed:        m.clock().Sub(m.startedAt).Seconds(),
		AttackerDamage: st.Attacker.DamageDealt,
		DefenderDamage: st.Defender.DamageDealt,
		KillStreak:     m.detector.CurrentStreak(),
		Events:         len(m.session.Events),
		Dropped:        m.dropped,
	}
}

// LastKnownPosition возвращает последнюю записанную позицию юнита
func (m *Manager) LastKnownPosition(unitID string) (vec.Vec3Float, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampler == nil {
		return vec.Vec3Float{}, false
	}
	return m.sampler.Last(unitID)
}
