package recording

import (
	"github.com/annel0/battle-replay/internal/battle"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics prometheus-метрики менеджера записи.
// Все методы безопасны для nil-получателя.
type Metrics struct {
	eventsRecorded *prometheus.CounterVec
	eventsDropped  prometheus.Counter
	sessions       *prometheus.CounterVec
	sessionEvents  prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "recording",
			Name:      "events_recorded_total",
			Help:      "Число записанных событий боя по типам.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "recording",
			Name:      "events_dropped_total",
			Help:      "Событий, отброшенных из-за лимита журнала.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "recording",
			Name:      "sessions_total",
			Help:      "Завершённые сессии записи по результату.",
		}, []string{"result"}),
		sessionEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "replay",
			Subsystem: "recording",
			Name:      "session_events",
			Help:      "Размер журнала событий финализированной сессии.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 7),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsRecorded, m.eventsDropped, m.sessions, m.sessionEvents)
	}
	return m
}

func (m *Metrics) recorded(kind battle.EventKind) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) finalized(events int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("finalized").Inc()
	m.sessionEvents.Observe(float64(events))
}

func (m *Metrics) cancelled() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("cancelled").Inc()
}
