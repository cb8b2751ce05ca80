package playback

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics prometheus-метрики воспроизведения. Методы допускают nil-получатель.
type Metrics struct {
	seeks        prometheus.Counter
	seekDuration prometheus.Histogram
	eventsPlayed prometheus.Counter
	replaysEnded prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		seeks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "seeks_total",
			Help:      "Число перемоток.",
		}),
		seekDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "seek_duration_seconds",
			Help:      "Время восстановления состояния при перемотке.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		eventsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "events_played_total",
			Help:      "Событий, доставленных слушателям во время воспроизведения.",
		}),
		replaysEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "replays_ended_total",
			Help:      "Воспроизведений, дошедших до конца.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.seeks, m.seekDuration, m.eventsPlayed, m.replaysEnded)
	}
	return m
}

func (m *Metrics) seek(d time.Duration) {
	if m == nil {
		return
	}
	m.seeks.Inc()
	m.seekDuration.Observe(d.Seconds())
}

func (m *Metrics) played(n int) {
	if m == nil || n == 0 {
		return
	}
	m.eventsPlayed.Add(float64(n))
}

func (m *Metrics) ended() {
	if m == nil {
		return
	}
	m.replaysEnded.Inc()
}
