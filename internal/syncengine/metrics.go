package syncengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the sync engine.
type Metrics struct {
	// Terminal outcomes by kind
	Outcomes *prometheus.CounterVec

	// Ban attempts by result: success, ban_apply_failure, ban_verify_failure, external_timeout
	BanAttempts *prometheus.CounterVec

	// Full community sync latency, including throttle waits
	SyncDuration prometheus.Histogram
}

// NewMetrics registers engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bansync_sync_outcomes_total",
			Help: "Community sync runs by terminal outcome",
		}, []string{"outcome"}),

		BanAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bansync_ban_attempts_total",
			Help: "Ban replication attempts by result",
		}, []string{"result"}),

		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bansync_sync_duration_seconds",
			Help:    "Duration of a community sync run",
			Buckets: []float64{0.1, 1, 10, 30, 60, 300, 900, 1800, 3600},
		}),
	}
}

func (m *Metrics) observeOutcome(kind OutcomeKind, d time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(kind)).Inc()
	m.SyncDuration.Observe(d.Seconds())
}

func (m *Metrics) observeAttempt(f *Failure) {
	if m == nil {
		return
	}
	if f == nil {
		m.BanAttempts.WithLabelValues("success").Inc()
		return
	}
	m.BanAttempts.WithLabelValues(string(f.Kind)).Inc()
}
