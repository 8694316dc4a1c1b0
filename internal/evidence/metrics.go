package evidence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts evidence attachments by result: uploaded, skipped, folder_failed.
type Metrics struct {
	Attachments *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Attachments: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bansync_evidence_attachments_total",
			Help: "Evidence attachments processed by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.Attachments.WithLabelValues(result).Inc()
}
