package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-level Prometheus metrics that are not owned by a
// single module.
type Metrics struct {
	BlacklistSize     prometheus.Gauge
	WhitelistSize     prometheus.Gauge
	CommandsHandled   *prometheus.CounterVec
	ConfigFormUpdates prometheus.Counter
}

// New creates and registers the metrics with the given registerer. Passing nil
// registers with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		BlacklistSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bansync_blacklist_entries",
			Help: "Number of identities on the blacklist at the last snapshot",
		}),
		WhitelistSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bansync_whitelist_entries",
			Help: "Number of stored whitelist identities",
		}),
		CommandsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bansync_commands_total",
			Help: "Slash commands handled, by command name and status",
		}, []string{"command", "status"}),
		ConfigFormUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "bansync_config_updates_total",
			Help: "Per-community config updates submitted through the web form",
		}),
	}
}

// ObserveCommand records a handled slash command.
func (m *Metrics) ObserveCommand(command, status string) {
	if m == nil {
		return
	}
	m.CommandsHandled.WithLabelValues(command, status).Inc()
}

// ObserveConfigUpdate records a saved config form.
func (m *Metrics) ObserveConfigUpdate() {
	if m == nil {
		return
	}
	m.ConfigFormUpdates.Inc()
}

func (m *Metrics) SetBlacklistSize(n int) {
	if m == nil {
		return
	}
	m.BlacklistSize.Set(float64(n))
}

func (m *Metrics) SetWhitelistSize(n int) {
	if m == nil {
		return
	}
	m.WhitelistSize.Set(float64(n))
}
