package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the counters and gauges the status endpoint publishes.
// All collectors register on the given registry so tests can use private
// registries.
type Metrics struct {
	EventsProcessed  *prometheus.CounterVec
	EventsIgnored    prometheus.Counter
	Confirmations    *prometheus.CounterVec
	Timeouts         prometheus.Counter
	StateTransitions *prometheus.CounterVec
	CurrentState     *prometheus.GaugeVec
	GlobalScore      prometheus.Gauge
	Escalations      *prometheus.CounterVec
	EscalationTime   *prometheus.HistogramVec
	SensorsOffline   prometheus.Gauge
	JammingSuspected prometheus.Gauge
	IngestLag        prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_events_processed_total",
			Help: "Sensor events accepted by the correlation engine.",
		}, []string{"sensor_type", "zone"}),
		EventsIgnored: factory.NewCounter(prometheus.CounterOpts{
			Name: "homeguard_events_ignored_total",
			Help: "Events dropped for mode, state or unknown entity.",
		}),
		Confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_confirmations_total",
			Help: "Confirmed intrusions by confirmation path.",
		}, []string{"via"}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "homeguard_correlation_timeouts_total",
			Help: "Correlation windows expired without confirmation.",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_state_transitions_total",
			Help: "Alarm state machine transitions.",
		}, []string{"from", "to"}),
		CurrentState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homeguard_state",
			Help: "Current alarm state, 1 for the active state.",
		}, []string{"state"}),
		GlobalScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "homeguard_global_score",
			Help: "Current cross-zone accumulated score.",
		}),
		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_escalations_total",
			Help: "Escalation delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		EscalationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homeguard_escalation_seconds",
			Help:    "Escalation channel delivery latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		SensorsOffline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "homeguard_sensors_offline",
			Help: "Sensors currently offline.",
		}),
		JammingSuspected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "homeguard_jamming_suspected",
			Help: "1 while the jamming signature is present.",
		}),
		IngestLag: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "homeguard_ingest_lag_seconds",
			Help:    "Delay between event timestamp and processing.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
	}
}

// SetState flips the per-state gauge so exactly one state reads 1.
func (m *Metrics) SetState(states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.CurrentState.WithLabelValues(s).Set(v)
	}
}
