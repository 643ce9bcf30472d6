package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes indexing progress to the /metrics endpoint.
type Metrics struct {
	EventsMirrored *prometheus.CounterVec
	BatchesApplied prometheus.Counter
	PollFailures   prometheus.Counter
	LatestLedger   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsMirrored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eas_indexer_events_mirrored_total",
			Help: "Contract events applied to the mirror, by kind.",
		}, []string{"kind"}),
		BatchesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "eas_indexer_batches_applied_total",
			Help: "Event batches fully reconciled and checkpointed.",
		}),
		PollFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "eas_indexer_poll_failures_total",
			Help: "Polling cycles that failed and will be retried.",
		}),
		LatestLedger: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eas_indexer_latest_ledger",
			Help: "Latest ledger sequence reported by the event source.",
		}),
	}
}
