package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics follows the teacher's per-component metrics struct wired through
// a registerer factory (modules/livestore/partition_reader.go's
// newPartitionReaderMetrics), rather than package-level promauto globals.
type metrics struct {
	partitionLag        *prometheus.GaugeVec
	sampleFailuresTotal *prometheus.CounterVec
	ticksTotal          prometheus.Counter
	verdictsTotal       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) metrics {
	factory := promauto.With(reg)

	return metrics{
		partitionLag: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kflow",
			Subsystem: "lag_monitor",
			Name:      "partition_lag",
			Help:      "Most recently sampled lag for a partition.",
		}, []string{"partition"}),
		sampleFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kflow",
			Subsystem: "lag_monitor",
			Name:      "sample_failures_total",
			Help:      "Total number of failed sampling ticks.",
		}, []string{"topic"}),
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kflow",
			Subsystem: "lag_monitor",
			Name:      "ticks_total",
			Help:      "Total number of completed sampling ticks.",
		}),
		verdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kflow",
			Subsystem: "lag_monitor",
			Name:      "verdicts_total",
			Help:      "Total number of partition verdicts emitted, by kind.",
		}, []string{"kind"}),
	}
}
