package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics follows modules/livestore/partition_reader.go's
// newPartitionReaderMetrics factory pattern: one struct per component,
// registered through the caller-supplied registerer rather than global
// promauto vars.
type metrics struct {
	batchesProcessed   *prometheus.CounterVec
	batchSize          prometheus.Histogram
	handlerDuration    prometheus.Histogram
	commitErrorsTotal  prometheus.Counter
	inFlightPartitions prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) metrics {
	factory := promauto.With(reg)

	return metrics{
		batchesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kflow",
			Subsystem: "dispatcher",
			Name:      "batches_processed_total",
			Help:      "Total number of batches handled, by partition.",
		}, []string{"partition"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kflow",
			Subsystem: "dispatcher",
			Name:      "batch_size",
			Help:      "Number of messages per dispatched batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		handlerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:                   "kflow",
			Subsystem:                   "dispatcher",
			Name:                        "handler_duration_seconds",
			Help:                        "Time spent in one handler invocation.",
			NativeHistogramBucketFactor: 1.1,
		}),
		commitErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kflow",
			Subsystem: "dispatcher",
			Name:      "commit_errors_total",
			Help:      "Total number of failed offset commit attempts.",
		}),
		inFlightPartitions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kflow",
			Subsystem: "dispatcher",
			Name:      "in_flight_partitions",
			Help:      "Number of partitions currently dispatched to a worker.",
		}),
	}
}
