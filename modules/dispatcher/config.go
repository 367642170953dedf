package dispatcher

import "time"

// Config holds the dispatcher's own tunables. Topic/GroupID/MaxBatchSize
// mirror kafkaopt.Config's recognized fields (spec §6); Concurrency,
// MaxQueueDepth, and CommitInterval are dispatcher-internal knobs the spec
// leaves implementation-defined.
type Config struct {
	Topic        string
	GroupID      string
	MaxBatchSize int

	// Concurrency bounds the number of batches handled at once across all
	// partitions (spec §5, "worker pool size").
	Concurrency int

	// MaxQueueDepth bounds how many undispatched batches may accumulate per
	// partition before the poll loop blocks (spec §5, "backpressure").
	MaxQueueDepth int

	// CommitInterval is how often the committer flushes pending offsets,
	// grounded on partition_reader.go's commitInterval.
	CommitInterval time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 4
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = 10 * time.Second
	}
	return cfg
}
