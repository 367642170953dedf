// Package monitor implements the Consumer Lag Monitor: a services.Service
// that periodically samples partition progress, keeps a sliding window of
// ticks, and classifies each partition as healthy, stalled, or slow.
//
// It is grounded in modules/blockbuilder/blockbuilder.go's metricLag loop
// (ticker-driven sampling against a kadm client) and
// modules/livestore/partition_reader.go's retry-with-backoff idiom for
// broker calls that can transiently fail.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamforge/kflow/pkg/lagrules"
	"github.com/streamforge/kflow/pkg/offsets"
)

// maxConsecutiveFailures bounds how many sampling ticks in a row may fail
// before the monitor treats the condition as fatal and transitions to
// Faulted (spec §6's "repeated sampling failure" edge case), rather than
// retrying forever in silence.
const maxConsecutiveFailures = 3

// progressSampler is the narrow interface the monitor depends on; it is
// satisfied by *sampler.Sampler and by a test fake that never touches a
// broker.
type progressSampler interface {
	Sample(ctx context.Context) ([]offsets.PartitionSample, error)
}

// Handler receives the verdicts produced by each full window evaluation,
// keyed by partition.
type Handler func(verdicts map[int32]lagrules.Verdict)

// Config holds the monitor's own tunables, separate from kafkaopt.Config
// so the monitor can be unit tested without a Kafka client in scope at all.
type Config struct {
	Topic        string
	PollInterval time.Duration
	WindowSize   int
}

// Monitor is a services.Service implementing the Consumer Lag Monitor.
type Monitor struct {
	services.Service

	logger   log.Logger
	cfg      Config
	sampler  progressSampler
	tracker  *AssignmentTracker
	handler  Handler
	metrics  metrics
	window   *offsets.RingBuffer
	lastSeen int
}

// New constructs a Monitor. tracker may be nil if the caller never wires
// rebalance callbacks (e.g. a static, single-owner topic); in that case the
// window is never reset due to rebalances.
func New(cfg Config, sampler progressSampler, tracker *AssignmentTracker, handler Handler, logger log.Logger, reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		logger:  logger,
		cfg:     cfg,
		sampler: sampler,
		tracker: tracker,
		handler: handler,
		metrics: newMetrics(reg),
		window:  offsets.NewRingBuffer(cfg.WindowSize),
	}
	m.Service = services.NewBasicService(m.starting, m.running, m.stopping)
	return m
}

func (m *Monitor) starting(_ context.Context) error {
	level.Info(m.logger).Log("msg", "lag monitor starting", "topic", m.cfg.Topic, "poll_interval", m.cfg.PollInterval, "window_size", m.cfg.WindowSize)
	return nil
}

func (m *Monitor) stopping(err error) error {
	level.Info(m.logger).Log("msg", "lag monitor stopped", "err", err)
	return err
}

func (m *Monitor) running(ctx context.Context) error {
	var consecutiveFailures int

	for {
		select {
		case <-time.After(m.cfg.PollInterval):
			if err := m.tick(ctx); err != nil {
				consecutiveFailures++
				level.Error(m.logger).Log("msg", "lag monitor tick failed", "err", err, "consecutive_failures", consecutiveFailures)
				m.metrics.sampleFailuresTotal.WithLabelValues(m.cfg.Topic).Inc()
				if consecutiveFailures >= maxConsecutiveFailures {
					return fmt.Errorf("lag monitor: %d consecutive sampling failures: %w", consecutiveFailures, err)
				}
				continue
			}
			consecutiveFailures = 0
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	if m.tracker != nil {
		if epoch := m.tracker.Epoch(); epoch != m.lastSeen {
			level.Info(m.logger).Log("msg", "partition assignment changed, resetting lag window", "epoch", epoch)
			m.window.Reset()
			m.lastSeen = epoch
		}
	}

	samples, err := m.sampleWithRetry(ctx)
	if err != nil {
		return err
	}

	m.metrics.ticksTotal.Inc()
	for _, s := range samples {
		m.metrics.partitionLag.WithLabelValues(partitionLabel(s.Partition)).Set(float64(s.Lag))
	}
	m.window.Add(samples)

	full := m.window.SnapshotFullOrEmpty()
	if full == nil {
		return nil
	}

	verdicts := lagrules.Classify(full)
	for _, v := range verdicts {
		m.metrics.verdictsTotal.WithLabelValues(v.Kind.String()).Inc()
	}
	if m.handler != nil {
		m.handler(verdicts)
	}
	return nil
}

// sampleWithRetry bounds transient broker failures behind a short backoff,
// the way partition_reader.go's fetchLastCommittedOffsetWithRetries bounds
// its own broker round-trips, rather than failing the tick on the first
// hiccup.
func (m *Monitor) sampleWithRetry(ctx context.Context) ([]offsets.PartitionSample, error) {
	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: 200 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		MaxRetries: 3,
	})

	var lastErr error
	for boff.Ongoing() {
		samples, err := m.sampler.Sample(ctx)
		if err == nil {
			return samples, nil
		}
		lastErr = err
		level.Warn(m.logger).Log("msg", "sample failed, retrying", "err", err)
		boff.Wait()
	}
	if err := boff.ErrCause(); err != nil {
		return nil, err
	}
	return nil, lastErr
}

func partitionLabel(p int32) string {
	return fmt.Sprintf("%d", p)
}
