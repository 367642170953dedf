// Package sampler implements the Progress Sampler: given an admin client and
// a consumer handle, it samples committed/earliest/high-watermark offsets
// for a topic's assigned partitions. It is grounded in
// pkg/ingest/partition_offset_client.go (offset-listing shape) and
// modules/blockbuilder/blockbuilder.go's getGroupLag (committed-offset
// lookup with a "no commit yet" fallback).
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/streamforge/kflow/pkg/offsets"
)

// committedTimeout and watermarkTimeout match the spec's documented bounds
// for each broker round-trip (§4.3).
const (
	committedTimeout = 20 * time.Second
	watermarkTimeout = 40 * time.Second
)

// Assignment reports the partitions a consumer handle currently owns for a
// topic. It is satisfied by monitor.AssignmentTracker, which records the
// partitions announced by the client's rebalance callbacks.
type Assignment interface {
	AssignedPartitions(topic string) []int32
}

// Sampler queries broker-side offset state for a topic's partitions. It
// never joins the consumer group itself — it only inspects existing state,
// and every method blocks the calling goroutine for the duration of its
// broker round-trips, exactly like the teacher's getGroupLag.
type Sampler struct {
	admin      *kadm.Client
	assignment Assignment
	topic      string
	group      string
	logger     log.Logger
}

// New constructs a Sampler for one (topic, group) pair.
func New(admin *kadm.Client, assignment Assignment, topic, group string, logger log.Logger) *Sampler {
	return &Sampler{
		admin:      admin,
		assignment: assignment,
		topic:      topic,
		group:      group,
		logger:     log.With(logger, "topic", topic, "group", group),
	}
}

// Sample queries the broker for committed/earliest/high-watermark offsets
// of every partition currently assigned to the consumer for the sampler's
// topic, falling back to the topic's full partition list (via admin
// metadata) when the consumer handle reports no assignment yet.
//
// Per the spec's open-question resolution, a partition whose committed-
// offset lookup fails outright is skipped for this tick rather than
// reported with an invented "unknown" verdict; the skip is logged.
func (s *Sampler) Sample(ctx context.Context) ([]offsets.PartitionSample, error) {
	partitions, err := s.resolvePartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("sampler: resolve partitions: %w", err)
	}
	if len(partitions) == 0 {
		return nil, nil
	}

	committed, err := s.fetchCommitted(ctx)
	if err != nil {
		return nil, fmt.Errorf("sampler: fetch committed offsets: %w", err)
	}

	start, end, err := s.fetchWatermarks(ctx, partitions)
	if err != nil {
		return nil, fmt.Errorf("sampler: fetch watermarks: %w", err)
	}

	out := make([]offsets.PartitionSample, 0, len(partitions))
	for _, p := range partitions {
		earliest, haveEarliest := start[p]
		high, haveHigh := end[p]
		if !haveEarliest || !haveHigh {
			level.Warn(s.logger).Log("msg", "skipping partition with incomplete watermarks", "partition", p)
			continue
		}

		consumerOffset := offsets.Missing()
		if c, ok := committed.Lookup(s.topic, p); ok && c.Err == nil {
			consumerOffset = offsets.Of(c.At)
		} else if ok && c.Err != nil && !kerrIsGroupMissing(c.Err) {
			level.Warn(s.logger).Log("msg", "skipping partition with committed-offset lookup error", "partition", p, "err", c.Err)
			continue
		}

		out = append(out, offsets.NewPartitionSample(p, consumerOffset, offsets.Of(earliest), offsets.Of(high)))
	}
	return out, nil
}

func (s *Sampler) resolvePartitions(ctx context.Context) ([]int32, error) {
	if assigned := s.assignment.AssignedPartitions(s.topic); len(assigned) > 0 {
		return assigned, nil
	}

	td, err := s.admin.ListTopics(ctx, s.topic)
	if err != nil {
		return nil, err
	}
	if err := td.Error(); err != nil {
		return nil, err
	}
	return td[s.topic].Partitions.Numbers(), nil
}

func (s *Sampler) fetchCommitted(ctx context.Context) (kadm.OffsetResponses, error) {
	ctx, cancel := context.WithTimeout(ctx, committedTimeout)
	defer cancel()

	offsetsResp, err := s.admin.FetchOffsetsForTopics(ctx, s.group, s.topic)
	if err != nil {
		if kerrIsGroupMissing(err) {
			// Brand-new group: every partition is Missing, handled by the
			// caller's default.
			return kadm.OffsetResponses{}, nil
		}
		return nil, err
	}
	return offsetsResp, nil
}

func (s *Sampler) fetchWatermarks(ctx context.Context, partitions []int32) (start, end map[int32]int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, watermarkTimeout)
	defer cancel()

	startOffsets, err := s.admin.ListStartOffsets(ctx, s.topic)
	if err != nil {
		return nil, nil, err
	}
	endOffsets, err := s.admin.ListEndOffsets(ctx, s.topic)
	if err != nil {
		return nil, nil, err
	}

	start = make(map[int32]int64, len(partitions))
	end = make(map[int32]int64, len(partitions))
	for _, p := range partitions {
		if o, ok := startOffsets.Lookup(s.topic, p); ok && o.Err == nil {
			start[p] = o.Offset
		}
		if o, ok := endOffsets.Lookup(s.topic, p); ok && o.Err == nil {
			end[p] = o.Offset
		}
	}
	return start, end, nil
}

func kerrIsGroupMissing(err error) bool {
	return errors.Is(err, kerr.GroupIDNotFound)
}
