package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kadm"
)

// pendingCommits tracks, per partition, the highest "next offset to
// consume" the dispatcher has ever observed a successful handler
// acknowledge, and the offset last successfully committed to the broker. It
// generalizes partition_reader.go's single atomic highWatermark/
// lastCommittedOffset pair to many partitions behind one mutex.
type pendingCommits struct {
	mu        sync.Mutex
	target    map[int32]int64
	committed map[int32]int64
}

func newPendingCommits() *pendingCommits {
	return &pendingCommits{
		target:    make(map[int32]int64),
		committed: make(map[int32]int64),
	}
}

// advance records that partition's handler-acknowledged offset has reached
// nextOffset. It only ever moves forward: acks arrive in FIFO order per
// partition by construction of the scheduler, so nextOffset is always
// greater than any previously recorded value for that partition.
func (p *pendingCommits) advance(partition int32, nextOffset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target[partition] = nextOffset
}

// dueCommits returns the set of (partition, offset) pairs whose target has
// moved past what was last committed.
func (p *pendingCommits) dueCommits() map[int32]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	due := make(map[int32]int64)
	for partition, target := range p.target {
		if target > p.committed[partition] {
			due[partition] = target
		}
	}
	return due
}

// markCommitted records that partition's committed offset has reached
// offset, following commitCurrentWatermark's "only advance on success"
// rule — a failed commit leaves the partition due again on the next pass.
func (p *pendingCommits) markCommitted(partition int32, offset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset > p.committed[partition] {
		p.committed[partition] = offset
	}
}

// commitLoop periodically flushes pending commits to the broker, adapted
// directly from partition_reader.go's commitLoop, generalized from one
// partition's watermark to the whole pending-commit map. It only ticks;
// the dispatcher performs one last synchronous commitDue after every
// in-flight handler has finished (see running), since a commit fired the
// instant ctx is cancelled could race a handler that hasn't yet advanced
// its partition's pending offset.
func (d *Dispatcher) commitLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.commitDue(context.Background())
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) commitDue(ctx context.Context) {
	due := d.pending.dueCommits()
	if len(due) == 0 {
		return
	}

	offsets := make(kadm.Offsets, len(due))
	for partition, offset := range due {
		offsets.Add(kadm.Offset{
			Topic:     d.cfg.Topic,
			Partition: partition,
			At:        offset,
		})
	}

	commitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := d.admin.CommitOffsets(commitCtx, d.cfg.GroupID, offsets)
	if err != nil {
		d.metrics.commitErrorsTotal.Inc()
		level.Error(d.logger).Log("msg", "failed to commit offsets", "err", err)
		return
	}

	resp.Each(func(r kadm.OffsetResponse) {
		if r.Err != nil {
			d.metrics.commitErrorsTotal.Inc()
			level.Error(d.logger).Log("msg", "partition commit rejected", "partition", r.Partition, "err", r.Err)
			return
		}
		d.pending.markCommitted(r.Partition, due[r.Partition])
		level.Debug(d.logger).Log("msg", "committed offset", "partition", r.Partition, "offset", due[r.Partition])
	})
}
