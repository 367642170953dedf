package offsets

import (
	"container/ring"
	"sync"
)

// RingBuffer is a fixed-capacity, thread-safe sliding window of partition
// sample batches, one entry per sampling tick. It is built on container/ring
// rather than a hand-rolled slice, following the same choice Burrow's
// offset storage makes for the same problem (a per-partition circular
// history of offset observations).
type RingBuffer struct {
	mu       sync.Mutex
	r        *ring.Ring
	cap      int
	len      int
}

// NewRingBuffer constructs a ring buffer with the given capacity. Capacity
// must be positive.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("offsets: ring buffer capacity must be positive")
	}
	return &RingBuffer{
		r:   ring.New(capacity),
		cap: capacity,
	}
}

// Add inserts the newest tick's samples, evicting the oldest entry once the
// buffer is at capacity.
func (b *RingBuffer) Add(tick []PartitionSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.r.Value = tick
	b.r = b.r.Next()
	if b.len < b.cap {
		b.len++
	}
}

// SnapshotFullOrEmpty returns a copy of every buffered tick in insertion
// order, but only once the buffer has reached capacity; otherwise it
// returns nil. This is the mechanism by which "not enough data yet" is
// signaled to the rules engine without a separate boolean: a short window
// is meaningless for classification, so it is never handed out at all.
func (b *RingBuffer) SnapshotFullOrEmpty() [][]PartitionSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.len < b.cap {
		return nil
	}

	out := make([][]PartitionSample, 0, b.cap)
	// b.r currently points at the slot that will be overwritten next, i.e.
	// the oldest entry — walking forward from here yields insertion order.
	cur := b.r
	for i := 0; i < b.cap; i++ {
		out = append(out, cur.Value.([]PartitionSample))
		cur = cur.Next()
	}
	return out
}

// Reset discards all buffered entries, restoring the buffer to empty. Used
// by the monitor when a rebalance changes the set of observed partitions
// and mixing pre/post-rebalance samples would produce spurious verdicts.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.r = ring.New(b.cap)
	b.len = 0
}

// Len returns the number of ticks currently buffered (for tests/metrics).
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.len
}
