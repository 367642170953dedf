package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/atomic"
)

const testTopic = "events"

// fakeBroker is a minimal stand-in for a Kafka broker, grounded on
// pkg/util/kafka's InMemoryKafkaClient: it satisfies Poller and OffsetAdmin
// against real kgo.Fetches/kgo.Record/kadm.Offsets/kadm.OffsetResponses
// types without a running cluster. Unlike the teacher's fake, PollFetches
// blocks until new records exist (or ctx is cancelled) rather than
// returning immediately, so a dispatcher under test doesn't busy-spin.
type fakeBroker struct {
	mu   sync.Mutex
	cond *sync.Cond

	records   map[int32][]*kgo.Record
	fetched   map[int32]int64
	committed map[string]map[int32]int64
	closed    bool

	// commitCalls counts CommitOffsets invocations, which arrive from the
	// dispatcher's commit goroutine while the test goroutine reads the count,
	// the same atomic.Int32 counter idiom blockbuilder_test.go uses for its
	// own concurrency-safe call counts.
	commitCalls atomic.Int32
}

func newFakeBroker() *fakeBroker {
	b := &fakeBroker{
		records:   make(map[int32][]*kgo.Record),
		fetched:   make(map[int32]int64),
		committed: make(map[string]map[int32]int64),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *fakeBroker) produce(partition int32, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := int64(len(b.records[partition]))
	for i := 0; i < n; i++ {
		off := start + int64(i)
		b.records[partition] = append(b.records[partition], &kgo.Record{
			Topic:     testTopic,
			Partition: partition,
			Offset:    off,
			Key:       []byte("k"),
			Value:     []byte("v"),
			Timestamp: time.Now(),
		})
	}
	b.cond.Broadcast()
}

func (b *fakeBroker) AddConsumePartitions(_ map[string]map[int32]kgo.Offset) {}

func (b *fakeBroker) RemoveConsumePartitions(_ map[string][]int32) {}

func (b *fakeBroker) PollFetches(ctx context.Context) kgo.Fetches {
	unblock := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-unblock:
		}
	}()
	defer close(unblock)

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return kgo.Fetches{}
		}

		var partitions []kgo.FetchPartition
		for p, avail := range b.records {
			next := b.fetched[p]
			if next >= int64(len(avail)) {
				continue
			}
			partitions = append(partitions, kgo.FetchPartition{
				Partition: p,
				Records:   append([]*kgo.Record(nil), avail[next:]...),
			})
			b.fetched[p] = int64(len(avail))
		}
		if len(partitions) > 0 {
			return kgo.Fetches{{Topics: []kgo.FetchTopic{{Topic: testTopic, Partitions: partitions}}}}
		}
		if b.closed {
			return kgo.Fetches{}
		}
		b.cond.Wait()
	}
}

func (b *fakeBroker) CommitOffsets(_ context.Context, group string, offs kadm.Offsets) (kadm.OffsetResponses, error) {
	b.commitCalls.Inc()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.committed[group] == nil {
		b.committed[group] = make(map[int32]int64)
	}
	resp := make(kadm.OffsetResponses)
	offs.Each(func(o kadm.Offset) {
		b.committed[group][o.Partition] = o.At
		resp.Add(kadm.OffsetResponse{Offset: o})
	})
	return resp, nil
}

func (b *fakeBroker) committedOffset(group string, partition int32) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[group][partition]
}

func testConfig() Config {
	return Config{
		Topic:          testTopic,
		GroupID:        "grp",
		MaxBatchSize:   5,
		Concurrency:    4,
		MaxQueueDepth:  4,
		CommitInterval: 20 * time.Millisecond,
	}
}

// waitFor polls cond until it's true or the deadline passes, returning
// whether cond ever became true. Used instead of a fixed sleep so the test
// only waits as long as it actually needs to.
func waitFor(deadline time.Duration, cond func() bool) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestDispatcher_ProcessesAllMessagesInOrder(t *testing.T) {
	broker := newFakeBroker()
	broker.produce(0, 23) // more than one batch at MaxBatchSize=5

	var mu sync.Mutex
	var seen []int64
	lastOffset := int64(-1)

	handler := func(_ context.Context, _ *Handle, batch Batch) Completion {
		mu.Lock()
		defer mu.Unlock()
		require.LessOrEqual(t, len(batch.Messages), 5)
		for _, m := range batch.Messages {
			require.Greater(t, m.Offset, lastOffset, "offsets must be strictly increasing across and within batches")
			lastOffset = m.Offset
			seen = append(seen, m.Offset)
		}
		return Ack()
	}

	ctx := context.Background()
	handle, err := Start(ctx, log.NewNopLogger(), testConfig(), broker, broker, handler, prometheus.NewRegistry())
	require.NoError(t, err)

	require.True(t, waitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 23
	}))

	handle.Stop()
	require.NoError(t, handle.AwaitCompletion())

	require.Len(t, seen, 23)
	require.EqualValues(t, 23, broker.committedOffset("grp", 0))
	require.Greater(t, broker.commitCalls.Load(), int32(0))
}

func TestDispatcher_PerPartitionMutualExclusion(t *testing.T) {
	broker := newFakeBroker()
	broker.produce(0, 10)
	broker.produce(1, 10)

	var mu sync.Mutex
	inFlight := make(map[int32]bool)
	violated := false
	processed := 0

	handler := func(_ context.Context, _ *Handle, batch Batch) Completion {
		mu.Lock()
		if inFlight[batch.Partition] {
			violated = true
		}
		inFlight[batch.Partition] = true
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight[batch.Partition] = false
		processed += len(batch.Messages)
		mu.Unlock()
		return Ack()
	}

	cfg := testConfig()
	cfg.Concurrency = 4
	cfg.MaxBatchSize = 3

	handle, err := Start(context.Background(), log.NewNopLogger(), cfg, broker, broker, handler, prometheus.NewRegistry())
	require.NoError(t, err)

	require.True(t, waitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 20
	}))

	handle.Stop()
	require.NoError(t, handle.AwaitCompletion())

	mu.Lock()
	defer mu.Unlock()
	require.False(t, violated, "two batches for the same partition ran concurrently")
}

func TestDispatcher_HandlerFailurePropagatesThroughAwaitCompletion(t *testing.T) {
	broker := newFakeBroker()
	broker.produce(0, 5)

	boom := errors.New("boom")
	handler := func(_ context.Context, _ *Handle, _ Batch) Completion {
		return Nack(boom)
	}

	handle, err := Start(context.Background(), log.NewNopLogger(), testConfig(), broker, broker, handler, prometheus.NewRegistry())
	require.NoError(t, err)

	err = handle.AwaitCompletion()
	require.Error(t, err)

	var handlerErr *HandlerError
	require.True(t, errors.As(err, &handlerErr))
	require.Equal(t, int32(0), handlerErr.Partition)
	require.ErrorIs(t, err, boom)
}

func TestDispatcher_HandlerCanStopItselfViaHandle(t *testing.T) {
	broker := newFakeBroker()
	broker.produce(0, 1)

	var mu sync.Mutex
	stopped := false

	handler := func(_ context.Context, h *Handle, _ Batch) Completion {
		mu.Lock()
		if !stopped {
			stopped = true
			h.Stop()
		}
		mu.Unlock()
		return Ack()
	}

	handle, err := Start(context.Background(), log.NewNopLogger(), testConfig(), broker, broker, handler, prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, handle.AwaitCompletion())
}
