package dispatcher

import (
	"context"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Poller is the narrow slice of *kgo.Client the dispatcher depends on. It is
// satisfied directly by *kgo.Client and by a hand-written in-memory fake in
// tests, following the shape of pkg/util/kafka's InMemoryKafkaClient (itself
// a *kgo.Client stand-in built for the same reason: exercising consumer
// logic without a live broker).
type Poller interface {
	PollFetches(ctx context.Context) kgo.Fetches
	AddConsumePartitions(partitions map[string]map[int32]kgo.Offset)
	RemoveConsumePartitions(partitions map[string][]int32)
}

// OffsetAdmin is the narrow slice of *kadm.Client the dispatcher depends on
// for offset commits, satisfied directly by *kadm.Client.
type OffsetAdmin interface {
	CommitOffsets(ctx context.Context, group string, os kadm.Offsets) (kadm.OffsetResponses, error)
}
