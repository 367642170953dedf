package kafkaopt

import (
	"context"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// NewReaderClient builds a kgo.Client configured as a consumer-group member
// for cfg's topics, following the teacher's NewReaderClient helper
// (referenced from modules/blockbuilder/blockbuilder.go). onAssigned and
// onRevoked may be nil; when set they are wired to kgo's rebalance
// callbacks, which is how the monitor learns about partition reassignment
// (spec §4.4) without joining a second group of its own.
func NewReaderClient(
	cfg Config,
	logger log.Logger,
	onAssigned func(assigned map[string][]int32),
	onRevoked func(lost map[string][]int32),
) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(splitBrokers(cfg.Brokers)...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.WithLogger(kgoLogAdapter{logger}),
	}

	switch cfg.AutoOffsetReset {
	case AutoOffsetResetLatest:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	if cfg.SASLUsername != "" {
		opts = append(opts, saslOptions(cfg)...)
	}

	if onAssigned != nil {
		opts = append(opts, kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			onAssigned(assigned)
		}))
	}
	if onRevoked != nil {
		opts = append(opts, kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
			onRevoked(lost)
		}))
		opts = append(opts, kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
			onRevoked(lost)
		}))
	}

	return kgo.NewClient(opts...)
}

// NewAdminClient wraps an existing client in a kadm.Client for offset and
// metadata introspection (committed/watermark/metadata queries, spec §6).
func NewAdminClient(client *kgo.Client) *kadm.Client {
	return kadm.NewClient(client)
}

func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// kgoLogAdapter threads a go-kit logger through franz-go's own logging
// interface, matching the teacher's practice of passing its ambient logger
// down into the Kafka client rather than letting franz-go log to stderr.
type kgoLogAdapter struct {
	logger log.Logger
}

func (a kgoLogAdapter) Level() kgo.LogLevel { return kgo.LogLevelInfo }

func (a kgoLogAdapter) Log(lvl kgo.LogLevel, msg string, keyvals ...interface{}) {
	args := append([]interface{}{"msg", msg, "component", "franz-go"}, keyvals...)
	switch lvl {
	case kgo.LogLevelError:
		level.Error(a.logger).Log(args...)
	case kgo.LogLevelWarn:
		level.Warn(a.logger).Log(args...)
	case kgo.LogLevelDebug:
		level.Debug(a.logger).Log(args...)
	default:
		level.Info(a.logger).Log(args...)
	}
}

func saslOptions(cfg Config) []kgo.Opt {
	return []kgo.Opt{
		kgo.SASL(plain.Auth{
			User: cfg.SASLUsername,
			Pass: cfg.SASLPassword.String(),
		}.AsMechanism()),
	}
}
