// Package kafkaopt holds the configuration surface and client construction
// helpers shared by the dispatcher and the monitor. It is grounded on
// grafana/tempo's pkg/ingest/config.go: a flag-registered config struct with
// a Validate() method and a commonKafkaClientOptions-style helper that turns
// config into franz-go client options.
package kafkaopt

import (
	"errors"
	"flag"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/grafana/dskit/flagext"
)

var (
	// ErrMissingClientID is returned by Validate when ClientID is empty.
	ErrMissingClientID = errors.New("kafkaopt: client_id must be set")
	// ErrMissingBrokers is returned by Validate when Brokers is empty or
	// fails the host:port / URI shape check.
	ErrMissingBrokers = errors.New("kafkaopt: brokers must be a non-empty host:port address or URI")
	// ErrEmptyTopics is returned by Validate when no topics are configured.
	ErrEmptyTopics = errors.New("kafkaopt: at least one topic must be configured")
	// ErrMissingGroupID is returned by Validate when GroupID is empty.
	ErrMissingGroupID = errors.New("kafkaopt: group_id must be set")
)

// hostPortPattern is the fallback validator for broker addresses that are
// not parseable as an absolute URI with a non-empty authority.
var hostPortPattern = regexp.MustCompile(`^[^\s:/]+(,[^\s:/]+)*(:[0-9]+)?(,[^\s:/]+(:[0-9]+)?)*$`)

// AutoOffsetReset selects where a new consumer group starts reading from.
type AutoOffsetReset string

const (
	AutoOffsetResetEarliest AutoOffsetReset = "earliest"
	AutoOffsetResetLatest   AutoOffsetReset = "latest"
)

// Config is the recognized configuration surface from the spec: client
// identity, broker/topic/group selection, batching and statistics knobs, and
// the monitor's poll/window parameters. Parsing config from a file or
// environment is an external-collaborator concern (spec §1); this struct
// only registers flags and self-validates, the way KafkaConfig does in the
// teacher.
type Config struct {
	ClientID string   `yaml:"client_id"`
	Brokers  string   `yaml:"brokers"`
	Topics   []string `yaml:"topics"`
	GroupID  string   `yaml:"group_id"`

	MaxBatchSize       int             `yaml:"max_batch_size"`
	StatisticsInterval time.Duration   `yaml:"statistics_interval"`
	AutoOffsetReset    AutoOffsetReset `yaml:"auto_offset_reset"`

	// SASLUsername/SASLPassword are optional; when set both must be set.
	SASLUsername string         `yaml:"sasl_username"`
	SASLPassword flagext.Secret `yaml:"sasl_password"`

	// Monitor-only knobs; zero value means "use the documented default".
	PollInterval time.Duration `yaml:"poll_interval"`
	WindowSize   int           `yaml:"window_size"`
}

// RegisterFlagsWithPrefix registers this config's flags under prefix,
// following the teacher's RegisterFlagsWithPrefix convention so multiple
// independently-configured consumers can coexist in one flag set.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.ClientID, prefix+".client-id", "", "Kafka client ID reported to the broker.")
	f.StringVar(&cfg.Brokers, prefix+".brokers", "", "Comma-separated list of host:port broker addresses, or a bootstrap URI.")
	f.Var((*topicList)(&cfg.Topics), prefix+".topics", "Comma-separated list of topics to consume.")
	f.StringVar(&cfg.GroupID, prefix+".group-id", "", "Consumer group ID. Distinct group IDs consume independent cursors over the same topic.")
	f.IntVar(&cfg.MaxBatchSize, prefix+".max-batch-size", 500, "Maximum number of messages delivered to the handler in a single batch.")
	f.DurationVar(&cfg.StatisticsInterval, prefix+".statistics-interval", 0, "How often the underlying client emits statistics events. Zero disables statistics.")
	f.DurationVar(&cfg.PollInterval, prefix+".poll-interval", 30*time.Second, "How often the lag monitor samples offsets.")
	f.IntVar(&cfg.WindowSize, prefix+".window-size", 60, "Number of samples kept in the lag monitor's sliding window.")
	f.StringVar(&cfg.SASLUsername, prefix+".sasl-username", "", "SASL username for broker authentication.")
	f.Var(&cfg.SASLPassword, prefix+".sasl-password", "SASL password for broker authentication.")
}

// Validate checks the configuration surface per spec §7's "configuration
// error" taxonomy: raised at construction, not catchable by design.
func (cfg *Config) Validate() error {
	if cfg.ClientID == "" {
		return ErrMissingClientID
	}
	if !validBrokers(cfg.Brokers) {
		return ErrMissingBrokers
	}
	if len(cfg.Topics) == 0 {
		return ErrEmptyTopics
	}
	if cfg.GroupID == "" {
		return ErrMissingGroupID
	}
	if (cfg.SASLUsername == "") != (cfg.SASLPassword.String() == "") {
		return errors.New("kafkaopt: sasl_username and sasl_password must be set together")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60
	}
	if cfg.MaxBatchSize <= 0 {
		return errors.New("kafkaopt: max_batch_size must be positive")
	}
	return nil
}

// topicList is a flag.Value adapter letting a comma-separated command-line
// flag populate Config.Topics in place, the way splitBrokers (client.go)
// parses the equivalent broker list.
type topicList []string

func (t *topicList) String() string {
	if t == nil {
		return ""
	}
	return strings.Join(*t, ",")
}

func (t *topicList) Set(s string) error {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	*t = out
	return nil
}

// validBrokers accepts an absolute URI with a non-empty authority (e.g.
// "kafka://broker:9092") or falls back to a host:port-shaped address list
// (one or more comma-separated hosts, each with an optional :port), matching
// spec §6's validation rule.
func validBrokers(s string) bool {
	if s == "" {
		return false
	}
	if u, err := url.ParseRequestURI(s); err == nil && u.IsAbs() && u.Host != "" {
		return true
	}
	return hostPortPattern.MatchString(s)
}
