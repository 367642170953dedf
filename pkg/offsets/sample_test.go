package offsets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPartitionSample_NormalLag(t *testing.T) {
	s := NewPartitionSample(0, Valid(90), Valid(0), Valid(100))
	require.Equal(t, int64(10), s.Lag)
}

func TestNewPartitionSample_MissingConsumerFallsBackToEarliest(t *testing.T) {
	s := NewPartitionSample(0, Missing(), Valid(20), Valid(100))
	require.Equal(t, int64(80), s.Lag)
	require.True(t, s.ConsumerOffset.IsMissing())
}

func TestNewPartitionSample_IncompleteWatermarksYieldZeroLag(t *testing.T) {
	s := NewPartitionSample(0, Valid(10), Missing(), Missing())
	require.Equal(t, int64(0), s.Lag)
}
