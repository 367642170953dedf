package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/streamforge/kflow/pkg/lagrules"
	"github.com/streamforge/kflow/pkg/offsets"
)

type fakeSampler struct {
	ticks []func() ([]offsets.PartitionSample, error)
	calls int
}

func (f *fakeSampler) Sample(_ context.Context) ([]offsets.PartitionSample, error) {
	if f.calls >= len(f.ticks) {
		return nil, nil
	}
	fn := f.ticks[f.calls]
	f.calls++
	return fn()
}

func stalledTick() ([]offsets.PartitionSample, error) {
	return []offsets.PartitionSample{offsets.NewPartitionSample(0, offsets.Valid(10), offsets.Valid(0), offsets.Valid(60))}, nil
}

func TestMonitor_EmitsVerdictOnceWindowIsFull(t *testing.T) {
	fs := &fakeSampler{ticks: []func() ([]offsets.PartitionSample, error){stalledTick, stalledTick}}

	var received map[int32]lagrules.Verdict
	m := New(
		Config{Topic: "t", PollInterval: time.Millisecond, WindowSize: 2},
		fs,
		nil,
		func(v map[int32]lagrules.Verdict) { received = v },
		log.NewNopLogger(),
		prometheus.NewRegistry(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.tick(ctx))
	require.Nil(t, received)

	require.NoError(t, m.tick(ctx))
	require.NotNil(t, received)
	require.Equal(t, lagrules.Rule2Error, received[0].Kind)
}

func TestMonitor_ResetsWindowOnRebalance(t *testing.T) {
	fs := &fakeSampler{ticks: []func() ([]offsets.PartitionSample, error){stalledTick, stalledTick}}
	tracker := NewAssignmentTracker("t")

	m := New(Config{Topic: "t", PollInterval: time.Millisecond, WindowSize: 2}, fs, tracker, nil, log.NewNopLogger(), prometheus.NewRegistry())

	ctx := context.Background()
	require.NoError(t, m.tick(ctx))
	require.Equal(t, 1, m.window.Len())

	tracker.OnAssigned(map[string][]int32{"t": {0}})
	require.NoError(t, m.tick(ctx))
	require.Equal(t, 1, m.window.Len()) // reset then re-added, not 2
}

type alwaysFailingSampler struct{}

func (alwaysFailingSampler) Sample(_ context.Context) ([]offsets.PartitionSample, error) {
	return nil, errors.New("boom")
}

func TestMonitor_ReturnsErrorAfterMaxConsecutiveFailures(t *testing.T) {
	m := New(Config{Topic: "t", PollInterval: time.Millisecond, WindowSize: 2}, alwaysFailingSampler{}, nil, nil, log.NewNopLogger(), prometheus.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := m.running(ctx)
	require.Error(t, err)
}
