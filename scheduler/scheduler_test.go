package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/xerrors"
)

func noop(context.Context) error { return nil }

func TestAddJobValidation(t *testing.T) {
	s := NewScheduler(nil, nil)

	assert.ErrorIs(t, s.AddJob(JobConfig{Spec: "@daily"}, noop), ErrJobNameEmpty)
	assert.ErrorIs(t, s.AddJob(JobConfig{Name: "a", Spec: "@daily"}, nil), ErrJobHandlerNil)
	assert.ErrorIs(t, s.AddJob(JobConfig{Name: "a"}, noop), ErrJobScheduleInvalid)
	assert.ErrorIs(t, s.AddJob(JobConfig{Name: "a", Spec: "sometimes"}, noop), ErrJobScheduleInvalid)

	require.NoError(t, s.AddJob(JobConfig{Name: "a", Spec: "0 3 * * *"}, noop))
	assert.ErrorIs(t, s.AddJob(JobConfig{Name: "a", Interval: time.Minute}, noop), ErrJobAlreadyExists)
}

func TestNextFollowsCronSpec(t *testing.T) {
	s := NewScheduler(nil, nil)
	require.NoError(t, s.AddJob(FromConfig("refresh", config.Default().Scheduler), noop))

	from := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	next, err := s.Next("refresh", from)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 5, 2, 3, 0, 0, 0, time.Local).Equal(next), "next=%v", next)

	_, err = s.Next("missing", from)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunNowRetriesTransientErrors(t *testing.T) {
	m := metrics.NewMetrics("sched_test")
	s := NewScheduler(nil, m)

	var calls atomic.Int32
	cfg := JobConfig{
		Name:     "flaky",
		Interval: time.Hour,
		Retry:    RetryPolicy{InitialBackoff: time.Millisecond, Multiplier: 2, MaxRetries: 3},
	}
	require.NoError(t, s.AddJob(cfg, func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "flaky"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.jobRuns.WithLabelValues("flaky", "success")))
}

func TestConfigurationErrorsAreNotRetried(t *testing.T) {
	s := NewScheduler(nil, nil)
	var calls atomic.Int32
	cfg := JobConfig{
		Name:     "bad",
		Interval: time.Hour,
		Retry:    RetryPolicy{InitialBackoff: time.Millisecond, MaxRetries: 5},
	}
	require.NoError(t, s.AddJob(cfg, func(context.Context) error {
		calls.Add(1)
		return xerrors.Configuration("ingest.path is required")
	}))

	err := s.RunNow(context.Background(), "bad")
	assert.True(t, errors.Is(err, xerrors.ErrConfiguration))
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrJobNotFound)
}

func TestDegenerateBoundsAreNotRetried(t *testing.T) {
	s := NewScheduler(nil, nil)
	var calls atomic.Int32
	cfg := JobConfig{
		Name:     "bounds",
		Interval: time.Hour,
		Retry:    RetryPolicy{InitialBackoff: time.Millisecond, MaxRetries: 5},
	}
	require.NoError(t, s.AddJob(cfg, func(context.Context) error {
		calls.Add(1)
		return xerrors.DegenerateBounds("SKU-1", "floor_above_ceiling")
	}))

	err := s.RunNow(context.Background(), "bounds")
	assert.True(t, errors.Is(err, xerrors.ErrDegenerateBounds))
	assert.Equal(t, int32(1), calls.Load())
}

func TestConcurrentRunIsSkipped(t *testing.T) {
	s := NewScheduler(nil, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.AddJob(JobConfig{Name: "slow", Interval: time.Hour}, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started
	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), ErrJobBusy)
	close(release)
	assert.NoError(t, <-done)
}

func TestStartRunsOnStartAndStops(t *testing.T) {
	s := NewScheduler(nil, nil)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddJob(JobConfig{Name: "boot", Spec: "@daily", RunOnStart: true}, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	s.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{InitialBackoff: time.Hour, MaxRetries: 1}
	err := p.Do(ctx, func() error {
		cancel()
		return errors.New("boom")
	}, func(error) bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
}
