package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/xerrors"
)

func TestDisabledBreakerPassesThrough(t *testing.T) {
	b := NewBreaker(Settings{Name: "off"}, nil)
	v, err := Do(b, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, gobreaker.StateClosed, b.State())

	var nilBreaker *Breaker
	s, err := Do(nilBreaker, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := NewBreaker(Settings{
		Name:        "redis-cache",
		Config:      config.BreakerConfig{Enabled: true, Timeout: time.Minute, MaxRequests: 1},
		MinRequests: 3,
	}, metrics.NewMetrics("breaker_test"))

	boom := errors.New("boom")
	for range 3 {
		_, err := Do(b, func() (any, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := Do(b, func() (string, error) { return "unreachable", nil })
	require.ErrorIs(t, err, ErrServiceUnavailable)
	e, ok := xerrors.FromError(err)
	require.True(t, ok)
	assert.True(t, e.Temporary())
	assert.Contains(t, err.Error(), "redis-cache")
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	miss := errors.New("miss")
	b := NewBreaker(Settings{
		Name:         "cache",
		Config:       config.BreakerConfig{Enabled: true, Timeout: time.Minute},
		MinRequests:  2,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, miss) },
	}, nil)

	for range 5 {
		_, err := Do(b, func() (any, error) { return nil, miss })
		assert.ErrorIs(t, err, miss)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestInputErrorsDoNotTripByDefault(t *testing.T) {
	b := NewBreaker(Settings{
		Name:        "orders",
		Config:      config.BreakerConfig{Enabled: true, Timeout: time.Minute},
		MinRequests: 2,
	}, nil)

	for range 5 {
		_, err := Do(b, func() (int, error) { return 0, xerrors.ErrSchemaMismatch.Derive("missing quantity") })
		assert.ErrorIs(t, err, xerrors.ErrSchemaMismatch)
		_, err = Do(b, func() (int, error) { return 0, context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
