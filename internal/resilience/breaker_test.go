package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensOnTransientFailures(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{MinRequests: 3, FailureRatio: 0.5, OpenTimeout: time.Hour})
	failing := func(_ context.Context) error {
		return NewTransientError(errors.New("503"), 503)
	}

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	assert.Equal(t, "open", b.State())

	var called bool
	err := b.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, "circuit_open", Classify(err))
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{MinRequests: 2, FailureRatio: 0.5})
	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("bad query")
		})
		assert.EqualError(t, err, "bad query")
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	b := NewBreaker("search", BreakerConfig{})
	require.NoError(t, b.Execute(context.Background(), func(_ context.Context) error { return nil }))
	assert.Equal(t, "closed", b.State())
}
