package resilience

import (
	"errors"
	"testing"
	"time"

	"live-interview-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"), logger.New(logger.Config{Level: "error"}))
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t)
	boom := errors.New("store down")

	for i := 0; i < 5; i++ {
		require.Error(t, cb.Execute(func() error { return boom }))
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// Open circuit short-circuits without calling fn.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb, now := newTestBreaker(t)
	boom := errors.New("store down")

	for i := 0; i < 5; i++ {
		cb.Execute(func() error { return boom })
	}
	require.Equal(t, StateOpen, cb.GetState())

	*now = now.Add(61 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb, now := newTestBreaker(t)
	boom := errors.New("store down")

	for i := 0; i < 5; i++ {
		cb.Execute(func() error { return boom })
	}
	*now = now.Add(61 * time.Second)
	require.Error(t, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t)
	boom := errors.New("store down")

	for i := 0; i < 4; i++ {
		cb.Execute(func() error { return boom })
	}
	require.NoError(t, cb.Execute(func() error { return nil }))

	// The failure streak restarts after a success.
	for i := 0; i < 4; i++ {
		cb.Execute(func() error { return boom })
	}
	assert.Equal(t, StateClosed, cb.GetState())
}
