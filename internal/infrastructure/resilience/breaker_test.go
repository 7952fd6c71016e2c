package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("test", Settings{ReadyToTrip: tripAfter(2)})
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Do(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(5), b.Counts().TotalSuccesses)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Settings{ReadyToTrip: tripAfter(3)})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// Open circuit fails fast without calling fn.
	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New("test", Settings{
		MaxRequests: 1,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
	})

	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// A successful probe closes the circuit.
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := New("test", Settings{
		MaxRequests: 1,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
	})

	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenQuota(t *testing.T) {
	b := New("test", Settings{
		MaxRequests: 1,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
	})

	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	time.Sleep(20 * time.Millisecond)

	// First probe is admitted and left in flight; the second is refused.
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error { <-release; return nil })
	}()
	require.Eventually(t, func() bool {
		return b.Counts().Requests == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("test", Settings{
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	require.Error(t, b.Do(func() error { return errBoom }))
	assert.Equal(t, []string{"closed>open"}, transitions)
}
