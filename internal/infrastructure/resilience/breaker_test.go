package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func fail() error    { return errUpstream }
func succeed() error { return nil }

func tripAfter(n uint32) func(Counts) bool {
	return func(counts Counts) bool { return counts.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Interval: time.Minute, Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{Interval: time.Minute, Timeout: time.Minute, ReadyToTrip: tripAfter(3)},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the failure streak",
			settings:      Settings{Interval: time.Minute, Timeout: time.Minute, ReadyToTrip: tripAfter(3)},
			requests:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)
			for _, success := range tt.requests {
				if success {
					_ = breaker.Do(succeed)
				} else {
					_ = breaker.Do(fail)
				}
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Interval: time.Minute, Timeout: time.Minute})

	v, err := Call(breaker, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	assert.ErrorIs(t, breaker.Do(fail), errUpstream)

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenState(t *testing.T) {
	breaker := New("test", Settings{Interval: time.Minute, Timeout: time.Minute, ReadyToTrip: tripAfter(2)})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(fail)
	}
	assert.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	breaker := New("test", Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: tripAfter(2),
		Clock:       clock,
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(fail)
	}
	assert.Equal(t, StateOpen, breaker.State())

	clock.Advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, breaker.Do(succeed))
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	breaker := New("test", Settings{Timeout: time.Second, ReadyToTrip: tripAfter(1), Clock: clock})

	_ = breaker.Do(fail)
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerHalfOpenLimitsRequests(t *testing.T) {
	clock := clockwork.NewFakeClock()
	breaker := New("test", Settings{Timeout: time.Second, ReadyToTrip: tripAfter(1), Clock: clock})

	_ = breaker.Do(fail)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- breaker.Do(func() error { <-release; return nil })
	}()

	require.Eventually(t, func() bool { return breaker.Counts().Requests == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, breaker.Do(succeed), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerIsSuccessful(t *testing.T) {
	errDomain := errors.New("rejected by upstream")
	breaker := New("test", Settings{
		ReadyToTrip:  tripAfter(1),
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errDomain) },
	})

	assert.ErrorIs(t, breaker.Do(func() error { return errDomain }), errDomain)
	assert.Equal(t, StateClosed, breaker.State())

	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	breaker := New("test", Settings{Interval: time.Minute, ReadyToTrip: tripAfter(3), Clock: clock})

	_ = breaker.Do(fail)
	_ = breaker.Do(fail)
	clock.Advance(2 * time.Minute)
	_ = breaker.Do(fail)

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestBreakerCallbacks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var transitions []string

	breaker := New("test", Settings{
		Timeout:     10 * time.Second,
		ReadyToTrip: tripAfter(2),
		Clock:       clock,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(fail)
	}
	clock.Advance(11 * time.Second)
	require.NoError(t, breaker.Do(succeed))

	assert.Equal(t, []string{"test:closed->open", "test:open->half-open", "test:half-open->closed"}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{ReadyToTrip: tripAfter(1)})

	assert.Panics(t, func() {
		_ = breaker.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}
