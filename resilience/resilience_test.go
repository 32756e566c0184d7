package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l00pss/redcore/resilience"
)

type retryableErr struct{ retryable bool }

func (e retryableErr) Error() string   { return "boom" }
func (e retryableErr) Retryable() bool { return e.retryable }

func TestRetryDoRetriesOnlyClassifiedErrors(t *testing.T) {
	attempts := 0
	err := resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}.Do(
		func(attempt int) error {
			attempts++
			if attempt < 2 {
				return retryableErr{retryable: true}
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryDoStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := resilience.RetryPolicy{MaxRetries: 5}.Do(func(attempt int) error {
		attempts++
		return retryableErr{retryable: false}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	attempts := 0
	want := retryableErr{retryable: true}
	err := resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}.Do(
		func(attempt int) error {
			attempts++
			return want
		})
	require.Equal(t, 3, attempts)
	require.Equal(t, want, err)
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := resilience.NewCircuitBreaker(resilience.BreakerOptions{FailureThreshold: 5, SuccessThreshold: 2})

	callCount := 0
	call := func() error {
		callCount++
		return errors.New("downstream failure")
	}

	for i := 0; i < 5; i++ {
		err := b.Execute(call)
		require.Error(t, err)
	}
	require.Equal(t, resilience.Open, b.State())

	err := b.Execute(call)
	require.ErrorIs(t, err, resilience.ErrOpen)
	require.Equal(t, 5, callCount) // the 6th call never invoked call
}

func TestCircuitBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	clock := time.Now()
	b := resilience.NewCircuitBreaker(resilience.BreakerOptions{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	})
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Error(t, b.Execute(func() error { return errors.New("fail") }))
	require.Equal(t, resilience.Open, b.State())

	_ = clock
	time.Sleep(20 * time.Millisecond)

	called := false
	err := b.Execute(func() error { called = true; return nil })
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, resilience.Closed, b.State())
}

func TestFailureDetectorTriggersOnRateAndCount(t *testing.T) {
	d := resilience.NewFailureDetector(resilience.FailureDetectorOptions{
		WindowSize:           time.Minute,
		MinFailures:          3,
		FailureRateThreshold: 0.5,
	})
	for i := 0; i < 2; i++ {
		d.RecordFailure()
	}
	require.False(t, d.Triggered()) // below min_failures

	d.RecordFailure()
	require.True(t, d.Triggered())

	d.Reset()
	require.False(t, d.Triggered())
}

func TestFailureDetectorPrunesOldEntries(t *testing.T) {
	now := time.Now()
	tick := now
	d := resilience.NewFailureDetector(resilience.FailureDetectorOptions{
		WindowSize:           50 * time.Millisecond,
		MinFailures:          1,
		FailureRateThreshold: 0.1,
		Now:                  func() time.Time { return tick },
	})
	d.RecordFailure()
	require.True(t, d.Triggered())

	tick = now.Add(100 * time.Millisecond)
	require.False(t, d.Triggered())
}

func TestHealthCheckerMajorityPolicy(t *testing.T) {
	results := map[string][]bool{"a": {true, false, true}}
	calls := map[string]int{}
	h := resilience.NewHealthChecker(resilience.HealthCheckOptions{
		Probes: 3,
		Policy: resilience.PolicyMajority,
		Probe: func(addr string) bool {
			i := calls[addr]
			calls[addr] = i + 1
			return results[addr][i]
		},
	})
	h.Monitor("a")
	h.ProbeOnce()
	require.True(t, h.Healthy("a"))
}

func TestHealthCheckerAllPolicyFlipsUnhealthy(t *testing.T) {
	var flips []bool
	h := resilience.NewHealthChecker(resilience.HealthCheckOptions{
		Probes: 2,
		Policy: resilience.PolicyAll,
		Probe:  func(addr string) bool { return false },
		OnChange: func(addr string, healthy bool) {
			flips = append(flips, healthy)
		},
	})
	h.Monitor("a")
	h.ProbeOnce()
	require.False(t, h.Healthy("a"))
	require.Equal(t, []bool{false}, flips)
}
