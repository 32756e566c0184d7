/*
Package resilience implements the retry policy, circuit breaker, health
checker, and failure detector from spec.md §4.6. The retry policy is
grounded on the alim08-fin_line redisclient's backoff.Retry call sites
(AddToStream/HSet), generalized from a fixed `backoff.WithMaxRetries`
wrapper into an explicit attempt loop so a per-retry hook (connection
poisoning) can run between attempts — something `backoff.Retry` itself
has no hook for.
*/
package resilience

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryableError is implemented by errors that carry their own retry
// classification (e.g. conn.IoError, conn.TimeoutError). Classify treats a
// plain error that doesn't implement this as not retryable.
type RetryableError interface {
	error
	Retryable() bool
}

// Classify reports whether err belongs to spec.md §4.6's retryable
// categories: transport failure, timeout, or explicit caller opt-in.
// Server logic errors (WRONGTYPE, SYNTAX) and protocol errors are not
// retryable.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// RetryPolicy configures the backoff loop. The zero value is usable: 3
// retries, exponential full jitter between 25ms and 2s, matching spec.md
// §4.6's stated defaults.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Retryable overrides Classify, if set — lets callers opt additional
	// error values into the retry loop.
	Retryable func(error) bool

	// OnRetry runs between attempts, e.g. to poison the connection that
	// just failed before the next attempt dials a replacement.
	OnRetry func(attempt int, err error)

	// Logger receives a Warn line before every retried attempt. A no-op
	// logger is substituted if nil.
	Logger *zap.Logger
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 25 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	if p.Retryable == nil {
		p.Retryable = Classify
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return p
}

// newBackOff builds a cenkalti/backoff/v4 ExponentialBackOff tuned to the
// policy's base/cap, with full jitter (RandomizationFactor 1.0) and no
// internal cap on elapsed time — attempt counting is the loop's job, not
// the backoff generator's.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 1.0
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs fn, retrying per the policy on classified-retryable errors. The
// final error (retryable or not) is returned once MaxRetries is
// exhausted or fn returns a non-retryable error.
func (p RetryPolicy) Do(fn func(attempt int) error) error {
	p = p.withDefaults()
	bo := p.newBackOff()

	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxRetries {
			break
		}
		delay := bo.NextBackOff()
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		p.Logger.Warn("retrying redis command",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		time.Sleep(delay)
	}
	return err
}
