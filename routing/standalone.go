package routing

import (
	"time"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resilience"
	"github.com/l00pss/redcore/resp"
)

// Standalone routes every command to one pool — spec.md §4.5.1: "the
// single connection (or pool). Retry wraps the call."
type Standalone struct {
	Pool    *pool.Pool
	Retry   resilience.RetryPolicy
	Timeout time.Duration
}

// NewStandalone constructs a Standalone router over an already-built pool.
func NewStandalone(p *pool.Pool, retry resilience.RetryPolicy) *Standalone {
	return &Standalone{Pool: p, Retry: retry, Timeout: conn.DefaultTimeout}
}

func (s *Standalone) Call(_ CallOptions, verb string, args ...any) (resp.Value, error) {
	var result resp.Value
	err := s.Retry.Do(func(attempt int) error {
		return s.Pool.With(s.Timeout, func(c *conn.Connection) error {
			v, err := c.Do(verb, args...)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
	})
	return result, err
}

func (s *Standalone) WithConn(_ CallOptions, _ string, fn func(*conn.Connection) error) error {
	return s.Pool.With(s.Timeout, fn)
}

func (s *Standalone) Close() error {
	return s.Pool.Close()
}
