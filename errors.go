package redcore

import (
	"errors"
	"fmt"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resilience"
	"github.com/l00pss/redcore/resp"
	"github.com/l00pss/redcore/routing"
)

// ProtocolError, IoError, TimeoutError, CommandError, MovedError,
// AskError, TryAgainError, ClusterDownError, CrossSlotError,
// ReadOnlyError, CircuitBreakerOpenError, and PoolExhaustedError are the
// seven surfaced kinds from spec.md §7. The subpackages raise their own
// local types (to stay free of an import cycle back to this package);
// classify wraps whichever one came back from a Router.Call into the
// exported kind a caller of Client is expected to type-switch or
// errors.As against.
type (
	ProtocolError           = resp.ProtocolError
	IoError                 = conn.IoError
	TimeoutError            = conn.TimeoutError
	CommandError            = conn.CommandError
	MovedError              = routing.MovedError
	AskError                = routing.AskError
	TryAgainError           = routing.TryAgainError
	ClusterDownError        = routing.ClusterDownError
	CrossSlotError          = routing.CrossSlotError
	ReadOnlyError           = routing.ReadOnlyError
	DiscoveryServiceError   = routing.DiscoveryServiceError
	MaxRedirectionsError    = routing.MaxRedirectionsError
)

// CircuitBreakerOpenError reports a call rejected because its breaker is
// OPEN — spec.md §7. Not retryable (or the caller's own fallback applies).
type CircuitBreakerOpenError struct{ Name string }

func (e *CircuitBreakerOpenError) Error() string {
	if e.Name == "" {
		return "redcore: circuit breaker open"
	}
	return fmt.Sprintf("redcore: circuit breaker %q open", e.Name)
}

// PoolExhaustedError reports an Acquire timeout — spec.md §7.
type PoolExhaustedError struct{ Addr string }

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("redcore: pool exhausted for %s", e.Addr)
}

// classify maps a subpackage-local sentinel error to its exported wrapper;
// addr labels a PoolExhaustedError (the Client passes its topology name
// here). Errors already in the exported taxonomy (or
// anything unrecognized) pass through unchanged.
func classify(addr string, breakerName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pool.ErrPoolExhausted) {
		return &PoolExhaustedError{Addr: addr}
	}
	if errors.Is(err, resilience.ErrOpen) {
		return &CircuitBreakerOpenError{Name: breakerName}
	}
	return err
}
