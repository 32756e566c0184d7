package routing

import "fmt"

// MovedError reports a permanent slot ownership change — spec.md §7.
type MovedError struct {
	Slot int
	Addr string
}

func (e *MovedError) Error() string { return fmt.Sprintf("MOVED %d %s", e.Slot, e.Addr) }

// AskError reports an in-flight slot migration — spec.md §7.
type AskError struct {
	Slot int
	Addr string
}

func (e *AskError) Error() string { return fmt.Sprintf("ASK %d %s", e.Slot, e.Addr) }

// TryAgainError reports a transient multi-key operation conflict during
// resharding — spec.md §7.
type TryAgainError struct{ Msg string }

func (e *TryAgainError) Error() string { return "TRYAGAIN " + e.Msg }

// ClusterDownError reports the cluster refusing commands entirely —
// spec.md §7. Not retryable.
type ClusterDownError struct{ Msg string }

func (e *ClusterDownError) Error() string { return "CLUSTERDOWN " + e.Msg }

// CrossSlotError reports keys in one command/transaction mapping to
// different slots — spec.md §7. Not retryable.
type CrossSlotError struct{ Msg string }

func (e *CrossSlotError) Error() string { return "CROSSSLOT " + e.Msg }

// ReadOnlyError reports a write sent to a demoted master — spec.md §7.
// Retryable: it drives Sentinel rediscovery.
type ReadOnlyError struct{ Msg string }

func (e *ReadOnlyError) Error() string   { return "READONLY " + e.Msg }
func (e *ReadOnlyError) Retryable() bool { return true }

// FailoverError reports a ROLE mismatch after a Sentinel-discovered
// connect — spec.md §4.5.2 "Role verification".
type FailoverError struct{ Msg string }

func (e *FailoverError) Error() string   { return "failover: " + e.Msg }
func (e *FailoverError) Retryable() bool { return true }

// DiscoveryServiceError reports every Discovery Service seed failing —
// spec.md §4.5.5.
type DiscoveryServiceError struct{ Msg string }

func (e *DiscoveryServiceError) Error() string { return "discovery service: " + e.Msg }

// MaxRedirectionsError reports the cluster redirection budget (5) being
// exceeded for one command — spec.md §4.5.3, §8 scenario 4.
type MaxRedirectionsError struct{ Verb string }

func (e *MaxRedirectionsError) Error() string {
	return "redcore/routing: max redirections exceeded for " + e.Verb
}
