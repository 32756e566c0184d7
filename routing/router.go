/*
Package routing implements the six topology-aware router variants from
spec.md §4.5: standalone, Sentinel, Cluster, DNS multi-endpoint, Discovery
Service, and Active-Active multiplex. Each variant selects a connection
for a command, executes it, interprets typed errors for possible
redirection, and yields the result — the shared Router interface below.

Grounded on the teacher's server.go dispatch loop (a single entry point
that looks at a decoded command and decides what to do with it) turned
inside-out: instead of a server deciding how to answer a command, a
Router decides which upstream connection should answer it.
*/
package routing

import (
	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/resp"
)

// CallOptions carries per-call routing hints.
type CallOptions struct {
	// ForceReadOnly overrides resp.IsReadOnly's verb taxonomy — used by
	// callers that know a command is safe to serve from a replica even
	// though it isn't in the fixed table (or vice versa).
	ForceReadOnly *bool
}

func (o CallOptions) readOnly(verb string) bool {
	if o.ForceReadOnly != nil {
		return *o.ForceReadOnly
	}
	return resp.IsReadOnly(verb)
}

// Router is implemented by every topology variant.
type Router interface {
	// Call executes one command, handling any topology-specific
	// redirection transparently.
	Call(opts CallOptions, verb string, args ...any) (resp.Value, error)

	// WithConn runs fn against a single connection chosen the same way
	// Call would, without decoding a reply — used for WATCH/MULTI/EXEC
	// sequences that must share one connection (spec.md §4.5.3).
	WithConn(opts CallOptions, key string, fn func(*conn.Connection) error) error

	Close() error
}
