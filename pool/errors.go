/*
Package pool implements the bounded connection pool from spec.md §4.4: a
single endpoint's idle set, in-use count, FIFO waiter queue, and fork
sentinel. It generalizes the teacher's Server connection-tracking fields
(activeConns, connCount, inShutdown — types.go/server.go), which tracked
server-accepted connections for graceful shutdown, into tracking
client-dialed connections for bounded reuse: the invariant
"idle + in_use <= size" plays the role the teacher's MaxConnections limit
played, and With's guaranteed-release-on-every-exit-path generalizes the
teacher's closeOnce-guarded connection cleanup.
*/
package pool

import "errors"

// ErrPoolExhausted is returned by Acquire when no connection becomes
// available before the timeout elapses.
var ErrPoolExhausted = errors.New("redcore/pool: exhausted")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("redcore/pool: closed")
