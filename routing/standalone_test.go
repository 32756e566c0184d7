package routing_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resilience"
	"github.com/l00pss/redcore/routing"
)

func TestStandaloneCallRoundTrips(t *testing.T) {
	s := miniredis.RunT(t)
	p := pool.New(pool.Options{
		Addr:           s.Addr(),
		Size:           2,
		AcquireTimeout: time.Second,
		Create: func() (*conn.Connection, error) {
			return conn.Dial(conn.Options{Network: "tcp", Addr: s.Addr()})
		},
	})
	t.Cleanup(func() { p.Close() })

	r := routing.NewStandalone(p, resilience.RetryPolicy{MaxRetries: 1})

	_, err := r.Call(routing.CallOptions{}, "SET", "k", "v")
	require.NoError(t, err)

	v, err := r.Call(routing.CallOptions{}, "GET", "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v.Bulk))
}

func TestStandaloneWithConnSharesOneConnectionAcrossWatch(t *testing.T) {
	s := miniredis.RunT(t)
	p := pool.New(pool.Options{
		Addr:           s.Addr(),
		Size:           1,
		AcquireTimeout: time.Second,
		Create: func() (*conn.Connection, error) {
			return conn.Dial(conn.Options{Network: "tcp", Addr: s.Addr()})
		},
	})
	t.Cleanup(func() { p.Close() })

	r := routing.NewStandalone(p, resilience.RetryPolicy{})

	err := r.WithConn(routing.CallOptions{}, "wk", func(c *conn.Connection) error {
		require.NoError(t, c.Watch("wk"))
		res, err := c.Exec([]conn.QueuedCommand{{Name: "SET", Args: []any{"wk", "v"}}})
		require.NoError(t, err)
		require.False(t, res.Aborted)
		return nil
	})
	require.NoError(t, err)
}
