package conn_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l00pss/redcore/conn"
)

func startMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s := miniredis.RunT(t)
	return s
}

func dial(t *testing.T, s *miniredis.Miniredis, o conn.Options) *conn.Connection {
	t.Helper()
	o.Addr = s.Addr()
	o.Network = "tcp"
	c, err := conn.Dial(o)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialRunsPreludeAndNegotiatesProto(t *testing.T) {
	s := startMiniredis(t)
	c := dial(t, s, conn.Options{})
	require.Equal(t, conn.StateConnected, c.State())
	require.EqualValues(t, 3, c.Attributes().ProtoVersion)
}

func TestDoRoundTrip(t *testing.T) {
	s := startMiniredis(t)
	c := dial(t, s, conn.Options{})

	v, err := c.Do("SET", "k", "v")
	require.NoError(t, err)
	require.False(t, func() bool { _, isErr := v.AsError(); return isErr }())

	v, err = c.Do("GET", "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v.Bulk))
}

func TestPipelineReturnsOrderedRepliesWithErrorsInPlace(t *testing.T) {
	s := startMiniredis(t)
	s.Set("listkey", "not-a-list-member") // force a WRONGTYPE in the middle
	c := dial(t, s, conn.Options{})

	result, err := c.Pipeline([]conn.QueuedCommand{
		{Name: "SET", Args: []any{"a", "1"}},
		{Name: "LPUSH", Args: []any{"listkey", "x"}}, // WRONGTYPE
		{Name: "GET", Args: []any{"a"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Replies, 3)
	_, isErr := result.Replies[1].AsError()
	require.True(t, isErr)
	require.Equal(t, "1", string(result.Replies[2].Bulk))
	require.Error(t, result.FirstError())
}

func TestTransactionCommits(t *testing.T) {
	s := startMiniredis(t)
	c := dial(t, s, conn.Options{})

	res, err := c.Exec([]conn.QueuedCommand{
		{Name: "SET", Args: []any{"tk", "1"}},
		{Name: "INCR", Args: []any{"tk"}},
	})
	require.NoError(t, err)
	require.False(t, res.Aborted)
	require.Len(t, res.Replies, 2)
	require.Equal(t, int64(2), res.Replies[1].Int)
}

func TestTransactionAbortedOnWatchedKeyChange(t *testing.T) {
	s := startMiniredis(t)
	c := dial(t, s, conn.Options{})
	other := dial(t, s, conn.Options{})

	require.NoError(t, c.Watch("wk"))
	// A different connection mutates the watched key before EXEC.
	_, err := other.Do("SET", "wk", "changed")
	require.NoError(t, err)

	res, err := c.Exec([]conn.QueuedCommand{{Name: "SET", Args: []any{"wk", "mine"}}})
	require.NoError(t, err)
	require.True(t, res.Aborted)
}

func TestSelectDatabase(t *testing.T) {
	s := startMiniredis(t)
	c := dial(t, s, conn.Options{Database: 3})
	require.Equal(t, 3, c.Attributes().Database)
}

func TestForkStaleDetection(t *testing.T) {
	s := startMiniredis(t)
	c := dial(t, s, conn.Options{})
	require.False(t, c.ForkStale())
	require.Equal(t, c.CreatedPID(), c.CreatedPID())
}
