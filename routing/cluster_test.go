package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l00pss/redcore/resp"
)

func bulkNode(host string, port int64) resp.Value {
	return resp.Value{Kind: resp.KindArray, Array: []resp.Value{
		{Kind: resp.KindBulkString, Bulk: []byte(host)},
		{Kind: resp.KindInteger, Int: port},
	}}
}

func TestParseClusterSlotsBuildsSortedRanges(t *testing.T) {
	reply := resp.Value{Kind: resp.KindArray, Array: []resp.Value{
		{Kind: resp.KindArray, Array: []resp.Value{
			{Kind: resp.KindInteger, Int: 5461},
			{Kind: resp.KindInteger, Int: 10922},
			bulkNode("10.0.0.2", 6379),
			bulkNode("10.0.0.5", 6379),
		}},
		{Kind: resp.KindArray, Array: []resp.Value{
			{Kind: resp.KindInteger, Int: 0},
			{Kind: resp.KindInteger, Int: 5460},
			bulkNode("10.0.0.1", 6379),
		}},
	}}

	m, err := parseClusterSlots(reply, nil)
	require.NoError(t, err)
	require.Len(t, m.ranges, 2)
	require.Equal(t, 0, m.ranges[0].start)
	require.Equal(t, 5461, m.ranges[1].start)

	master, replicas, ok := m.ownerOf(7000)
	require.True(t, ok)
	require.Equal(t, "10.0.0.2:6379", master)
	require.Equal(t, []string{"10.0.0.5:6379"}, replicas)

	_, _, ok = m.ownerOf(99999)
	require.False(t, ok)
}

func TestParseClusterSlotsAppliesHostTranslation(t *testing.T) {
	reply := resp.Value{Kind: resp.KindArray, Array: []resp.Value{
		{Kind: resp.KindArray, Array: []resp.Value{
			{Kind: resp.KindInteger, Int: 0},
			{Kind: resp.KindInteger, Int: 16383},
			bulkNode("internal-host", 6379),
		}},
	}}
	m, err := parseClusterSlots(reply, map[string]string{"internal-host:6379": "external-host:6379"})
	require.NoError(t, err)
	master, _, _ := m.ownerOf(100)
	require.Equal(t, "external-host:6379", master)
}

func TestClassifyServerErrorParsesMovedAndAsk(t *testing.T) {
	moved := classifyServerError(&resp.Error{Kind: "MOVED", Message: "MOVED 3999 127.0.0.1:6381"})
	me, ok := moved.(*MovedError)
	require.True(t, ok)
	require.Equal(t, 3999, me.Slot)
	require.Equal(t, "127.0.0.1:6381", me.Addr)

	ask := classifyServerError(&resp.Error{Kind: "ASK", Message: "ASK 3999 127.0.0.1:6381"})
	ae, ok := ask.(*AskError)
	require.True(t, ok)
	require.Equal(t, 3999, ae.Slot)

	tryAgain := classifyServerError(&resp.Error{Kind: "TRYAGAIN", Message: "TRYAGAIN resharding in progress"})
	require.IsType(t, &TryAgainError{}, tryAgain)

	down := classifyServerError(&resp.Error{Kind: "CLUSTERDOWN", Message: "CLUSTERDOWN hash slot not served"})
	require.IsType(t, &ClusterDownError{}, down)

	plain := classifyServerError(&resp.Error{Kind: "WRONGTYPE", Message: "WRONGTYPE Operation against a key"})
	require.IsType(t, &resp.Error{}, plain)
}

func TestIsReadOnlyReply(t *testing.T) {
	require.True(t, isReadOnlyReply(&resp.Error{Kind: "READONLY", Message: "READONLY You can't write"}))
	require.True(t, isReadOnlyReply(&resp.Error{Kind: "ERR", Message: "ERR read only replica"}))
	require.False(t, isReadOnlyReply(&resp.Error{Kind: "WRONGTYPE", Message: "WRONGTYPE x"}))
}
