package cache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l00pss/redcore/cache"
	"github.com/l00pss/redcore/resp"
)

func TestGetCachesReadCommandsAndMissesWrites(t *testing.T) {
	tc, err := cache.New(cache.Options{Mode: cache.ModeDefault, MaxEntries: 100})
	require.NoError(t, err)

	calls := 0
	fetch := func() (resp.Value, error) {
		calls++
		return resp.Value{Kind: resp.KindBulkString, Bulk: []byte("v")}, nil
	}

	v, hit, err := tc.Get(context.Background(), "GET", "k", nil, false, 0, fetch)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "v", string(v.Bulk))

	v, hit, err = tc.Get(context.Background(), "GET", "k", nil, false, 0, fetch)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "v", string(v.Bulk))
	require.Equal(t, 1, calls) // second Get was served from cache

	_, hit, err = tc.Get(context.Background(), "SET", "k", nil, false, 0, fetch)
	require.NoError(t, err)
	require.False(t, hit) // writes are never cached
	require.Equal(t, 2, calls)
}

func TestGetConcurrentMissesCollapseIntoOneFetch(t *testing.T) {
	tc, err := cache.New(cache.Options{Mode: cache.ModeDefault, MaxEntries: 100})
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func() (resp.Value, error) {
		calls.Add(1)
		<-release
		return resp.Value{Kind: resp.KindBulkString, Bulk: []byte("v")}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := tc.Get(context.Background(), "GET", "shared", nil, false, 0, fetch)
			require.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
}

func TestScopeBlocksOverrideMode(t *testing.T) {
	tc, err := cache.New(cache.Options{Mode: cache.ModeOptIn, MaxEntries: 100})
	require.NoError(t, err)
	fetch := func() (resp.Value, error) {
		return resp.Value{Kind: resp.KindBulkString, Bulk: []byte("v")}, nil
	}

	// OptIn mode without a marked command: not cached by default.
	_, hit, err := tc.Get(context.Background(), "GET", "k1", nil, false, 0, fetch)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 0, tc.Len())

	// cached{} scope forces it on regardless of mode/marking.
	ctx := cache.Cached(context.Background())
	_, hit, err = tc.Get(ctx, "GET", "k1", nil, false, 0, fetch)
	require.NoError(t, err)
	require.False(t, hit) // first populate
	require.Equal(t, 1, tc.Len())

	_, hit, err = tc.Get(ctx, "GET", "k1", nil, false, 0, fetch)
	require.NoError(t, err)
	require.True(t, hit)
}

func TestExpiredEntryMissesOnNextGet(t *testing.T) {
	tc, err := cache.New(cache.Options{Mode: cache.ModeDefault, MaxEntries: 100})
	require.NoError(t, err)

	calls := 0
	fetch := func() (resp.Value, error) {
		calls++
		return resp.Value{Kind: resp.KindBulkString, Bulk: []byte("v")}, nil
	}

	_, hit, err := tc.Get(context.Background(), "GET", "k", nil, false, time.Millisecond, fetch)
	require.NoError(t, err)
	require.False(t, hit)

	time.Sleep(10 * time.Millisecond)

	_, hit, err = tc.Get(context.Background(), "GET", "k", nil, false, time.Millisecond, fetch)
	require.NoError(t, err)
	require.False(t, hit) // TTL expired, so this was a second fetch, not a hit
	require.Equal(t, 2, calls)
}
