package pool_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/pool"
)

func startPool(t *testing.T, size int) (*miniredis.Miniredis, *pool.Pool) {
	t.Helper()
	s := miniredis.RunT(t)
	p := pool.New(pool.Options{
		Addr:           s.Addr(),
		Size:           size,
		AcquireTimeout: 200 * time.Millisecond,
		Create: func() (*conn.Connection, error) {
			return conn.Dial(conn.Options{Network: "tcp", Addr: s.Addr()})
		},
	})
	t.Cleanup(func() { p.Close() })
	return s, p
}

func TestAcquireReleaseConservesCount(t *testing.T) {
	_, p := startPool(t, 2)

	c1, err := p.Acquire(time.Second)
	require.NoError(t, err)
	st := p.Stats()
	require.Equal(t, 1, st.InUse)
	require.Equal(t, 0, st.Idle)

	p.Release(c1)
	st = p.Stats()
	require.Equal(t, 0, st.InUse)
	require.Equal(t, 1, st.Idle)
}

func TestAcquireCreatesUpToSizeThenWaits(t *testing.T) {
	_, p := startPool(t, 1)

	c1, err := p.Acquire(time.Second)
	require.NoError(t, err)

	_, err = p.Acquire(50 * time.Millisecond)
	require.ErrorIs(t, err, pool.ErrPoolExhausted)

	p.Release(c1)
}

func TestWaiterGetsHandedOffOnRelease(t *testing.T) {
	_, p := startPool(t, 1)

	c1, err := p.Acquire(time.Second)
	require.NoError(t, err)

	var got atomic.Pointer[conn.Connection]
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c2, err := p.Acquire(time.Second)
		require.NoError(t, err)
		got.Store(c2)
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter queue up
	p.Release(c1)
	wg.Wait()

	require.Same(t, c1, got.Load())
	p.Release(got.Load())
}

func TestFIFOFairnessAmongWaiters(t *testing.T) {
	_, p := startPool(t, 1)

	c1, err := p.Acquire(time.Second)
	require.NoError(t, err)

	order := make([]int, 0, 3)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			c, err := p.Acquire(2 * time.Second)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			p.Release(c)
		}()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	p.Release(c1)
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, order)
}

func TestPoisonedConnectionIsDiscardedNotReused(t *testing.T) {
	_, p := startPool(t, 1)

	c1, err := p.Acquire(time.Second)
	require.NoError(t, err)
	c1.Poison()
	p.Release(c1)

	st := p.Stats()
	require.Equal(t, 0, st.Idle)

	c2, err := p.Acquire(time.Second)
	require.NoError(t, err)
	require.NotSame(t, c1, c2)
	p.Release(c2)
}

func TestWithReleasesOnPanicAndPoisons(t *testing.T) {
	_, p := startPool(t, 1)

	require.Panics(t, func() {
		p.With(time.Second, func(c *conn.Connection) error {
			panic("boom")
		})
	})

	st := p.Stats()
	require.Equal(t, 0, st.InUse)
	require.Equal(t, 0, st.Idle) // poisoned, so not returned to the idle set
}

func TestWithPoisonsOnIOError(t *testing.T) {
	s, p := startPool(t, 1)

	err := p.With(time.Second, func(c *conn.Connection) error {
		s.Close() // sever the transport so the next Do fails with an IoError
		_, doErr := c.Do("PING")
		return doErr
	})
	require.Error(t, err)

	st := p.Stats()
	require.Equal(t, 0, st.Idle)
	require.Equal(t, 0, st.InUse)
}
