package memcache

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// noopServer answers every line with "MN\r\n", enough to keep keep-alive
// probes and any stray request happy without implementing the protocol.
func noopServer(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		if _, err := conn.Write([]byte("MN\r\n")); err != nil {
			return
		}
	}
}

func countingDialer(dialCount *atomic.Int32) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		dialCount.Add(1)
		client, server := net.Pipe()
		go noopServer(server)
		return client, nil
	}
}

func TestChannelPoolRespectsHardLimit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var dials atomic.Int32
	pool := NewChannelPool(countingDialer(&dials), PoolConfig{
		SoftLimit: 2,
		HardLimit: 2,
	})
	defer pool.Close()

	ctx := context.Background()
	var leased []*Connection
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := pool.Lease(ctx)
			require.NoError(t, err)
			mu.Lock()
			leased = append(leased, conn)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, dials.Load(), int32(2))
	stats := pool.Stats()
	require.LessOrEqual(t, stats.Live, 2)
	require.Equal(t, 2, stats.Leased)

	for _, conn := range leased {
		pool.Release(conn, false)
	}
}

func TestChannelPoolWarmsMinConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var dials atomic.Int32
	pool := NewChannelPool(countingDialer(&dials), PoolConfig{
		MinConnections: 3,
		SoftLimit:      5,
		HardLimit:      5,
	})
	defer pool.Close()

	require.Eventually(t, func() bool {
		return pool.Stats().Live >= 3
	}, time.Second, 10*time.Millisecond)
}

func TestChannelPoolLeaseFIFOFairness(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var dials atomic.Int32
	pool := NewChannelPool(countingDialer(&dials), PoolConfig{
		MinConnections: 1,
		SoftLimit:      1,
		HardLimit:      1,
	})
	defer pool.Close()

	ctx := context.Background()
	first, err := pool.Lease(ctx)
	require.NoError(t, err)

	const waiters = 4
	order := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			conn, err := pool.Lease(ctx)
			if err != nil {
				return
			}
			order <- i
			pool.Release(conn, false)
		}(i)
		time.Sleep(5 * time.Millisecond) // stagger enqueue order deterministically
	}

	pool.Release(first, false)

	var got []int
	for i := 0; i < waiters; i++ {
		got = append(got, <-order)
	}
	require.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestChannelPoolIdleRetirement(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var dials atomic.Int32
	pool := NewChannelPool(countingDialer(&dials), PoolConfig{
		MinConnections:     0,
		SoftLimit:          2,
		HardLimit:          2,
		IdleTimeout:        30 * time.Millisecond,
		KeepAliveFrequency: time.Hour,
	})
	defer pool.Close()

	ctx := context.Background()
	conn, err := pool.Lease(ctx)
	require.NoError(t, err)
	pool.Release(conn, false)

	require.Eventually(t, func() bool {
		return pool.Stats().Live == 0
	}, time.Second, 10*time.Millisecond)
}

// failingThenOKDialer fails the first n dials, then succeeds.
func failingThenOKDialer(dialCount *atomic.Int32, failures int32) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		if dialCount.Add(1) <= failures {
			return nil, errors.New("dial refused")
		}
		client, server := net.Pipe()
		go noopServer(server)
		return client, nil
	}
}

func TestChannelPoolRespawnsAfterFailureToRestoreMinConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var dials atomic.Int32
	pool := NewChannelPool(failingThenOKDialer(&dials, 2), PoolConfig{
		MinConnections: 1,
		SoftLimit:      2,
		HardLimit:      2,
	})
	defer pool.Close()

	require.Eventually(t, func() bool {
		return pool.Stats().Live >= 1
	}, time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, dials.Load(), int32(3))
}

func TestChannelPoolCloseFailsPendingWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var dials atomic.Int32
	pool := NewChannelPool(countingDialer(&dials), PoolConfig{
		SoftLimit: 1,
		HardLimit: 1,
	})

	ctx := context.Background()
	conn, err := pool.Lease(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Lease(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, pool.Close())
	pool.Release(conn, false) // no-op after close, but must not block or panic

	err = <-errCh
	require.Error(t, err)
}
