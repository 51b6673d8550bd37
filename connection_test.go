package memcache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/metacache/meta"
)

// fakeServer answers every "mg <key> v" request with "VA <n>\r\n<key>-val\r\n",
// in the order requests are read off the wire.
func fakeServer(t *testing.T, conn net.Conn) {
	t.Helper()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "mg" {
			conn.Write([]byte("CLIENT_ERROR unsupported in fake server\r\n"))
			continue
		}
		key := fields[1]
		value := key + "-val"
		resp := fmt.Sprintf("VA %d\r\n%s\r\n", len(value), value)
		if _, err := conn.Write([]byte(resp)); err != nil {
			return
		}
	}
}

func TestConnectionPipeliningFIFOOrder(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConnection("c1", client, NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx) }()
	go fakeServer(t, server)

	keys := []string{"a", "b", "c", "d", "e"}
	results := make([]string, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			data, found, err := conn.Get(context.Background(), key)
			require.NoError(t, err)
			require.True(t, found)
			results[i] = string(data)
		}(i, key)
	}
	wg.Wait()

	for i, key := range keys {
		require.Equal(t, key+"-val", results[i])
	}

	cancel()
	server.Close()
	<-runDone
}

func TestConnectionTouchSendsTTLFlag(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConnection("c1", client, NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go conn.Run(ctx)

	lineCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		lineCh <- line
		server.Write([]byte("HD\r\n"))
	}()

	err := conn.Touch(context.Background(), "foo", meta.ExpiresAt(time.Now().Add(60*time.Second)))
	require.NoError(t, err)

	line := <-lineCh
	require.Equal(t, "mg foo T60\r\n", line)
}

// failWriteConn wraps a net.Conn and fails every Write after the first n
// succeed, simulating a peer that stops accepting bytes mid-pipeline.
type failWriteConn struct {
	net.Conn
	allowed int32
}

func (f *failWriteConn) Write(b []byte) (int, error) {
	if f.allowed <= 0 {
		return 0, errors.New("simulated write failure")
	}
	f.allowed--
	return f.Conn.Write(b)
}

func TestConnectionSubmitWriteFailureDrainsQueue(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	failing := &failWriteConn{Conn: client, allowed: 0}
	conn := NewConnection("c1", failing, NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	_, _, err := conn.Get(context.Background(), "doomed")
	require.Error(t, err)
	var shutdownErr *ConnectionShutdownError
	require.ErrorAs(t, err, &shutdownErr)

	// The failed write must have transitioned the connection to Finished
	// synchronously, rather than leaving the orphaned waiter in the queue
	// to desync a later request's response.
	require.True(t, conn.IsFinished())

	_, _, err = conn.Get(context.Background(), "after")
	require.Error(t, err)
	require.ErrorAs(t, err, &shutdownErr)
}

func TestConnectionSubmitFinishedFailsFast(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConnection("c1", client, NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	go conn.Run(ctx)
	go fakeServer(t, server)

	_, _, err := conn.Get(context.Background(), "warmup")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, conn.IsFinished, time.Second, time.Millisecond)

	_, _, err = conn.Get(context.Background(), "after-shutdown")
	require.Error(t, err)
	var shutdownErr *ConnectionShutdownError
	require.ErrorAs(t, err, &shutdownErr)
}

func TestConnectionCancelledSubmitDoesNotBreakFIFO(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConnection("c1", client, NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)
	go fakeServer(t, server)

	cancelledCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _, err := conn.Get(cancelledCtx, "first")
		require.ErrorIs(t, err, context.Canceled)
	}()
	time.Sleep(20 * time.Millisecond) // let Submit write "first" before cancelling
	cancelFirst()
	<-firstDone

	// The response to "first" is still coming from the fake server; a
	// second request must still resolve correctly despite the discarded
	// first answer sitting in the FIFO queue.
	data, found, err := conn.Get(context.Background(), "second")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "second-val", string(data))
}

func TestConnectionRunTwiceErrors(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection("c1", client, NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	err := conn.Run(ctx)
	require.Error(t, err)
}
