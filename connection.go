package memcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edwingeng/deque/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/pior/metacache/meta"
)

type connState int32

const (
	connInitial connState = iota
	connRunning
	connFinished
)

type waiter struct {
	ch chan submitResult
}

type submitResult struct {
	resp *meta.Response
	err  error
}

// Connection multiplexes many concurrent requests over one TCP stream. It
// has no knowledge of pools or retries: Submit writes a request and
// returns a future that resolves when the matching response is decoded,
// or the connection ends.
//
// Responses arrive in submission order, so a single FIFO waiter queue is
// enough to pair them up without per-request correlation IDs. Run owns
// the read loop; Submit is the write side. Both share the queue under the
// same mutex, since the order requests are written in must match the
// order waiters are enqueued in.
type Connection struct {
	id   string
	conn net.Conn
	sink Sink

	encoder meta.RequestEncoder
	decoder meta.ResponseDecoder

	mu      sync.Mutex
	state   atomic.Int32
	waiters *deque.Deque[*waiter]

	inFlight atomic.Int32

	doneCh    chan struct{}
	doneOnce  sync.Once
	finishErr error
}

// NewConnection wraps an established net.Conn. The caller still must call
// Run to start pumping responses.
func NewConnection(id string, conn net.Conn, sink Sink) *Connection {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Connection{
		id:      id,
		conn:    conn,
		sink:    sink,
		waiters: deque.NewDeque[*waiter](),
		doneCh:  make(chan struct{}),
	}
}

// Run pumps decoded responses to their waiters until the connection ends
// or ctx is cancelled. It returns the error that ended the connection;
// io.EOF is reported as nil (a graceful close isn't a failure).
func (c *Connection) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(connInitial), int32(connRunning)) {
		return fmt.Errorf("metacache: Connection.Run called more than once")
	}

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- c.readLoop() }()

	var runErr error
	select {
	case runErr = <-readErrCh:
	case <-ctx.Done():
		runErr = ctx.Err()
		c.conn.Close() // unblocks the pending Read in readLoop
		<-readErrCh
	}

	c.finish(runErr)
	if errors.Is(runErr, io.EOF) {
		return nil
	}
	return runErr
}

func (c *Connection) readLoop() error {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := c.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return err
		}

		responses, consumed, decErr := c.decoder.Decode(buf)
		if decErr != nil {
			return decErr
		}
		buf = buf[consumed:]
		if consumed > 0 && len(buf) > 0 {
			buf = append([]byte(nil), buf...) // compact: drop the consumed prefix's backing capacity
		}

		for _, resp := range responses {
			w := c.popWaiter()
			if w == nil {
				return &ProtocolError{Command: "decode", Message: "response with no matching request"}
			}
			w.ch <- submitResult{resp: resp}
			c.sink.ConnectionUtilizationChanged(c.id, int(c.inFlight.Add(-1)), 0)
		}
	}
}

func (c *Connection) popWaiter() *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters.Len() == 0 {
		return nil
	}
	return c.waiters.PopFront()
}

func (c *Connection) finish(err error) {
	c.doneOnce.Do(func() {
		c.state.Store(int32(connFinished))
		c.finishErr = err
		c.conn.Close()
		close(c.doneCh)

		c.mu.Lock()
		pending := make([]*waiter, 0, c.waiters.Len())
		for c.waiters.Len() > 0 {
			pending = append(pending, c.waiters.PopFront())
		}
		c.mu.Unlock()

		for _, w := range pending {
			w.ch <- submitResult{err: &ConnectionShutdownError{Cause: err}}
		}

		if err != nil {
			c.sink.ConnectionClosed(c.id, err)
		} else {
			c.sink.ConnectionClosed(c.id, nil)
		}
	})
}

// Submit writes req and waits for its matching response. If ctx is
// cancelled first, Submit returns ctx.Err() without removing the request
// from the FIFO queue: the server will still answer it in order, and that
// answer is simply discarded when it arrives, preserving ordering for
// every request behind it.
func (c *Connection) Submit(ctx context.Context, req *meta.Request) (*meta.Response, error) {
	if connState(c.state.Load()) == connFinished {
		return nil, &ConnectionShutdownError{Cause: c.finishErr}
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := c.encoder.Encode(buf, req, time.Now()); err != nil {
		return nil, err
	}

	w := &waiter{ch: make(chan submitResult, 1)}

	c.mu.Lock()
	if connState(c.state.Load()) == connFinished {
		c.mu.Unlock()
		return nil, &ConnectionShutdownError{Cause: c.finishErr}
	}
	c.waiters.PushBack(w)
	inFlight := c.inFlight.Add(1)
	_, writeErr := c.conn.Write(buf.Bytes())
	c.mu.Unlock()
	c.sink.ConnectionUtilizationChanged(c.id, int(inFlight), 0)

	if writeErr != nil {
		// A partial or failed write leaves the peer's view of the stream
		// out of sync with our FIFO queue: finish synchronously so the
		// queue is drained (including w itself) and no further Submit
		// can enqueue behind a request the server never saw.
		c.finish(writeErr)
		return nil, &ConnectionShutdownError{Cause: writeErr}
	}

	select {
	case res := <-w.ch:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneCh:
		return nil, &ConnectionShutdownError{Cause: c.finishErr}
	}
}

// InFlight reports the number of requests written but not yet answered.
func (c *Connection) InFlight() int32 { return c.inFlight.Load() }

// IsFinished reports whether the connection has ended.
func (c *Connection) IsFinished() bool { return connState(c.state.Load()) == connFinished }

// Close ends the connection as if its Run context were cancelled. Safe to
// call from any goroutine, any number of times.
func (c *Connection) Close() error {
	c.finish(nil)
	return nil
}
