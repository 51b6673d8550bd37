package memcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edwingeng/deque/v2"
	"github.com/jpillora/backoff"

	"github.com/pior/metacache/internal/coarsetime"
)

var errPoolClosed = errors.New("metacache: pool closed")

type entryState int

const (
	entryConnecting entryState = iota
	entryIdle
	entryLeased
	entryKeepAlive
	entryClosing
)

type poolEntry struct {
	id       string
	conn     *Connection
	state    entryState
	lastUsed time.Time
	cancel   context.CancelFunc
}

type leaseOutcome struct {
	entry *poolEntry
	err   error
}

type (
	evLeaseRequested struct{ result chan leaseOutcome }
	evLeaseReturned  struct {
		id    string
		fatal bool
	}
	evConnectionEstablished struct {
		id   string
		conn *Connection
	}
	evConnectionFailed struct {
		id  string
		err error
	}
	evIdleTick          struct{}
	evKeepAliveFinished struct {
		id  string
		err error
	}
	evRespawnDue struct{}
	evShutdown   struct{ done chan struct{} }
)

// channelPool is the default Pool implementation: a single goroutine
// (run) owns every mutable field below it, reached only through the
// events channel. Callers never touch entries or waiters directly, so no
// separate mutex is needed for pool bookkeeping.
type channelPool struct {
	cfg    PoolConfig
	dial   Dialer
	sink   Sink
	events chan any

	entries map[string]*poolEntry
	waiters *deque.Deque[chan leaseOutcome]
	live    int
	nextID  uint64

	// reconnectBackoff paces respawns after a dial/handshake failure so a
	// down server doesn't get hammered with reconnect attempts. It resets
	// on the next successful connect.
	reconnectBackoff *backoff.Backoff

	acquired atomic.Uint64
	closed   atomic.Bool
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// NewChannelPool builds the default channel-based Pool for dial.
func NewChannelPool(dial Dialer, cfg PoolConfig) Pool {
	cfg = cfg.withDefaults()
	p := &channelPool{
		cfg:              cfg,
		dial:             dial,
		sink:             cfg.Sink,
		events:           make(chan any, 64),
		entries:          make(map[string]*poolEntry),
		waiters:          deque.NewDeque[chan leaseOutcome](),
		doneCh:           make(chan struct{}),
		reconnectBackoff: backoffSchedule(),
	}
	p.wg.Add(1)
	go p.run()
	p.wg.Add(1)
	go p.tickIdle()
	for i := 0; i < cfg.MinConnections; i++ {
		p.spawnConnection()
	}
	return p
}

func (p *channelPool) Lease(ctx context.Context) (*Connection, error) {
	if p.closed.Load() {
		return nil, &ConnectionUnavailableError{Cause: errPoolClosed}
	}
	result := make(chan leaseOutcome, 1)
	select {
	case p.events <- evLeaseRequested{result: result}:
	case <-p.doneCh:
		return nil, &ConnectionUnavailableError{Cause: errPoolClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-result:
		if out.err != nil {
			return nil, out.err
		}
		p.sink.ConnectionLeased(out.entry.id)
		return out.entry.conn, nil
	case <-ctx.Done():
		// The request is already queued or served; finish the handoff in
		// the background and release immediately if we do end up winning
		// a connection nobody is waiting for anymore.
		go func() {
			if out := <-result; out.err == nil {
				p.Release(out.entry.conn, false)
			}
		}()
		return nil, ctx.Err()
	case <-p.doneCh:
		return nil, &ConnectionUnavailableError{Cause: errPoolClosed}
	}
}

func (p *channelPool) Release(conn *Connection, fatal bool) {
	select {
	case p.events <- evLeaseReturned{id: conn.id, fatal: fatal || conn.IsFinished()}:
	case <-p.doneCh:
	}
}

type statsRequest struct{ result chan PoolStats }

func (p *channelPool) Stats() PoolStats {
	result := make(chan PoolStats, 1)
	select {
	case p.events <- statsRequest{result}:
	case <-p.doneCh:
		return PoolStats{}
	}
	select {
	case s := <-result:
		return s
	case <-p.doneCh:
		return PoolStats{}
	}
}

func (p *channelPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan struct{})
	p.events <- evShutdown{done: done}
	<-done
	p.wg.Wait()
	return nil
}

// run is the pool's single-threaded event loop, matching the design of
// one task owning pool state and draining an event queue.
func (p *channelPool) run() {
	defer p.wg.Done()
	for ev := range p.events {
		switch e := ev.(type) {
		case evLeaseRequested:
			p.onLeaseRequested(e)
		case evLeaseReturned:
			p.onLeaseReturned(e)
		case evConnectionEstablished:
			p.onConnectionEstablished(e)
		case evConnectionFailed:
			p.onConnectionFailed(e)
		case evIdleTick:
			p.onIdleTick()
		case evKeepAliveFinished:
			p.onKeepAliveFinished(e)
		case evRespawnDue:
			p.spawnConnection()
		case statsRequest:
			e.result <- p.snapshotStats()
		case evShutdown:
			p.onShutdown(e)
			return
		}
	}
}

func (p *channelPool) onLeaseRequested(e evLeaseRequested) {
	if entry := p.pickIdleEntry(); entry != nil {
		entry.state = entryLeased
		p.acquired.Add(1)
		e.result <- leaseOutcome{entry: entry}
		return
	}

	queueDepth := p.waiters.Len()
	switch {
	case p.live < p.cfg.SoftLimit:
		p.spawnConnection()
	case p.live < p.cfg.HardLimit && queueDepth > 2:
		p.spawnConnection()
	}
	p.waiters.PushBack(e.result)
	p.sink.RequestQueueDepthChanged(p.waiters.Len())
}

func (p *channelPool) onConnectionEstablished(e evConnectionEstablished) {
	entry, ok := p.entries[e.id]
	if !ok {
		e.conn.Close()
		return
	}
	entry.conn = e.conn
	p.sink.ConnectSucceeded(e.id)
	p.reconnectBackoff.Reset()

	if p.waiters.Len() > 0 {
		result := p.waiters.PopFront()
		entry.state = entryLeased
		p.acquired.Add(1)
		result <- leaseOutcome{entry: entry}
		p.sink.RequestQueueDepthChanged(p.waiters.Len())
		return
	}
	entry.state = entryIdle
	entry.lastUsed = coarsetime.Now()
}

func (p *channelPool) onConnectionFailed(e evConnectionFailed) {
	delete(p.entries, e.id)
	p.live--
	p.sink.ConnectFailed(e.id, e.err)

	if p.waiters.Len() > 0 {
		result := p.waiters.PopFront()
		result <- leaseOutcome{err: &ConnectionUnavailableError{Cause: e.err}}
		p.sink.RequestQueueDepthChanged(p.waiters.Len())
	}

	// Keep the warm pool topped up, but pace retries so a server that's
	// down doesn't get hammered with immediate reconnect attempts.
	if p.live < p.cfg.MinConnections {
		delay := p.reconnectBackoff.Duration()
		time.AfterFunc(delay, func() { p.postEvent(evRespawnDue{}) })
	}
}

func (p *channelPool) onLeaseReturned(e evLeaseReturned) {
	entry, ok := p.entries[e.id]
	if !ok {
		return
	}
	p.sink.ConnectionReleased(e.id)

	if e.fatal {
		p.closeEntry(entry)
		return
	}

	entry.state = entryIdle
	entry.lastUsed = coarsetime.Now()

	if p.waiters.Len() > 0 {
		result := p.waiters.PopFront()
		entry.state = entryLeased
		p.acquired.Add(1)
		result <- leaseOutcome{entry: entry}
		p.sink.RequestQueueDepthChanged(p.waiters.Len())
	}
}

func (p *channelPool) onIdleTick() {
	now := coarsetime.Now()
	for id, entry := range p.entries {
		if entry.state != entryIdle {
			continue
		}
		idleFor := now.Sub(entry.lastUsed)
		if idleFor > p.cfg.IdleTimeout && p.live > p.cfg.MinConnections {
			p.closeEntry(entry)
			continue
		}
		if idleFor > p.cfg.KeepAliveFrequency {
			entry.state = entryKeepAlive
			p.sink.KeepAliveTriggered(id)
			p.runKeepAliveAsync(entry)
		}
	}
}

func (p *channelPool) onKeepAliveFinished(e evKeepAliveFinished) {
	entry, ok := p.entries[e.id]
	if !ok {
		return
	}
	if e.err != nil {
		p.sink.KeepAliveFailed(e.id, e.err)
		p.closeEntry(entry)
		return
	}
	p.sink.KeepAliveSucceeded(e.id)
	entry.state = entryIdle
	entry.lastUsed = coarsetime.Now()
}

func (p *channelPool) onShutdown(e evShutdown) {
	// Leased connections are closed too, not just idle ones: Close gives
	// no grace period for in-flight work to finish, so any caller still
	// holding a lease sees its next Submit/Release fail with
	// ConnectionShutdownError rather than having Close block until every
	// lease is returned.
	for _, entry := range p.entries {
		p.closeEntry(entry)
	}
	for p.waiters.Len() > 0 {
		result := p.waiters.PopFront()
		result <- leaseOutcome{err: &ConnectionUnavailableError{Cause: errPoolClosed}}
	}
	close(p.doneCh)
	close(e.done)
}

func (p *channelPool) pickIdleEntry() *poolEntry {
	for _, entry := range p.entries {
		if entry.state == entryIdle {
			return entry
		}
	}
	return nil
}

func (p *channelPool) closeEntry(entry *poolEntry) {
	entry.state = entryClosing
	p.sink.ConnectionClosing(entry.id)
	delete(p.entries, entry.id)
	p.live--
	if entry.cancel != nil {
		entry.cancel()
	}
	if entry.conn != nil {
		entry.conn.Close()
	}
}

func (p *channelPool) spawnConnection() {
	p.nextID++
	id := fmt.Sprintf("conn-%d", p.nextID)
	entry := &poolEntry{id: id, state: entryConnecting}
	p.entries[id] = entry
	p.live++
	p.sink.StartedConnecting(id)

	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn, err := p.dialAndRun(ctx, id)
		if err != nil {
			p.postEvent(evConnectionFailed{id: id, err: err})
			return
		}
		p.postEvent(evConnectionEstablished{id: id, conn: conn})
	}()
}

func (p *channelPool) dialAndRun(ctx context.Context, id string) (*Connection, error) {
	netConn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	conn := NewConnection(id, netConn, p.sink)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = conn.Run(ctx)
	}()
	return conn, nil
}

func (p *channelPool) runKeepAliveAsync(entry *poolEntry) {
	conn := entry.conn
	id := entry.id
	bound := p.cfg.KeepAliveFrequency
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := runKeepAlive(context.Background(), conn, bound)
		p.postEvent(evKeepAliveFinished{id: id, err: err})
	}()
}

func (p *channelPool) postEvent(ev any) {
	select {
	case p.events <- ev:
	case <-p.doneCh:
	}
}

func (p *channelPool) snapshotStats() PoolStats {
	s := PoolStats{Live: p.live, Waiters: p.waiters.Len(), Acquired: p.acquired.Load()}
	for _, entry := range p.entries {
		switch entry.state {
		case entryIdle:
			s.Idle++
		case entryLeased, entryKeepAlive:
			s.Leased++
		}
	}
	return s
}

// tickIdle periodically posts evIdleTick at a cadence no coarser than
// half the idle timeout, so retirement and keep-alive checks stay
// responsive without busy-polling.
func (p *channelPool) tickIdle() {
	defer p.wg.Done()
	cadence := p.cfg.IdleTimeout / 2
	if kf := p.cfg.KeepAliveFrequency / 2; kf < cadence {
		cadence = kf
	}
	if cadence <= 0 {
		cadence = time.Second
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.postEvent(evIdleTick{})
		case <-p.doneCh:
			return
		}
	}
}

var _ Pool = (*channelPool)(nil)

// backoffSchedule returns the paced schedule channelPool uses to respawn a
// connection slot after a dial/handshake failure, so MinConnections is
// topped back up without hammering a down server.
func backoffSchedule() *backoff.Backoff {
	return &backoff.Backoff{Min: 50 * time.Millisecond, Max: 5 * time.Second, Factor: 2}
}
