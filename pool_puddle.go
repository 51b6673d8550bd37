package memcache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/pior/metacache/internal/coarsetime"
)

// puddlePool is the alternate Pool backend, built on jackc/puddle for
// acquisition and LIFO reuse. Puddle only understands a single MaxSize;
// min_connections, idle_timeout, and keep_alive_frequency are layered on
// top by a small supervisor goroutine that periodically walks the idle
// set puddle exposes.
type puddlePool struct {
	cfg  PoolConfig
	sink Sink
	pool *puddle.Pool[*connResource]

	mu       sync.Mutex
	acquired map[*Connection]*puddle.Resource[*connResource]

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type connResource struct {
	id   string
	conn *Connection
}

// NewPuddlePool builds the puddle-backed Pool for dial.
func NewPuddlePool(dial Dialer, cfg PoolConfig) (Pool, error) {
	cfg = cfg.withDefaults()
	p := &puddlePool{
		cfg:      cfg,
		sink:     cfg.Sink,
		acquired: make(map[*Connection]*puddle.Resource[*connResource]),
		stopCh:   make(chan struct{}),
	}

	var nextID atomicCounter

	puddleCfg := &puddle.Config[*connResource]{
		Constructor: func(ctx context.Context) (*connResource, error) {
			id := "conn-" + strconv.FormatUint(nextID.next(), 10)

			p.sink.StartedConnecting(id)
			netConn, err := dial(ctx)
			if err != nil {
				p.sink.ConnectFailed(id, err)
				return nil, err
			}
			conn := NewConnection(id, netConn, p.sink)
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				_ = conn.Run(context.Background())
			}()
			p.sink.ConnectSucceeded(id)
			return &connResource{id: id, conn: conn}, nil
		},
		Destructor: func(r *connResource) {
			p.sink.ConnectionClosing(r.id)
			r.conn.Close()
		},
		MaxSize: int32(cfg.HardLimit),
	}

	pool, err := puddle.NewPool(puddleCfg)
	if err != nil {
		return nil, err
	}
	p.pool = pool

	// Hold every warm-up resource until all are created: releasing each one
	// right away would let the next Acquire reuse it instead of dialing.
	warm := make([]*puddle.Resource[*connResource], 0, cfg.MinConnections)
	for i := 0; i < cfg.MinConnections && i < cfg.HardLimit; i++ {
		if res, err := pool.Acquire(context.Background()); err == nil {
			warm = append(warm, res)
		}
	}
	for _, res := range warm {
		res.Release()
	}

	p.wg.Add(1)
	go p.superviseIdle()

	return p, nil
}

type atomicCounter struct {
	mu sync.Mutex
	n  uint64
}

func (c *atomicCounter) next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (p *puddlePool) Lease(ctx context.Context) (*Connection, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, &ConnectionUnavailableError{Cause: err}
	}
	conn := res.Value().conn
	p.sink.ConnectionLeased(res.Value().id)

	p.mu.Lock()
	p.acquired[conn] = res
	p.mu.Unlock()

	return conn, nil
}

func (p *puddlePool) Release(conn *Connection, fatal bool) {
	p.mu.Lock()
	res, ok := p.acquired[conn]
	if ok {
		delete(p.acquired, conn)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.sink.ConnectionReleased(res.Value().id)
	if fatal || conn.IsFinished() {
		res.Destroy()
		return
	}
	res.Release()
}

func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		Live:     int(s.TotalResources()),
		Idle:     int(s.IdleResources()),
		Leased:   int(s.AcquiredResources()),
		Acquired: uint64(s.AcquireCount()),
	}
}

func (p *puddlePool) Close() error {
	close(p.stopCh)
	p.pool.Close()
	p.wg.Wait()
	return nil
}

// superviseIdle applies idle_timeout and keep_alive_frequency, which
// puddle itself has no notion of: it retires idle resources past
// idle_timeout down to min_connections, and keep-alive-probes the rest.
func (p *puddlePool) superviseIdle() {
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

	lastUsed := make(map[string]time.Time)

	for {
		select {
		case <-ticker.C:
			idle := p.pool.AcquireAllIdle()
			now := coarsetime.Now()
			live := int(p.pool.Stat().TotalResources())
			for _, res := range idle {
				id := res.Value().id
				last, seen := lastUsed[id]
				if !seen {
					last = now
				}
				idleFor := now.Sub(last)
				switch {
				case idleFor > p.cfg.IdleTimeout && live > p.cfg.MinConnections:
					delete(lastUsed, id)
					res.Destroy()
					live--
				case idleFor > p.cfg.KeepAliveFrequency:
					p.sink.KeepAliveTriggered(id)
					conn := res.Value().conn
					err := runKeepAlive(context.Background(), conn, p.cfg.KeepAliveFrequency)
					if err != nil {
						p.sink.KeepAliveFailed(id, err)
						delete(lastUsed, id)
						res.Destroy()
						live--
					} else {
						p.sink.KeepAliveSucceeded(id)
						lastUsed[id] = now
						res.Release()
					}
				default:
					res.Release()
				}
			}
		case <-p.stopCh:
			return
		}
	}
}

var _ Pool = (*puddlePool)(nil)
