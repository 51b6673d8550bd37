package memcache

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/metacache/meta"
)

// Config configures a Client.
type Config struct {
	// Dialer opens a new transport connection. Required.
	Dialer Dialer

	// Pool builds the Pool backend. If nil, NewChannelPool is used.
	Pool func(dial Dialer, cfg PoolConfig) (Pool, error)

	// PoolConfig configures connection lifecycle. Zero value uses
	// DefaultPoolConfig.
	PoolConfig PoolConfig

	// Sink receives observability events from both the pool and the
	// connections it manages. If nil, NoopSink is used.
	Sink Sink

	// CircuitBreaker wraps pool leases, short-circuiting them once a
	// pool's dial failures pile up. If nil, no breaker is used.
	CircuitBreaker *gobreaker.CircuitBreaker[*Connection]

	// Logger receives warnings about misuse, such as leasing before Run.
	// If nil, log.Default() is used.
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Sink == nil {
		c.Sink = NoopSink{}
	}
	c.PoolConfig.Dialer = c.Dialer
	c.PoolConfig.Sink = c.Sink
	c.PoolConfig = c.PoolConfig.withDefaults()
	if c.Pool == nil {
		c.Pool = func(dial Dialer, cfg PoolConfig) (Pool, error) {
			return NewChannelPool(dial, cfg), nil
		}
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Client is a stateless facade over a Pool: it leases a Connection for
// the duration of one call and always returns it, then layers typed
// single-shot helpers on top of Connection's typed methods.
type Client struct {
	cfg   Config
	pool  Pool
	cb    *gobreaker.CircuitBreaker[*Connection]
	stats *clientStatsCollector

	started atomic.Bool
}

// NewClient builds a Client from cfg. The returned Client does nothing
// until Run is called.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("metacache: Config.Dialer is required")
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:   cfg,
		cb:    cfg.CircuitBreaker,
		stats: &clientStatsCollector{},
	}, nil
}

// Run starts the underlying pool. It must be called exactly once before
// any other Client method; calling a lease method first is a logic
// error that gets logged rather than silently tolerated.
func (c *Client) Run() error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("metacache: Run called more than once")
	}
	pool, err := c.cfg.Pool(c.cfg.Dialer, c.cfg.PoolConfig)
	if err != nil {
		return err
	}
	c.pool = pool
	return nil
}

// Close stops leasing new connections and closes every connection the
// pool owns.
func (c *Client) Close() error {
	if c.pool == nil {
		return nil
	}
	return c.pool.Close()
}

func (c *Client) lease(ctx context.Context) (*Connection, error) {
	if !c.started.Load() {
		c.cfg.Logger.Printf("metacache: lease attempted before Run; call Client.Run once at startup")
		return nil, fmt.Errorf("metacache: client not started, call Run first")
	}
	if c.cb != nil {
		return leaseThroughBreaker(ctx, c.pool, c.cb)
	}
	return c.pool.Lease(ctx)
}

// WithConnection leases a Connection, invokes fn, and releases the lease
// on every exit path: fn returning normally or with an error, and ctx
// being cancelled while fn is still running. A connection is released
// fatally (and closed rather than reused) whenever fn's error signals
// the connection itself may be unhealthy.
func (c *Client) WithConnection(ctx context.Context, fn func(conn *Connection) error) error {
	conn, err := c.lease(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(conn)
	}()

	select {
	case err := <-errCh:
		c.pool.Release(conn, err != nil && ShouldCloseConnection(err))
		return err
	case <-ctx.Done():
		go func() {
			c.pool.Release(conn, ShouldCloseConnection(<-errCh))
		}()
		return ctx.Err()
	}
}

// Get retrieves the value stored at key. found is false on a cache miss.
func (c *Client) Get(ctx context.Context, key string) (data []byte, found bool, err error) {
	err = c.WithConnection(ctx, func(conn *Connection) error {
		var innerErr error
		data, found, innerErr = conn.Get(ctx, key)
		return innerErr
	})
	c.stats.recordGet(found)
	if err != nil {
		c.stats.recordError()
	}
	return data, found, err
}

// Set stores data at key unconditionally.
func (c *Client) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	err := c.WithConnection(ctx, func(conn *Connection) error {
		return conn.Set(ctx, key, data, toTTL(ttl))
	})
	c.stats.recordSet()
	if err != nil {
		c.stats.recordError()
	}
	return err
}

// Add stores data at key only if it doesn't already exist.
func (c *Client) Add(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	err := c.WithConnection(ctx, func(conn *Connection) error {
		return conn.Add(ctx, key, data, toTTL(ttl))
	})
	c.stats.recordAdd()
	if err != nil {
		c.stats.recordError()
	}
	return err
}

// Replace stores data at key only if it already exists.
func (c *Client) Replace(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	err := c.WithConnection(ctx, func(conn *Connection) error {
		return conn.Replace(ctx, key, data, toTTL(ttl))
	})
	if err != nil {
		c.stats.recordError()
	}
	return err
}

// Append adds data to the end of the existing value at key.
func (c *Client) Append(ctx context.Context, key string, data []byte) error {
	err := c.WithConnection(ctx, func(conn *Connection) error {
		return conn.Append(ctx, key, data)
	})
	if err != nil {
		c.stats.recordError()
	}
	return err
}

// Prepend adds data to the start of the existing value at key.
func (c *Client) Prepend(ctx context.Context, key string, data []byte) error {
	err := c.WithConnection(ctx, func(conn *Connection) error {
		return conn.Prepend(ctx, key, data)
	})
	if err != nil {
		c.stats.recordError()
	}
	return err
}

// Delete removes key. A missing key is reported as a KeyNotFoundError.
func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.WithConnection(ctx, func(conn *Connection) error {
		return conn.Delete(ctx, key)
	})
	c.stats.recordDelete()
	if err != nil {
		c.stats.recordError()
	}
	return err
}

// Increment adds delta to the integer stored at key.
func (c *Client) Increment(ctx context.Context, key string, delta uint64) (newValue uint64, hasValue bool, err error) {
	err = c.WithConnection(ctx, func(conn *Connection) error {
		var innerErr error
		newValue, hasValue, innerErr = conn.Increment(ctx, key, delta)
		return innerErr
	})
	c.stats.recordIncrement()
	if err != nil {
		c.stats.recordError()
	}
	return newValue, hasValue, err
}

// Decrement subtracts delta from the integer stored at key.
func (c *Client) Decrement(ctx context.Context, key string, delta uint64) (newValue uint64, hasValue bool, err error) {
	err = c.WithConnection(ctx, func(conn *Connection) error {
		var innerErr error
		newValue, hasValue, innerErr = conn.Decrement(ctx, key, delta)
		return innerErr
	})
	c.stats.recordDecrement()
	if err != nil {
		c.stats.recordError()
	}
	return newValue, hasValue, err
}

// Touch updates the TTL of key without fetching its value.
func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) error {
	err := c.WithConnection(ctx, func(conn *Connection) error {
		return conn.Touch(ctx, key, toTTL(ttl))
	})
	if err != nil {
		c.stats.recordError()
	}
	return err
}

// Debug issues a meta-debug request for key, a low-level escape hatch
// returning the raw decoded response for callers that need fields the
// typed methods don't expose.
func (c *Client) Debug(ctx context.Context, key string) (*meta.Response, error) {
	var resp *meta.Response
	err := c.WithConnection(ctx, func(conn *Connection) error {
		var innerErr error
		resp, innerErr = conn.Debug(ctx, key)
		return innerErr
	})
	if err != nil {
		c.stats.recordError()
	}
	return resp, err
}

// Stats returns a snapshot of client-level operation counters.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of the underlying pool's state.
func (c *Client) PoolStats() PoolStats {
	if c.pool == nil {
		return PoolStats{}
	}
	return c.pool.Stats()
}

func toTTL(d time.Duration) meta.TTL {
	if d <= 0 {
		return meta.Indefinite()
	}
	return meta.ExpiresAt(time.Now().Add(d))
}
