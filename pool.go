package memcache

import (
	"context"
	"net"
	"time"
)

// Dialer establishes a new transport connection. Swappable for tests and
// for TLS wrapping, which is the caller's concern.
type Dialer func(ctx context.Context) (net.Conn, error)

// NetDialer returns a Dialer that opens a plain TCP connection to addr.
func NetDialer(addr string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// PoolConfig configures a Pool. Zero values fall back to the package
// defaults via DefaultPoolConfig.
type PoolConfig struct {
	Dialer Dialer
	Sink   Sink

	// MinConnections is the floor on live connections.
	MinConnections int
	// SoftLimit is the preferred ceiling; exceeded only under pressure.
	SoftLimit int
	// HardLimit is the absolute ceiling; blocks further lease starts.
	HardLimit int
	// IdleTimeout is the retirement threshold for idle connections.
	IdleTimeout time.Duration
	// KeepAliveFrequency is the cadence of no-op probes against idle
	// connections.
	KeepAliveFrequency time.Duration
}

// DefaultPoolConfig returns the package's documented defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConnections:     0,
		SoftLimit:          16,
		HardLimit:          16,
		IdleTimeout:        60 * time.Second,
		KeepAliveFrequency: 30 * time.Second,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.SoftLimit > 0 {
		d.SoftLimit = c.SoftLimit
	}
	if c.HardLimit > 0 {
		d.HardLimit = c.HardLimit
	}
	if d.HardLimit < d.SoftLimit {
		d.SoftLimit = d.HardLimit
	}
	if c.MinConnections > 0 {
		d.MinConnections = c.MinConnections
	}
	if c.IdleTimeout > 0 {
		d.IdleTimeout = c.IdleTimeout
	}
	if c.KeepAliveFrequency > 0 {
		d.KeepAliveFrequency = c.KeepAliveFrequency
	}
	d.Dialer = c.Dialer
	d.Sink = c.Sink
	if d.Sink == nil {
		d.Sink = NoopSink{}
	}
	return d
}

// Pool leases Connections to callers and owns their lifecycle: dialing,
// keep-alive probing, idle retirement, and shutdown draining.
type Pool interface {
	// Lease blocks until a connection is available or ctx is done.
	Lease(ctx context.Context) (*Connection, error)
	// Release returns a leased connection to the pool. fatal reports
	// whether the caller observed an error that makes the connection
	// unusable, in which case the pool closes it instead of reusing it.
	Release(conn *Connection, fatal bool)
	// Stats returns a snapshot of the pool's current state.
	Stats() PoolStats
	// Close stops accepting new leases and closes every connection.
	// Whether it waits for in-flight leases depends on the backend: the
	// channel pool closes leased connections immediately, while the
	// puddle pool blocks until they are released.
	Close() error
}

// PoolStats is a point-in-time snapshot of a Pool's internals.
type PoolStats struct {
	Live     int
	Idle     int
	Leased   int
	Waiters  int
	Acquired uint64
}
