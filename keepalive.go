package memcache

import (
	"context"
	"time"
)

// runKeepAlive issues a no-op on conn and waits for the MN response within
// a bounded wait. A connection that sits idle in the pool beyond the
// configured frequency is probed this way before being handed out again;
// failure marks it for retirement rather than leasing a connection that
// might already be dead.
func runKeepAlive(ctx context.Context, conn *Connection, bound time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()
	return conn.NoOp(ctx)
}
