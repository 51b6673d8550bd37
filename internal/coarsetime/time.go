// Package coarsetime provides a coarse time.Now() to avoid the syscall
// overhead of frequent calls from hot paths like idle-timeout checks. It
// updates the cached value at a fixed interval (50ms) in a background
// goroutine.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const tick = 50 * time.Millisecond

var now atomic.Value

func init() {
	now.Store(time.Now())

	tick := time.NewTicker(tick)
	go func() {
		for range tick.C {
			now.Store(time.Now())
		}
	}()
}

func Now() time.Time {
	return now.Load().(time.Time)
}
