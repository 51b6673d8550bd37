package memcache

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreaker builds a gobreaker around repeated lease failures for
// one pool. It trips after at least 3 requests with a failure ratio of
// 60% or higher, giving a pool with a dead upstream a chance to stop
// piling up ConnectionUnavailable waits behind dial timeouts.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker[*Connection] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
	return gobreaker.NewCircuitBreaker[*Connection](settings)
}

// leaseThroughBreaker runs pool.Lease through cb, so a pool whose dials
// keep failing starts failing fast instead of letting every caller wait
// out its own dial timeout.
func leaseThroughBreaker(ctx context.Context, pool Pool, cb *gobreaker.CircuitBreaker[*Connection]) (*Connection, error) {
	return cb.Execute(func() (*Connection, error) {
		return pool.Lease(ctx)
	})
}
