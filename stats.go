package memcache

import "sync/atomic"

// ClientStats counts operations performed through a Client. All fields
// are safe for concurrent access.
type ClientStats struct {
	Gets       uint64
	GetHits    uint64
	Sets       uint64
	Adds       uint64
	Deletes    uint64
	Increments uint64
	Decrements uint64
	Errors     uint64
}

// clientStatsCollector accumulates ClientStats. Not exported; a Client
// owns and updates its own collector.
type clientStatsCollector struct {
	stats ClientStats
}

func (c *clientStatsCollector) recordGet(found bool) {
	atomic.AddUint64(&c.stats.Gets, 1)
	if found {
		atomic.AddUint64(&c.stats.GetHits, 1)
	}
}

func (c *clientStatsCollector) recordSet()       { atomic.AddUint64(&c.stats.Sets, 1) }
func (c *clientStatsCollector) recordAdd()       { atomic.AddUint64(&c.stats.Adds, 1) }
func (c *clientStatsCollector) recordDelete()    { atomic.AddUint64(&c.stats.Deletes, 1) }
func (c *clientStatsCollector) recordIncrement() { atomic.AddUint64(&c.stats.Increments, 1) }
func (c *clientStatsCollector) recordDecrement() { atomic.AddUint64(&c.stats.Decrements, 1) }
func (c *clientStatsCollector) recordError()     { atomic.AddUint64(&c.stats.Errors, 1) }

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       atomic.LoadUint64(&c.stats.Gets),
		GetHits:    atomic.LoadUint64(&c.stats.GetHits),
		Sets:       atomic.LoadUint64(&c.stats.Sets),
		Adds:       atomic.LoadUint64(&c.stats.Adds),
		Deletes:    atomic.LoadUint64(&c.stats.Deletes),
		Increments: atomic.LoadUint64(&c.stats.Increments),
		Decrements: atomic.LoadUint64(&c.stats.Decrements),
		Errors:     atomic.LoadUint64(&c.stats.Errors),
	}
}
