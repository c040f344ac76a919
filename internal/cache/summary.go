package cache

import (
	"fmt"
	"time"

	"fincontrol/internal/core"
	"fincontrol/internal/finance"
	"fincontrol/internal/ledger"
)

// SummaryEntry is a computed period summary and its forecast.
type SummaryEntry struct {
	Summary  core.FinancialSummary
	Forecast finance.Forecast
}

// SummaryCache memoizes period summaries per ledger snapshot. Keys include
// the snapshot version, so any ledger change makes older entries unreachable.
type SummaryCache struct {
	lru *LRUCache[SummaryEntry]
}

func NewSummaryCache(size int, ttl time.Duration) *SummaryCache {
	return &SummaryCache{lru: NewLRUCache[SummaryEntry](size, ttl)}
}

// SummaryKey is "<user>/<period>@<version>".
func SummaryKey(userID string, period core.Period, version uint64) string {
	return fmt.Sprintf("%s/%s@%d", userID, period, version)
}

// Get returns the summary of period for snap, computing and storing it on a
// miss. cached reports whether it came from the cache.
func (c *SummaryCache) Get(snap ledger.Snapshot, period core.Period) (entry SummaryEntry, cached bool) {
	key := SummaryKey(snap.UserID, period, snap.Version)
	if e, ok := c.lru.Get(key); ok {
		return e, true
	}

	filtered := finance.FilterForPeriod(snap.Transactions, snap.Cards, period)
	summary, forecast := finance.ComputeSummary(snap.Transactions, filtered, snap.Cards, period)
	entry = SummaryEntry{Summary: summary, Forecast: forecast}
	c.lru.Set(key, entry)
	return entry, false
}

func (c *SummaryCache) CleanExpired() int {
	return c.lru.CleanExpired()
}

func (c *SummaryCache) Stats() Stats {
	return c.lru.Stats()
}
