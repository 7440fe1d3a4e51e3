// Package cache holds the most recently computed engagement summary.
package cache

import (
	"sync"
	"time"

	"github.com/runnerr0/vitals/internal/aggregate"
)

// Entry is a cached summary and the token it was computed under.
type Entry struct {
	Token      uint64
	Summary    aggregate.EngagementSummary
	HasData    bool
	ComputedAt time.Time
}

// SummaryCache stores one summary guarded by an invalidation token. Every
// successful mutation bumps the token; a Set computed under an older token
// is dropped so an in-flight refresh cannot overwrite a newer view.
type SummaryCache struct {
	mu    sync.RWMutex
	token uint64
	entry *Entry
	now   func() time.Time
}

// NewSummaryCache returns an empty cache.
func NewSummaryCache() *SummaryCache {
	return &SummaryCache{now: time.Now}
}

// Token returns the current invalidation token. Callers read it before
// fetching and pass it back to Set.
func (c *SummaryCache) Token() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Invalidate drops the cached entry and returns the new token.
func (c *SummaryCache) Invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	c.entry = nil
	return c.token
}

// Set stores summary if token is still current. ok=false on an empty data
// set is cached too, so "no data yet" does not trigger refetches. It reports
// whether the value was kept.
func (c *SummaryCache) Set(token uint64, summary aggregate.EngagementSummary, ok bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.token {
		return false
	}
	c.entry = &Entry{Token: token, Summary: summary, HasData: ok, ComputedAt: c.now()}
	return true
}

// Get returns the cached entry. The bool is false when nothing valid is cached.
func (c *SummaryCache) Get() (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}
