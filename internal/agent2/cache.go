package agent2

import (
	"sort"
	"sync"
	"time"

	"github.com/kidoz/vmsmoke/internal/history"
)

// ReportCache holds the latest stored run per host in a thread-safe manner.
type ReportCache struct {
	mu        sync.RWMutex
	latest    map[string]history.Entry
	refreshed time.Time
}

// NewReportCache creates a new empty cache.
func NewReportCache() *ReportCache {
	return &ReportCache{}
}

// Update replaces the cached data atomically.
func (c *ReportCache) Update(latest map[string]history.Entry, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = latest
	c.refreshed = at
}

// Get returns the latest run for host.
func (c *ReportCache) Get(host string) (history.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.latest[host]
	return e, ok
}

// Hosts returns every cached host, sorted.
func (c *ReportCache) Hosts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hosts := make([]string, 0, len(c.latest))
	for h := range c.latest {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Ready reports whether the cache has been filled at least once.
func (c *ReportCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.refreshed.IsZero()
}
