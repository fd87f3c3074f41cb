package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Sample is the latest reading for one monitored point. Samples live only in
// this cache; a newer sample for the same point supersedes the previous one
// and a sample not refreshed within the staleness window is evicted.
type Sample struct {
	PointID   int64     `json:"pointId"`
	Value     float64   `json:"value"`
	Quality   string    `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache is the per-tenant latest-value store. Entries are keyed
// "tenant|point" inside a go-cache instance whose janitor performs the
// periodic staleness sweep.
type Cache struct {
	c *cache.Cache
}

// NewCache creates a cache evicting samples older than staleness, swept every
// sweep interval.
func NewCache(staleness, sweep time.Duration) *Cache {
	return &Cache{c: cache.New(staleness, sweep)}
}

func sampleKey(tenantID, pointID int64) string {
	return fmt.Sprintf("%d|%d", tenantID, pointID)
}

// Put stores the latest sample for a point. Last write wins.
func (tc *Cache) Put(tenantID int64, s Sample) {
	tc.c.SetDefault(sampleKey(tenantID, s.PointID), s)
}

// Get returns the cached sample for one point, if fresh.
func (tc *Cache) Get(tenantID, pointID int64) (Sample, bool) {
	v, found := tc.c.Get(sampleKey(tenantID, pointID))
	if !found {
		return Sample{}, false
	}
	return v.(Sample), true
}

// GetPoints returns one row per requested point. A point with no fresh sample
// is reported with uncertain quality and a placeholder value rather than
// being omitted, so consumers always get len(pointIDs) rows.
func (tc *Cache) GetPoints(tenantID int64, pointIDs []int64) []Sample {
	out := make([]Sample, 0, len(pointIDs))
	for _, id := range pointIDs {
		if s, ok := tc.Get(tenantID, id); ok {
			out = append(out, s)
			continue
		}
		out = append(out, Sample{PointID: id, Quality: QualityUncertain})
	}
	return out
}

// AllForTenant returns every fresh sample belonging to a tenant.
func (tc *Cache) AllForTenant(tenantID int64) []Sample {
	prefix := fmt.Sprintf("%d|", tenantID)
	var out []Sample
	for key, item := range tc.c.Items() {
		if strings.HasPrefix(key, prefix) {
			out = append(out, item.Object.(Sample))
		}
	}
	return out
}
