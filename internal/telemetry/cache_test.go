package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache(5*time.Minute, time.Minute)

	c.Put(1, Sample{PointID: 10, Value: 42.5, Quality: QualityGood})

	s, ok := c.Get(1, 10)
	assert.True(t, ok)
	assert.Equal(t, 42.5, s.Value)

	// Tenant scoping: the same point id under another tenant is empty.
	_, ok = c.Get(2, 10)
	assert.False(t, ok)
}

func TestCacheLastWriteWins(t *testing.T) {
	c := NewCache(5*time.Minute, time.Minute)

	c.Put(1, Sample{PointID: 10, Value: 1})
	c.Put(1, Sample{PointID: 10, Value: 2})

	s, ok := c.Get(1, 10)
	assert.True(t, ok)
	assert.Equal(t, 2.0, s.Value)
}

func TestCacheEvictsStaleSamples(t *testing.T) {
	c := NewCache(50*time.Millisecond, 10*time.Millisecond)

	c.Put(1, Sample{PointID: 10, Value: 1})
	time.Sleep(120 * time.Millisecond)

	_, ok := c.Get(1, 10)
	assert.False(t, ok)
	assert.Empty(t, c.AllForTenant(1))
}

func TestGetPointsReportsPlaceholders(t *testing.T) {
	c := NewCache(5*time.Minute, time.Minute)
	c.Put(1, Sample{PointID: 10, Value: 3.5, Quality: QualityGood})

	// One row per requested point; the uncached point comes back with
	// uncertain quality and a placeholder value, never omitted.
	rows := c.GetPoints(1, []int64{10, 11})
	assert.Len(t, rows, 2)
	assert.Equal(t, 3.5, rows[0].Value)
	assert.Equal(t, QualityGood, rows[0].Quality)
	assert.Equal(t, int64(11), rows[1].PointID)
	assert.Equal(t, QualityUncertain, rows[1].Quality)
	assert.Equal(t, 0.0, rows[1].Value)
}

func TestAllForTenant(t *testing.T) {
	c := NewCache(5*time.Minute, time.Minute)
	c.Put(1, Sample{PointID: 10, Value: 1})
	c.Put(1, Sample{PointID: 11, Value: 2})
	c.Put(2, Sample{PointID: 12, Value: 3})

	assert.Len(t, c.AllForTenant(1), 2)
	assert.Len(t, c.AllForTenant(2), 1)
	assert.Empty(t, c.AllForTenant(3))
}
