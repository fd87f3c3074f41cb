package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBudget(t *testing.T) {
	l := New(3, time.Minute, 30*time.Minute)

	allowed, remaining := l.Allow("1.2.3.4", "activate")
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)

	allowed, remaining = l.Allow("1.2.3.4", "activate")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)

	allowed, remaining = l.Allow("1.2.3.4", "activate")
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestDeniesAfterMaxAndBlocks(t *testing.T) {
	l := New(3, time.Minute, 30*time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow("1.2.3.4", "activate")
		assert.True(t, allowed)
	}

	// The N+1th attempt within the window is denied and starts a block.
	allowed, remaining := l.Allow("1.2.3.4", "activate")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 30*time.Minute, l.BlockedFor("1.2.3.4", "activate"))

	// Still denied after the window itself has elapsed, because of the block.
	l.now = func() time.Time { return base.Add(5 * time.Minute) }
	allowed, _ = l.Allow("1.2.3.4", "activate")
	assert.False(t, allowed)
}

func TestFreshAttemptAllowedAfterBlockElapses(t *testing.T) {
	l := New(2, time.Minute, 30*time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Allow("1.2.3.4", "activate")
	l.Allow("1.2.3.4", "activate")
	allowed, _ := l.Allow("1.2.3.4", "activate")
	assert.False(t, allowed)

	// After the block duration elapses, a fresh attempt is allowed and the
	// counter resets.
	l.now = func() time.Time { return base.Add(31 * time.Minute) }
	allowed, remaining := l.Allow("1.2.3.4", "activate")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute, 30*time.Minute)

	allowed, _ := l.Allow("1.2.3.4", "activate")
	assert.True(t, allowed)
	allowed, _ = l.Allow("1.2.3.4", "activate")
	assert.False(t, allowed)

	// Different identifier, same endpoint: separate budget.
	allowed, _ = l.Allow("5.6.7.8", "activate")
	assert.True(t, allowed)

	// Same identifier, different endpoint: separate budget.
	allowed, _ = l.Allow("1.2.3.4", "data")
	assert.True(t, allowed)
}

func TestCleanupDropsExpiredWindows(t *testing.T) {
	l := New(5, time.Minute, 30*time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Allow("a", "activate")
	l.Allow("b", "activate")
	assert.Equal(t, 0, l.Cleanup())

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 2, l.Cleanup())
}

func TestCleanupKeepsBlockedWindows(t *testing.T) {
	l := New(1, time.Minute, 30*time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Allow("a", "activate")
	l.Allow("a", "activate") // denied, blocked

	// Window elapsed but block is active: the entry must survive cleanup.
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 0, l.Cleanup())

	allowed, _ := l.Allow("a", "activate")
	assert.False(t, allowed)
}
