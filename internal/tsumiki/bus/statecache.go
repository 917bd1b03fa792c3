package bus

import (
	"sync"
	"time"
)

// stateCache holds the single most recent device state snapshot.
// Last write wins; readers always see a complete snapshot or nothing.
type stateCache struct {
	mu         sync.RWMutex
	snap       StateSnapshot
	capturedAt time.Time
	has        bool
}

// store replaces the cached snapshot atomically.
func (c *stateCache) store(snap StateSnapshot, now time.Time) {
	c.mu.Lock()
	c.snap = snap
	c.capturedAt = now
	c.has = true
	c.mu.Unlock()
}

// fresh returns the cached snapshot only if it was captured no longer than
// maxAge before now. Stale or absent data yields ok=false, never a silently
// outdated snapshot.
func (c *stateCache) fresh(now time.Time, maxAge time.Duration) (StateSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.has || now.Sub(c.capturedAt) > maxAge {
		return StateSnapshot{}, false
	}
	return c.snap, true
}
