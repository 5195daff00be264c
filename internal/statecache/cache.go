// Package statecache holds the most recent aircraft snapshot with a
// time-to-live. The poller is the only writer; any number of readers may call Get.
package statecache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/airguardian/airguardian/internal/models"
)

// Cache stores one whole snapshot batch at a time.
type Cache struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	ttl   time.Duration
	batch []models.Aircraft
	putAt time.Time
	set   bool
}

// New creates a cache whose contents are treated as absent once ttl has
// elapsed since the last Put.
func New(ttl time.Duration, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{clock: clock, ttl: ttl}
}

// Put replaces the current snapshot and restarts the TTL.
func (c *Cache) Put(batch []models.Aircraft) {
	stored := make([]models.Aircraft, len(batch))
	copy(stored, batch)

	c.mu.Lock()
	c.batch = stored
	c.putAt = c.clock.Now()
	c.set = true
	c.mu.Unlock()
}

// Get returns a copy of the current snapshot, or nil when nothing has been
// written within the TTL. A stale cache reads the same as no observed entities.
func (c *Cache) Get() []models.Aircraft {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.liveLocked() {
		return nil
	}
	out := make([]models.Aircraft, len(c.batch))
	copy(out, c.batch)
	return out
}

// Lookup returns one entity from the live snapshot.
func (c *Cache) Lookup(id string) (models.Aircraft, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.liveLocked() {
		return models.Aircraft{}, false
	}
	for _, a := range c.batch {
		if a.ID == id {
			return a, true
		}
	}
	return models.Aircraft{}, false
}

// Age reports how long ago the last Put happened.
func (c *Cache) Age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set {
		return 0, false
	}
	return c.clock.Since(c.putAt), true
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) liveLocked() bool {
	if !c.set {
		return false
	}
	return c.clock.Since(c.putAt) < c.ttl
}
