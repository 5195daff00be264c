// Package history keeps a bounded, time-ordered trail of recent samples for
// every tracked entity.
package history

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/airguardian/airguardian/internal/buffer"
	"github.com/airguardian/airguardian/internal/models"
)

type track struct {
	samples    *buffer.Ring[models.Sample]
	lastAppend time.Time
}

// Tracker stores per-entity sample rings. Samples older than the window are
// evicted lazily on the next Append for that entity; Sweep drops entities
// that have not been appended to for longer than the window.
type Tracker struct {
	mu         sync.RWMutex
	clock      clockwork.Clock
	window     time.Duration
	maxSamples int
	entities   map[string]*track
}

// New creates a tracker. maxSamples caps memory per entity regardless of the window.
func New(window time.Duration, maxSamples int, clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &Tracker{
		clock:      clock,
		window:     window,
		maxSamples: maxSamples,
		entities:   make(map[string]*track),
	}
}

// Append records a sample for id. A sample older than the newest retained
// sample for that entity is rejected and false is returned.
func (t *Tracker) Append(id string, s models.Sample) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.entities[id]
	if !ok {
		tr = &track{samples: buffer.New[models.Sample](t.maxSamples)}
		t.entities[id] = tr
	}

	if last, ok := tr.samples.Last(); ok && s.Timestamp.Before(last.Timestamp) {
		return false
	}

	tr.samples.Push(s)
	tr.lastAppend = t.clock.Now()

	cutoff := s.Timestamp.Add(-t.window)
	tr.samples.DropWhile(func(old models.Sample) bool {
		return old.Timestamp.Before(cutoff)
	})
	return true
}

// Recent returns the retained samples for id, oldest first.
func (t *Tracker) Recent(id string) []models.Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.entities[id]
	if !ok {
		return nil
	}
	return tr.samples.Items()
}

// Sweep removes entities with no Append for longer than the window and
// returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	removed := 0
	for id, tr := range t.entities {
		if now.Sub(tr.lastAppend) > t.window {
			delete(t.entities, id)
			removed++
		}
	}
	return removed
}

// Stats returns the number of tracked entities and retained samples.
func (t *Tracker) Stats() (entities, samples int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, tr := range t.entities {
		samples += tr.samples.Len()
	}
	return len(t.entities), samples
}

// Window returns the retention window.
func (t *Tracker) Window() time.Duration {
	return t.window
}
