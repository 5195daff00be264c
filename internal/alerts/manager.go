// Package alerts owns the alert lifecycle: deduplicating findings into
// alerts, resolving them and expiring them on a sweep.
package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/airguardian/airguardian/internal/models"
)

const defaultSaveDebounce = 2 * time.Second

// Config holds the expiry policy.
type Config struct {
	// UnresolvedExpiry deletes an unresolved alert not seen for longer than this.
	UnresolvedExpiry time.Duration
	// ResolvedRetention purges a resolved alert older than this.
	ResolvedRetention time.Duration
	// SaveDebounce coalesces writes to the store.
	SaveDebounce time.Duration
}

// DefaultConfig returns the default expiry policy.
func DefaultConfig() Config {
	return Config{
		UnresolvedExpiry:  10 * time.Minute,
		ResolvedRetention: time.Hour,
		SaveDebounce:      defaultSaveDebounce,
	}
}

// IngestResult describes what one batch of findings changed.
type IngestResult struct {
	Created []models.Alert
	Updated int
}

// SweepResult describes what one expiry sweep removed.
type SweepResult struct {
	Expired int
	Purged  int
}

// Manager is the single owner of the alert set. Ingest, Sweep and Resolve
// serialize on one mutex.
type Manager struct {
	mu         sync.Mutex
	config     Config
	clock      clockwork.Clock
	alerts     map[int64]*models.Alert
	unresolved map[string]int64 // fingerprint -> alert id
	nextID     int64
	callbacks  []func()

	store     Store
	saveMu    sync.Mutex // serializes writes to the store
	saveTimer *time.Timer
	stopped   bool
	stopOnce  sync.Once
}

// NewManager creates a manager. store may be nil for an in-memory set.
func NewManager(cfg Config, store Store, clock clockwork.Clock) *Manager {
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = defaultSaveDebounce
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		config:     cfg,
		clock:      clock,
		alerts:     make(map[int64]*models.Alert),
		unresolved: make(map[string]int64),
		nextID:     1,
		store:      store,
	}
}

// OnChange registers a callback invoked after any change to the alert set.
// Callbacks run outside the manager lock.
func (m *Manager) OnChange(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) notify() {
	m.mu.Lock()
	callbacks := append([]func(){}, m.callbacks...)
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// Load replaces the in-memory set with the stored one.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.LoadAlerts(ctx)
	if err != nil {
		return err
	}

	// Oldest first so duplicate unresolved fingerprints keep the oldest alert.
	sort.Slice(loaded, func(i, j int) bool {
		if !loaded[i].CreatedAt.Equal(loaded[j].CreatedAt) {
			return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
		}
		return loaded[i].ID < loaded[j].ID
	})

	m.mu.Lock()
	m.alerts = make(map[int64]*models.Alert, len(loaded))
	m.unresolved = make(map[string]int64)
	var maxID int64
	discarded := 0
	for _, a := range loaded {
		if a.ID > maxID {
			maxID = a.ID
		}
		if a.Fingerprint == "" {
			a.Fingerprint = a.Key().String()
		}
		if !a.Resolved {
			if keep, dup := m.unresolved[a.Fingerprint]; dup {
				log.Warn().
					Int64("kept", keep).
					Int64("discarded", a.ID).
					Str("fingerprint", a.Fingerprint).
					Msg("Discarding duplicate unresolved alert from store")
				discarded++
				continue
			}
			m.unresolved[a.Fingerprint] = a.ID
			if metricHooks.restored != nil {
				metricHooks.restored(a)
			}
		}
		m.alerts[a.ID] = a
	}
	m.nextID = maxID + 1
	m.mu.Unlock()

	log.Info().
		Int("alerts", len(loaded)-discarded).
		Int("discarded", discarded).
		Int64("nextID", maxID+1).
		Msg("Loaded alerts from store")

	if discarded > 0 {
		m.scheduleSave()
	}
	return nil
}

// Ingest folds a batch of findings into the alert set.
func (m *Manager) Ingest(findings []models.Finding) IngestResult {
	var result IngestResult
	if len(findings) == 0 {
		return result
	}

	m.mu.Lock()
	now := m.clock.Now()
	for _, f := range findings {
		key := f.Fingerprint().String()

		if id, ok := m.unresolved[key]; ok {
			if a := m.alerts[id]; a != nil {
				m.updateNoLock(a, f, now)
				result.Updated++
				continue
			}
			delete(m.unresolved, key)
		}

		a := &models.Alert{
			ID:          m.nextID,
			Fingerprint: key,
			EntityID:    f.EntityID,
			Callsign:    f.Callsign,
			Category:    f.Category,
			Severity:    f.Severity,
			Summary:     f.Summary,
			Rationale:   f.Rationale,
			Phraseology: f.Phraseology,
			CreatedAt:   now,
			LastSeenAt:  now,
			TimesSeen:   1,
		}
		m.nextID++
		m.alerts[a.ID] = a
		m.unresolved[key] = a.ID
		result.Created = append(result.Created, *a)

		if metricHooks.created != nil {
			metricHooks.created(a)
		}
		log.Info().
			Int64("id", a.ID).
			Str("fingerprint", key).
			Str("callsign", a.Callsign).
			Str("summary", a.Summary).
			Msg("Alert created")
	}
	m.mu.Unlock()

	m.scheduleSave()
	m.notify()
	return result
}

func (m *Manager) updateNoLock(a *models.Alert, f models.Finding, now time.Time) {
	if now.After(a.LastSeenAt) {
		a.LastSeenAt = now
	}
	a.TimesSeen++
	if f.Summary != "" && f.Summary != a.Summary {
		a.Summary = f.Summary
	}
	if f.Rationale != "" && f.Rationale != a.Rationale {
		a.Rationale = f.Rationale
	}
	if f.Phraseology != "" && f.Phraseology != a.Phraseology {
		a.Phraseology = f.Phraseology
	}
	if a.Callsign == "" {
		a.Callsign = f.Callsign
	}
	if metricHooks.updated != nil {
		metricHooks.updated(a)
	}
	log.Debug().Int64("id", a.ID).Int("timesSeen", a.TimesSeen).Msg("Alert refreshed")
}

// Resolve marks an alert resolved. Unknown or already resolved ids are a
// no-op; the return value reports whether anything changed.
func (m *Manager) Resolve(id int64) bool {
	m.mu.Lock()
	a, ok := m.alerts[id]
	if !ok || a.Resolved {
		m.mu.Unlock()
		log.Debug().Int64("id", id).Bool("known", ok).Msg("Resolve is a no-op")
		return false
	}
	now := m.clock.Now()
	a.Resolved = true
	a.ResolvedAt = &now
	if m.unresolved[a.Fingerprint] == id {
		delete(m.unresolved, a.Fingerprint)
	}
	if metricHooks.resolved != nil {
		metricHooks.resolved(a)
	}
	m.mu.Unlock()

	log.Info().Int64("id", id).Str("fingerprint", a.Fingerprint).Msg("Alert resolved")
	m.scheduleSave()
	m.notify()
	return true
}

// Sweep deletes unresolved alerts unseen for longer than the expiry and
// purges resolved alerts older than the retention.
func (m *Manager) Sweep() SweepResult {
	var result SweepResult

	m.mu.Lock()
	now := m.clock.Now()
	for id, a := range m.alerts {
		if !a.Resolved {
			if m.config.UnresolvedExpiry > 0 && now.Sub(a.LastSeenAt) > m.config.UnresolvedExpiry {
				delete(m.alerts, id)
				if m.unresolved[a.Fingerprint] == id {
					delete(m.unresolved, a.Fingerprint)
				}
				result.Expired++
				if metricHooks.expired != nil {
					metricHooks.expired(a)
				}
				log.Info().Int64("id", id).Str("fingerprint", a.Fingerprint).Msg("Alert expired")
			}
			continue
		}

		ref := a.CreatedAt
		if a.ResolvedAt != nil {
			ref = *a.ResolvedAt
		}
		if m.config.ResolvedRetention > 0 && now.Sub(ref) > m.config.ResolvedRetention {
			delete(m.alerts, id)
			result.Purged++
			if metricHooks.purged != nil {
				metricHooks.purged(a)
			}
			log.Debug().Int64("id", id).Msg("Resolved alert purged")
		}
	}
	m.mu.Unlock()

	if result.Expired > 0 || result.Purged > 0 {
		m.scheduleSave()
		m.notify()
	}
	return result
}

// List returns copies of the alerts, most urgent and longest-standing first.
func (m *Manager) List(unresolvedOnly bool) []models.Alert {
	m.mu.Lock()
	out := make([]models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if unresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one alert.
func (m *Manager) Get(id int64) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return cloneAlert(a), true
}

// SetAudio records the audio reference of an alert. It reports false when
// the alert no longer exists.
func (m *Manager) SetAudio(id int64, ref string) bool {
	m.mu.Lock()
	a, ok := m.alerts[id]
	if ok {
		a.AudioRef = ref
	}
	m.mu.Unlock()
	if ok {
		m.scheduleSave()
		m.notify()
	}
	return ok
}

// Counts returns the number of unresolved and resolved alerts.
func (m *Manager) Counts() (unresolved, resolved int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unresolved = len(m.unresolved)
	return unresolved, len(m.alerts) - unresolved
}

func cloneAlert(a *models.Alert) models.Alert {
	c := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// scheduleSave coalesces store writes into one after the debounce.
func (m *Manager) scheduleSave() {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	m.saveTimer = time.AfterFunc(m.config.SaveDebounce, func() {
		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}
		if err := m.Flush(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to save alerts")
		}
	})
}

// Flush writes the current alert set to the store immediately.
func (m *Manager) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	snapshot := make([]*models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		c := cloneAlert(a)
		snapshot = append(snapshot, &c)
	}
	m.mu.Unlock()

	if err := m.store.SaveAlerts(ctx, snapshot); err != nil {
		return err
	}
	log.Debug().Int("alerts", len(snapshot)).Msg("Alerts saved")
	return nil
}

// Stop cancels any pending save and flushes one final time.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		if m.saveTimer != nil {
			m.saveTimer.Stop()
		}
		m.mu.Unlock()
		err = m.Flush(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to save alerts on shutdown")
		}
	})
	return err
}
