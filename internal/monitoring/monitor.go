// Package monitoring runs the scheduled tasks of the pipeline: the aircraft
// poller, the analysis cycle, the alert and history sweeps and the
// environmental report refresh.
package monitoring

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/airguardian/airguardian/internal/alerts"
	"github.com/airguardian/airguardian/internal/enrich"
	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/history"
	"github.com/airguardian/airguardian/internal/logging"
	"github.com/airguardian/airguardian/internal/metrics"
	"github.com/airguardian/airguardian/internal/models"
	"github.com/airguardian/airguardian/internal/statecache"
)

// AircraftFetcher returns the aircraft currently inside the surveillance area.
type AircraftFetcher interface {
	Fetch(ctx context.Context) ([]models.Aircraft, error)
}

// Enricher derives analysis context for a batch.
type Enricher interface {
	EnrichBatch(ctx context.Context, batch []models.Aircraft) []enrich.Context
}

// Analyzer turns an enriched batch into findings.
type Analyzer interface {
	Analyze(ctx context.Context, batch []enrich.Context) ([]models.Finding, error)
}

// ReportRefresher reloads the environmental report set.
type ReportRefresher interface {
	Refresh(ctx context.Context) error
	Len() int
}

// AudioPreparer synthesises audio for newly created alerts and removes
// clips left behind by alerts that no longer exist.
type AudioPreparer interface {
	Prepare(ctx context.Context, created []models.Alert) int
	Cleanup() int
}

// Broadcaster pushes updates to UI clients.
type Broadcaster interface {
	BroadcastAlerts(alerts interface{})
	BroadcastPlanes(planes interface{})
}

// Intervals holds the task periods.
type Intervals struct {
	Poll          time.Duration
	Analysis      time.Duration
	AlertSweep    time.Duration
	HistorySweep  time.Duration
	ReportRefresh time.Duration
}

// Config configures the monitor.
type Config struct {
	Intervals   Intervals
	MaxAircraft int
}

// Deps are the components the monitor schedules. Analyzer, Reports, Audio
// and Hub are optional.
type Deps struct {
	Fetcher  AircraftFetcher
	Cache    *statecache.Cache
	History  *history.Tracker
	Enricher Enricher
	Analyzer Analyzer
	Alerts   *alerts.Manager
	Reports  ReportRefresher
	Audio    AudioPreparer
	Hub      Broadcaster
}

// Monitor owns the scheduled tasks.
type Monitor struct {
	config Config
	deps   Deps
	clock  clockwork.Clock

	analyzing   atomic.Bool
	pollCounter atomic.Int64

	pollLog     zerolog.Logger
	analysisLog zerolog.Logger
	sweepLog    zerolog.Logger
	reportLog   zerolog.Logger
}

// New creates a monitor.
func New(cfg Config, deps Deps, clock clockwork.Clock) *Monitor {
	if cfg.MaxAircraft <= 0 {
		cfg.MaxAircraft = 10
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		config:      cfg,
		deps:        deps,
		clock:       clock,
		pollLog:     logging.WithComponent("poller"),
		analysisLog: logging.WithComponent("analysis"),
		sweepLog:    logging.WithComponent("sweeper"),
		reportLog:   logging.WithComponent("reports"),
	}
}

// Run starts every scheduled task and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	iv := m.config.Intervals
	log.Info().
		Dur("poll", iv.Poll).
		Dur("analysis", iv.Analysis).
		Dur("alertSweep", iv.AlertSweep).
		Dur("historySweep", iv.HistorySweep).
		Dur("reportRefresh", iv.ReportRefresh).
		Bool("analysisEnabled", m.deps.Analyzer != nil).
		Msg("Starting monitoring loops")

	g, ctx := errgroup.WithContext(ctx)
	m.every(g, ctx, "poll", iv.Poll, true, m.PollOnce)
	if m.deps.Analyzer != nil {
		m.every(g, ctx, "analysis", iv.Analysis, false, m.AnalyzeOnce)
	}
	m.every(g, ctx, "alertSweep", iv.AlertSweep, false, func(context.Context) { m.SweepAlerts() })
	m.every(g, ctx, "historySweep", iv.HistorySweep, false, func(context.Context) { m.SweepHistory() })
	if m.deps.Reports != nil {
		m.every(g, ctx, "reportRefresh", iv.ReportRefresh, true, m.RefreshReports)
	}

	err := g.Wait()
	log.Info().Msg("Monitoring loops stopped")
	return err
}

// every runs fn on each tick of period until ctx is done. Ticks that fire
// while fn is still running are dropped by the ticker.
func (m *Monitor) every(g *errgroup.Group, ctx context.Context, name string, period time.Duration, immediate bool, fn func(context.Context)) {
	if period <= 0 {
		log.Warn().Str("task", name).Msg("Task disabled, non-positive period")
		return
	}
	g.Go(func() error {
		ticker := m.clock.NewTicker(period)
		defer ticker.Stop()

		if immediate {
			fn(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.Chan():
				fn(ctx)
			}
		}
	})
}

// PollOnce fetches one snapshot and publishes it. A failed fetch leaves the
// cache untouched.
func (m *Monitor) PollOnce(ctx context.Context) {
	start := time.Now()
	batch, err := m.deps.Fetcher.Fetch(ctx)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordPoll(err, 0, elapsed)
		m.pollLog.Warn().
			Err(err).
			Bool("retryable", pipeerrors.IsRetryableError(err)).
			Msg("Aircraft poll failed; keeping previous snapshot")
		return
	}

	m.deps.Cache.Put(batch)
	now := m.clock.Now()
	for _, a := range batch {
		at := a.SeenAt
		if at.IsZero() {
			at = now
		}
		if s, ok := models.SampleFromAircraft(a, at); ok {
			m.deps.History.Append(a.ID, s)
		}
	}
	metrics.RecordPoll(nil, len(batch), elapsed)
	m.pollCounter.Add(1)

	if m.deps.Hub != nil {
		m.deps.Hub.BroadcastPlanes(batch)
	}
	m.pollLog.Debug().Int("aircraft", len(batch)).Dur("elapsed", elapsed).Msg("Poll completed")
}

// AnalyzeOnce runs one analysis cycle on the latest snapshot. Overlapping
// cycles are skipped.
func (m *Monitor) AnalyzeOnce(ctx context.Context) {
	if m.deps.Analyzer == nil {
		return
	}
	if !m.analyzing.CompareAndSwap(false, true) {
		metrics.RecordAnalysisCycle("skipped", 0)
		m.analysisLog.Debug().Msg("Previous analysis cycle still running, skipping")
		return
	}
	defer m.analyzing.Store(false)

	start := time.Now()
	snapshot := m.deps.Cache.Get()
	if len(snapshot) == 0 {
		metrics.RecordAnalysisCycle("skipped", time.Since(start))
		m.analysisLog.Debug().Msg("No current aircraft data, skipping analysis")
		return
	}

	batch := selectForAnalysis(snapshot, m.config.MaxAircraft)
	enriched := m.deps.Enricher.EnrichBatch(ctx, batch)

	findings, err := m.deps.Analyzer.Analyze(ctx, enriched)
	if err != nil {
		metrics.RecordAnalysisCycle("error", time.Since(start))
		// Already logged by the analyzer; nothing is ingested on failure
		return
	}

	result := m.deps.Alerts.Ingest(findings)
	if m.deps.Audio != nil && len(result.Created) > 0 {
		m.deps.Audio.Prepare(ctx, result.Created)
	}
	metrics.RecordAnalysisCycle("success", time.Since(start))

	m.analysisLog.Info().
		Int("aircraft", len(batch)).
		Int("findings", len(findings)).
		Int("created", len(result.Created)).
		Int("updated", result.Updated).
		Dur("elapsed", time.Since(start)).
		Msg("Analysis cycle completed")
}

// SweepAlerts applies the expiry and retention policy, then removes audio
// clips whose alert is gone.
func (m *Monitor) SweepAlerts() alerts.SweepResult {
	res := m.deps.Alerts.Sweep()
	if res.Expired > 0 || res.Purged > 0 {
		m.sweepLog.Info().Int("expired", res.Expired).Int("purged", res.Purged).Msg("Alert sweep completed")
	}
	if m.deps.Audio != nil {
		m.deps.Audio.Cleanup()
	}
	return res
}

// SweepHistory drops entities that have not been seen within the window.
func (m *Monitor) SweepHistory() int {
	n := m.deps.History.Sweep()
	metrics.RecordHistorySwept(n)
	entities, samples := m.deps.History.Stats()
	metrics.SetHistorySize(entities, samples)
	if n > 0 {
		m.sweepLog.Debug().Int("removed", n).Int("entities", entities).Msg("History sweep completed")
	}
	return n
}

// RefreshReports reloads environmental reports. A failure keeps the previous set.
func (m *Monitor) RefreshReports(ctx context.Context) {
	if m.deps.Reports == nil {
		return
	}
	err := m.deps.Reports.Refresh(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	metrics.RecordReportRefresh(err, m.deps.Reports.Len())
	if err != nil {
		m.reportLog.Warn().Err(err).Int("reports", m.deps.Reports.Len()).Msg("Report refresh failed; keeping previous reports")
		return
	}
	m.reportLog.Debug().Int("reports", m.deps.Reports.Len()).Msg("Reports refreshed")
}

// PollCount returns the number of successful polls.
func (m *Monitor) PollCount() int64 {
	return m.pollCounter.Load()
}

// selectForAnalysis caps the batch, preferring emergency squawks, then
// airborne aircraft with a position, lowest first.
func selectForAnalysis(snapshot []models.Aircraft, max int) []models.Aircraft {
	batch := make([]models.Aircraft, len(snapshot))
	copy(batch, snapshot)
	if len(batch) <= max {
		return batch
	}

	rank := func(a models.Aircraft) int {
		switch {
		case enrich.IsEmergencySquawk(a.Squawk):
			return 0
		case a.HasPosition() && !a.OnGround:
			return 1
		case a.HasPosition():
			return 2
		default:
			return 3
		}
	}
	alt := func(a models.Aircraft) float64 {
		if a.AltitudeFt == nil {
			return 1e9
		}
		return *a.AltitudeFt
	}
	sort.SliceStable(batch, func(i, j int) bool {
		ri, rj := rank(batch[i]), rank(batch[j])
		if ri != rj {
			return ri < rj
		}
		return alt(batch[i]) < alt(batch[j])
	})
	return batch[:max]
}
