package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/airguardian/airguardian/internal/alerts"
	"github.com/airguardian/airguardian/internal/enrich"
	"github.com/airguardian/airguardian/internal/history"
	"github.com/airguardian/airguardian/internal/models"
	"github.com/airguardian/airguardian/internal/statecache"
)

func ptr(v float64) *float64 { return &v }

type stubFetcher struct {
	mu    sync.Mutex
	batch []models.Aircraft
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context) ([]models.Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.batch, s.err
}

func (s *stubFetcher) set(batch []models.Aircraft, err error) {
	s.mu.Lock()
	s.batch, s.err = batch, err
	s.mu.Unlock()
}

type passEnricher struct{}

func (passEnricher) EnrichBatch(_ context.Context, batch []models.Aircraft) []enrich.Context {
	out := make([]enrich.Context, len(batch))
	for i, a := range batch {
		out[i] = enrich.Context{Aircraft: a}
	}
	return out
}

type stubAnalyzer struct {
	mu       sync.Mutex
	findings []models.Finding
	err      error
	batches  [][]enrich.Context
}

func (s *stubAnalyzer) Analyze(_ context.Context, batch []enrich.Context) ([]models.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return s.findings, s.err
}

type recordingAudio struct {
	created  []models.Alert
	cleanups int
}

func (r *recordingAudio) Prepare(_ context.Context, created []models.Alert) int {
	r.created = append(r.created, created...)
	return len(created)
}

func (r *recordingAudio) Cleanup() int {
	r.cleanups++
	return 0
}

type recordingHub struct {
	mu     sync.Mutex
	planes int
	alerts int
}

func (h *recordingHub) BroadcastAlerts(interface{}) { h.mu.Lock(); h.alerts++; h.mu.Unlock() }
func (h *recordingHub) BroadcastPlanes(interface{}) { h.mu.Lock(); h.planes++; h.mu.Unlock() }

type refresher struct {
	err   error
	n     int
	calls int
}

func (r *refresher) Refresh(context.Context) error { r.calls++; return r.err }
func (r *refresher) Len() int                      { return r.n }

type fixture struct {
	clock    clockwork.FakeClock
	fetcher  *stubFetcher
	analyzer *stubAnalyzer
	audio    *recordingAudio
	hub      *recordingHub
	cache    *statecache.Cache
	history  *history.Tracker
	alerts   *alerts.Manager
	monitor  *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		clock:    clock,
		fetcher:  &stubFetcher{},
		analyzer: &stubAnalyzer{},
		audio:    &recordingAudio{},
		hub:      &recordingHub{},
		cache:    statecache.New(30*time.Second, clock),
		history:  history.New(15*time.Minute, 900, clock),
		alerts:   alerts.NewManager(alerts.DefaultConfig(), nil, clock),
	}
	f.monitor = New(Config{
		Intervals: Intervals{
			Poll:          2 * time.Second,
			Analysis:      20 * time.Second,
			AlertSweep:    time.Minute,
			HistorySweep:  time.Minute,
			ReportRefresh: 5 * time.Minute,
		},
		MaxAircraft: 10,
	}, Deps{
		Fetcher:  f.fetcher,
		Cache:    f.cache,
		History:  f.history,
		Enricher: passEnricher{},
		Analyzer: f.analyzer,
		Alerts:   f.alerts,
		Audio:    f.audio,
		Hub:      f.hub,
	}, clock)
	return f
}

func aircraft(id string, alt float64) models.Aircraft {
	return models.Aircraft{ID: id, Lat: ptr(33.6), Lon: ptr(-84.4), AltitudeFt: ptr(alt)}
}

func TestPollOnceUpdatesCacheAndHistory(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set([]models.Aircraft{aircraft("a1", 3000), {ID: "nopos"}}, nil)

	f.monitor.PollOnce(context.Background())

	assert.Len(t, f.cache.Get(), 2)
	assert.Len(t, f.history.Recent("a1"), 1)
	assert.Empty(t, f.history.Recent("nopos"), "no position, no sample")
	assert.Equal(t, 1, f.hub.planes)
	assert.Equal(t, int64(1), f.monitor.PollCount())
}

func TestPollFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set([]models.Aircraft{aircraft("a1", 3000)}, nil)
	f.monitor.PollOnce(context.Background())

	f.clock.Advance(2 * time.Second)
	f.fetcher.set(nil, errors.New("rate limited"))
	f.monitor.PollOnce(context.Background())

	assert.Len(t, f.cache.Get(), 1, "stale-but-present data survives a failed poll")
	assert.Equal(t, int64(1), f.monitor.PollCount())

	// Until the TTL runs out
	f.clock.Advance(30 * time.Second)
	assert.Empty(t, f.cache.Get())
}

func TestAnalyzeOnceIngestsFindingsAndPreparesAudio(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set([]models.Aircraft{aircraft("a1", 400)}, nil)
	f.monitor.PollOnce(context.Background())

	f.analyzer.findings = []models.Finding{{
		EntityID:    "a1",
		Category:    models.CategoryLowAltitude,
		Severity:    models.SeverityHigh,
		Summary:     "Low altitude",
		Phraseology: "check altitude",
	}}
	f.monitor.AnalyzeOnce(context.Background())

	list := f.alerts.List(true)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].EntityID)
	require.Len(t, f.audio.created, 1)
	assert.Equal(t, list[0].ID, f.audio.created[0].ID)

	// The same finding next cycle updates, it creates nothing new
	f.clock.Advance(20 * time.Second)
	f.monitor.PollOnce(context.Background())
	f.monitor.AnalyzeOnce(context.Background())
	assert.Len(t, f.alerts.List(false), 1)
	assert.Len(t, f.audio.created, 1)
}

func TestAnalyzeFailureIngestsNothing(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set([]models.Aircraft{aircraft("a1", 400)}, nil)
	f.monitor.PollOnce(context.Background())

	f.analyzer.err = errors.New("timeout")
	f.analyzer.findings = []models.Finding{{EntityID: "a1", Category: models.CategoryOther, Severity: models.SeverityLow, Summary: "x"}}
	f.monitor.AnalyzeOnce(context.Background())

	assert.Empty(t, f.alerts.List(false))
}

func TestAnalyzeSkipsWithoutCurrentData(t *testing.T) {
	f := newFixture(t)
	f.monitor.AnalyzeOnce(context.Background())
	assert.Empty(t, f.analyzer.batches)

	f.fetcher.set([]models.Aircraft{aircraft("a1", 400)}, nil)
	f.monitor.PollOnce(context.Background())
	f.clock.Advance(31 * time.Second)
	f.monitor.AnalyzeOnce(context.Background())
	assert.Empty(t, f.analyzer.batches, "expired cache reads as no aircraft")
}

func TestAnalyzeReadsLatestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.fetcher.set([]models.Aircraft{aircraft("old", 400)}, nil)
	f.monitor.PollOnce(context.Background())
	f.fetcher.set([]models.Aircraft{aircraft("new", 400)}, nil)
	f.monitor.PollOnce(context.Background())

	f.monitor.AnalyzeOnce(context.Background())
	require.Len(t, f.analyzer.batches, 1)
	require.Len(t, f.analyzer.batches[0], 1)
	assert.Equal(t, "new", f.analyzer.batches[0][0].Aircraft.ID)
}

func TestSweepsAndReportRefresh(t *testing.T) {
	f := newFixture(t)
	f.alerts.Ingest([]models.Finding{{EntityID: "a1", Category: models.CategoryOther, Severity: models.SeverityLow, Summary: "x"}})
	f.fetcher.set([]models.Aircraft{aircraft("a1", 400)}, nil)
	f.monitor.PollOnce(context.Background())

	f.clock.Advance(16 * time.Minute)
	assert.Equal(t, 1, f.monitor.SweepAlerts().Expired)
	assert.Equal(t, 1, f.audio.cleanups, "alert sweep should clear orphaned audio")
	assert.Equal(t, 1, f.monitor.SweepHistory())

	r := &refresher{err: errors.New("upstream down"), n: 4}
	f.monitor.deps.Reports = r
	f.monitor.RefreshReports(context.Background())
	assert.Equal(t, 1, r.calls)
}

func TestSelectForAnalysis(t *testing.T) {
	emergency := aircraft("sq", 9000)
	emergency.Squawk = "7700"
	ground := aircraft("gnd", 0)
	ground.OnGround = true
	snapshot := []models.Aircraft{
		aircraft("high", 35000),
		{ID: "nopos"},
		ground,
		aircraft("low", 800),
		emergency,
	}

	got := selectForAnalysis(snapshot, 3)
	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"sq", "low", "high"}, ids)
	assert.Len(t, selectForAnalysis(snapshot, 10), 5)
}

func TestRunStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	f.fetcher.set([]models.Aircraft{aircraft("a1", 3000)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()

	// poll, analysis, alert sweep, history sweep
	f.clock.BlockUntil(4)
	require.Eventually(t, func() bool { return f.monitor.PollCount() == 1 }, time.Second, 5*time.Millisecond)

	f.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return f.monitor.PollCount() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
