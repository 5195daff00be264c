package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "airguardian"

var (
	pollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Feed poll cycles by result",
		},
		[]string{"result"},
	)

	pollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "duration_seconds",
			Help:      "Duration of feed poll cycles",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	entitiesObserved = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "entities_observed",
			Help:      "Entities returned by the last successful poll",
		},
	)

	historyEntities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "entities",
			Help:      "Entities with a retained history window",
		},
	)

	historySamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "samples",
			Help:      "Samples retained across all entities",
		},
	)

	historySwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "entities_swept_total",
			Help:      "Idle entities removed from history",
		},
	)

	terrainLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reference",
			Name:      "terrain_lookups_total",
			Help:      "Terrain lookups by outcome (hit, miss, error)",
		},
		[]string{"outcome"},
	)

	terrainCells = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reference",
			Name:      "terrain_cells_cached",
			Help:      "Terrain grid cells held in the elevation cache",
		},
	)

	reportRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "weather",
			Name:      "refreshes_total",
			Help:      "Environmental report refreshes by result",
		},
		[]string{"result"},
	)

	reportSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "weather",
			Name:      "reports",
			Help:      "Reports in the current environmental report set",
		},
	)

	analysisCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "cycles_total",
			Help:      "Analysis cycles by result",
		},
		[]string{"result"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Duration of reasoning service calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	findingsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "findings_parsed_total",
			Help:      "Findings accepted from reasoning service responses",
		},
	)

	findingsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "findings_dropped_total",
			Help:      "Findings dropped while parsing, by reason",
		},
		[]string{"reason"},
	)

	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	apiDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordPoll records one poll cycle.
func RecordPoll(err error, entities int, elapsed time.Duration) {
	pollDuration.Observe(elapsed.Seconds())
	if err != nil {
		pollCycles.WithLabelValues("error").Inc()
		return
	}
	pollCycles.WithLabelValues("success").Inc()
	entitiesObserved.Set(float64(entities))
}

// SetHistorySize publishes the history tracker footprint.
func SetHistorySize(entities, samples int) {
	historyEntities.Set(float64(entities))
	historySamples.Set(float64(samples))
}

// RecordHistorySwept records entities removed by the history sweep.
func RecordHistorySwept(n int) {
	historySwept.Add(float64(n))
}

// RecordTerrainLookup records a terrain cache hit, miss or error.
func RecordTerrainLookup(outcome string) {
	terrainLookups.WithLabelValues(outcome).Inc()
}

// SetTerrainCells records the terrain cache size.
func SetTerrainCells(n int) {
	terrainCells.Set(float64(n))
}

// RecordReportRefresh records one environmental report refresh.
func RecordReportRefresh(err error, size int) {
	if err != nil {
		reportRefreshes.WithLabelValues("error").Inc()
		return
	}
	reportRefreshes.WithLabelValues("success").Inc()
	reportSetSize.Set(float64(size))
}

// RecordAnalysisCycle records the outcome of one analysis cycle.
// result is one of "success", "error", "skipped".
func RecordAnalysisCycle(result string, elapsed time.Duration) {
	analysisCycles.WithLabelValues(result).Inc()
	if elapsed > 0 {
		analysisDuration.Observe(elapsed.Seconds())
	}
}

// RecordFindingsParsed adds accepted findings.
func RecordFindingsParsed(n int) {
	findingsParsed.Add(float64(n))
}

// RecordFindingDropped records one finding rejected while parsing.
func RecordFindingDropped(reason string) {
	findingsDropped.WithLabelValues(reason).Inc()
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(route, method, status string, elapsed time.Duration) {
	apiRequests.WithLabelValues(route, method, status).Inc()
	apiDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
