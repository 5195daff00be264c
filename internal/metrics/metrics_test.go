package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/airguardian/airguardian/internal/models"
)

func TestAlertLifecycleMetrics(t *testing.T) {
	alert := &models.Alert{
		Severity:  models.SeverityHigh,
		Category:  models.CategoryLowAltitude,
		CreatedAt: time.Unix(1000, 0),
	}

	before := testutil.ToFloat64(AlertsActive.WithLabelValues("HIGH", "low-altitude"))
	RecordAlertCreated(alert)
	if got := testutil.ToFloat64(AlertsActive.WithLabelValues("HIGH", "low-altitude")); got != before+1 {
		t.Fatalf("active gauge = %v, want %v", got, before+1)
	}

	resolvedAt := time.Unix(1300, 0)
	alert.ResolvedAt = &resolvedAt
	RecordAlertResolved(alert)
	if got := testutil.ToFloat64(AlertsActive.WithLabelValues("HIGH", "low-altitude")); got != before {
		t.Fatalf("active gauge after resolve = %v, want %v", got, before)
	}
}

func TestPollMetrics(t *testing.T) {
	errorsBefore := testutil.ToFloat64(pollCycles.WithLabelValues("error"))
	RecordPoll(errors.New("boom"), 0, time.Millisecond)
	if got := testutil.ToFloat64(pollCycles.WithLabelValues("error")); got != errorsBefore+1 {
		t.Fatalf("error counter = %v, want %v", got, errorsBefore+1)
	}

	RecordPoll(nil, 42, time.Millisecond)
	if got := testutil.ToFloat64(entitiesObserved); got != 42 {
		t.Fatalf("entities gauge = %v, want 42", got)
	}
}

func TestFindingDroppedByReason(t *testing.T) {
	before := testutil.ToFloat64(findingsDropped.WithLabelValues("unknown_entity"))
	RecordFindingDropped("unknown_entity")
	if got := testutil.ToFloat64(findingsDropped.WithLabelValues("unknown_entity")); got != before+1 {
		t.Fatalf("dropped counter = %v, want %v", got, before+1)
	}
}

func TestTerrainCellsGauge(t *testing.T) {
	SetTerrainCells(7)
	if got := testutil.ToFloat64(terrainCells); got != 7 {
		t.Fatalf("terrain cells gauge = %v, want 7", got)
	}
}
