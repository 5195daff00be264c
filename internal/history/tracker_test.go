package history

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airguardian/airguardian/internal/models"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func sampleAt(ts time.Time, alt float64) models.Sample {
	return models.Sample{Timestamp: ts, Lat: 33.6, Lon: -84.4, AltitudeFt: &alt}
}

func TestAppendKeepsOnlyWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	tr := New(10*time.Minute, 1000, clock)

	// 25 minutes of samples, one per minute
	for i := 0; i <= 25; i++ {
		require.True(t, tr.Append("a1", sampleAt(epoch.Add(time.Duration(i)*time.Minute), float64(i))))
	}

	got := tr.Recent("a1")
	require.Len(t, got, 11, "samples from minute 15 through 25 remain")
	assert.Equal(t, epoch.Add(15*time.Minute), got[0].Timestamp)
	assert.Equal(t, epoch.Add(25*time.Minute), got[len(got)-1].Timestamp)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp), "samples must be oldest first")
	}
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	tr := New(time.Hour, 100, clockwork.NewFakeClockAt(epoch))

	require.True(t, tr.Append("a1", sampleAt(epoch.Add(time.Minute), 1)))
	assert.False(t, tr.Append("a1", sampleAt(epoch, 0)))
	assert.True(t, tr.Append("a1", sampleAt(epoch.Add(time.Minute), 2)), "equal timestamps are non-decreasing")
	assert.Len(t, tr.Recent("a1"), 2)
}

func TestMaxSamplesCapsMemory(t *testing.T) {
	tr := New(time.Hour, 5, clockwork.NewFakeClockAt(epoch))
	for i := 0; i < 20; i++ {
		tr.Append("a1", sampleAt(epoch.Add(time.Duration(i)*time.Second), float64(i)))
	}
	got := tr.Recent("a1")
	require.Len(t, got, 5)
	assert.Equal(t, 15.0, *got[0].AltitudeFt)
}

func TestLazyEvictionWithoutAppends(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	tr := New(5*time.Minute, 100, clock)
	tr.Append("a1", sampleAt(epoch, 1))

	clock.Advance(time.Hour)
	assert.Len(t, tr.Recent("a1"), 1, "no writer touched the entity, so its window is kept until swept")
}

func TestSweepRemovesIdleEntities(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	tr := New(5*time.Minute, 100, clock)

	tr.Append("idle", sampleAt(epoch, 1))
	clock.Advance(4 * time.Minute)
	tr.Append("busy", sampleAt(clock.Now(), 1))

	clock.Advance(2 * time.Minute)
	removed := tr.Sweep()
	assert.Equal(t, 1, removed)
	assert.Nil(t, tr.Recent("idle"))
	assert.Len(t, tr.Recent("busy"), 1)

	entities, samples := tr.Stats()
	assert.Equal(t, 1, entities)
	assert.Equal(t, 1, samples)
}

func TestRecentUnknownEntity(t *testing.T) {
	tr := New(time.Minute, 10, nil)
	assert.Nil(t, tr.Recent("nobody"))
}
