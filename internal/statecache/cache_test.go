package statecache

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airguardian/airguardian/internal/models"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func batch(ids ...string) []models.Aircraft {
	out := make([]models.Aircraft, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Aircraft{ID: id})
	}
	return out
}

func TestGetBeforePutIsEmpty(t *testing.T) {
	c := New(30*time.Second, clockwork.NewFakeClockAt(epoch))
	assert.Empty(t, c.Get())
	_, ok := c.Age()
	assert.False(t, ok)
}

func TestTTLBoundary(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	c := New(30*time.Second, clock)

	c.Put(batch("a", "b"))
	require.Len(t, c.Get(), 2)

	clock.Advance(30*time.Second - time.Nanosecond)
	assert.Len(t, c.Get(), 2, "snapshot must be visible just before the TTL")

	clock.Advance(time.Nanosecond)
	assert.Empty(t, c.Get(), "snapshot must be absent at the TTL")

	_, found := c.Lookup("a")
	assert.False(t, found)
}

func TestPutRefreshesTTLAndReplacesWholeBatch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	c := New(10*time.Second, clock)

	c.Put(batch("a", "b", "c"))
	clock.Advance(8 * time.Second)
	c.Put(batch("d"))
	clock.Advance(8 * time.Second)

	got := c.Get()
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ID)

	age, ok := c.Age()
	require.True(t, ok)
	assert.Equal(t, 8*time.Second, age)
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(time.Minute, clockwork.NewFakeClockAt(epoch))
	in := batch("a")
	c.Put(in)
	in[0].ID = "mutated"

	out := c.Get()
	out[0].ID = "also-mutated"

	again := c.Get()
	assert.Equal(t, "a", again[0].ID)
}

func TestLookup(t *testing.T) {
	c := New(time.Minute, clockwork.NewFakeClockAt(epoch))
	c.Put(batch("a", "b"))

	got, ok := c.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	_, ok = c.Lookup("zzz")
	assert.False(t, ok)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	c := New(time.Minute, clockwork.NewRealClock())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.Get()
			}
		}()
	}
	for j := 0; j < 200; j++ {
		c.Put(batch("a", "b"))
	}
	wg.Wait()
	assert.Len(t, c.Get(), 2)
}
