package oplog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func record(at time.Time, d time.Duration, ok bool, code string) OperationLog {
	rec := OperationLog{
		CorrelationID: fmt.Sprintf("c-%d", at.UnixNano()),
		Operation:     "quote.convert",
		Duration:      d,
		Success:       ok,
		Timestamp:     at,
	}
	if !ok {
		rec.Error = &ErrorInfo{Code: code, Message: "failed"}
	}
	return rec
}

func TestMetricsStoreEmptyWindow(t *testing.T) {
	clock := newFakeClock()
	store := NewMetricsStore(10, clock.Now)

	m := store.GetMetrics(0)

	assert.Equal(t, DefaultMetricsWindow, m.Window)
	assert.Zero(t, m.Total)
	assert.Zero(t, m.P95Duration)
	assert.Empty(t, m.ErrorsByCode)
}

func TestMetricsStoreRetainsMostRecent(t *testing.T) {
	clock := newFakeClock()
	store := NewMetricsStore(DefaultCapacity, clock.Now)

	for i := 0; i < 1001; i++ {
		rec := record(clock.Now(), time.Duration(i)*time.Millisecond, true, "")
		rec.CorrelationID = fmt.Sprintf("op-%d", i)
		store.Add(rec)
	}

	require.Equal(t, 1000, store.Len())
	records := store.Records()
	assert.Equal(t, "op-1", records[0].CorrelationID)
	assert.Equal(t, "op-1000", records[len(records)-1].CorrelationID)
}

func TestMetricsStoreAggregates(t *testing.T) {
	clock := newFakeClock()
	store := NewMetricsStore(100, clock.Now)
	now := clock.Now()

	store.Add(record(now.Add(-2*time.Hour), time.Second, true, ""))
	store.Add(record(now.Add(-time.Hour), time.Second, true, ""))
	for i := 1; i <= 10; i++ {
		ok := i%5 != 0
		store.Add(record(now.Add(-time.Minute), time.Duration(i)*10*time.Millisecond, ok, "STATE_CONFLICT"))
	}

	m := store.GetMetrics(time.Hour)

	assert.Equal(t, 10, m.Total)
	assert.Equal(t, 8, m.Successful)
	assert.Equal(t, 2, m.Failed)
	assert.Equal(t, map[string]int{"STATE_CONFLICT": 2}, m.ErrorsByCode)
	assert.Equal(t, 55*time.Millisecond, m.AverageDuration)
	assert.Equal(t, 60*time.Millisecond, m.P50Duration)
	// floor(10*0.95) = 9 -> the max
	assert.Equal(t, 100*time.Millisecond, m.P95Duration)
	assert.Equal(t, 100*time.Millisecond, m.P99Duration)
	assert.Equal(t, 100*time.Millisecond, m.MaxDuration)
}

func TestMetricsStorePercentilesAreOrdered(t *testing.T) {
	clock := newFakeClock()
	store := NewMetricsStore(500, clock.Now)
	for i := 0; i < 300; i++ {
		d := time.Duration((i*7919)%211) * time.Millisecond
		store.Add(record(clock.Now(), d, true, ""))
	}

	m := store.GetMetrics(time.Hour)

	assert.LessOrEqual(t, m.P50Duration, m.P95Duration)
	assert.LessOrEqual(t, m.P95Duration, m.P99Duration)
	assert.LessOrEqual(t, m.P99Duration, m.MaxDuration)
}

func TestMetricsStoreFilterByOperation(t *testing.T) {
	clock := newFakeClock()
	store := NewMetricsStore(10, clock.Now)
	store.Add(record(clock.Now(), time.Millisecond, true, ""))
	other := record(clock.Now(), time.Millisecond, false, "")
	other.Operation = "commission.release"
	store.Add(other)

	m := store.GetMetricsFor("commission.release", time.Hour)

	assert.Equal(t, 1, m.Total)
	assert.Equal(t, map[string]int{"UNKNOWN": 1}, m.ErrorsByCode)
}

func TestMetricsStoreWindowBoundaryIsExclusive(t *testing.T) {
	clock := newFakeClock()
	store := NewMetricsStore(10, clock.Now)
	store.Add(record(clock.Now(), time.Millisecond, true, ""))

	clock.Advance(time.Hour)

	assert.Zero(t, store.GetMetrics(time.Hour).Total)
}

func TestMetricsStoreClear(t *testing.T) {
	clock := newFakeClock()
	store := NewMetricsStore(3, clock.Now)
	for i := 0; i < 5; i++ {
		store.Add(record(clock.Now(), time.Millisecond, true, ""))
	}

	store.Clear()

	assert.Zero(t, store.Len())
	assert.Empty(t, store.Records())
	store.Add(record(clock.Now(), time.Millisecond, true, ""))
	assert.Equal(t, 1, store.Len())
}
