package perf

import (
	"fmt"
	"testing"
	"time"

	"github.com/voyagehq/voyage/internal/oplog"
)

func filledStore(n int) *oplog.MetricsStore {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := oplog.NewMetricsStore(oplog.DefaultCapacity, func() time.Time { return now })
	for i := 0; i < n; i++ {
		rec := oplog.OperationLog{
			CorrelationID: fmt.Sprintf("corr-%d", i),
			Operation:     "quote.convert",
			Duration:      time.Duration(i%250) * time.Millisecond,
			Success:       i%7 != 0,
			Timestamp:     now.Add(-time.Duration(i) * time.Second),
		}
		if !rec.Success {
			rec.Error = &oplog.ErrorInfo{Code: "STATE_CONFLICT"}
		}
		store.Add(rec)
	}
	return store
}

// A full window snapshot is served on the metrics endpoint; keep it well
// under a millisecond budget per call.
func TestMetricsSnapshotLatency(t *testing.T) {
	if testing.Short() {
		t.Skip("latency check skipped in short mode")
	}
	store := filledStore(oplog.DefaultCapacity)
	const runs = 200
	start := time.Now()
	for i := 0; i < runs; i++ {
		_ = store.GetMetrics(time.Hour)
	}
	perCall := time.Since(start) / runs
	if perCall > 5*time.Millisecond {
		t.Fatalf("metrics snapshot regression: %s per call", perCall)
	}
}

func BenchmarkMetricsStoreAdd(b *testing.B) {
	store := filledStore(0)
	rec := oplog.OperationLog{Operation: "quote.convert", Success: true, Duration: 40 * time.Millisecond}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Add(rec)
	}
}

func BenchmarkMetricsStoreGetMetrics(b *testing.B) {
	store := filledStore(oplog.DefaultCapacity)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.GetMetrics(time.Hour)
	}
}

func BenchmarkHashPayload(b *testing.B) {
	payload := map[string]any{
		"quote_id":       "5b0c6d4e-1b7a-4bd5-9c55-1f2f0b6a1f10",
		"agent_id":       "7d7c5f0e-7a53-4a2b-8f0e-0c3e1f5a2b11",
		"deposit_amount": "250.00",
		"components":     []map[string]any{{"type": "FLIGHT", "cost": "500"}, {"type": "HOTEL", "cost": "300"}},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := oplog.HashPayload(payload); err != nil {
			b.Fatal(err)
		}
	}
}
