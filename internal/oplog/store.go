package oplog

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the number of operations kept in the window.
	DefaultCapacity = 1000
	// DefaultMetricsWindow is used when GetMetrics receives a non-positive window.
	DefaultMetricsWindow = time.Hour
)

// Metrics summarises the operations that fall inside a time window.
type Metrics struct {
	Window          time.Duration  `json:"window"`
	Total           int            `json:"total"`
	Successful      int            `json:"successful"`
	Failed          int            `json:"failed"`
	AverageDuration time.Duration  `json:"average_duration"`
	P50Duration     time.Duration  `json:"p50_duration"`
	P95Duration     time.Duration  `json:"p95_duration"`
	P99Duration     time.Duration  `json:"p99_duration"`
	MaxDuration     time.Duration  `json:"max_duration"`
	ErrorsByCode    map[string]int `json:"errors_by_code"`
}

// MetricsStore is a fixed-capacity ring of recent operations. When full the
// oldest entry is overwritten. It is not a system of record.
type MetricsStore struct {
	mu       sync.RWMutex
	buf      []OperationLog
	start    int
	size     int
	capacity int
	now      func() time.Time
}

// NewMetricsStore builds a store. capacity <= 0 uses DefaultCapacity and a nil
// clock uses time.Now.
func NewMetricsStore(capacity int, now func() time.Time) *MetricsStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &MetricsStore{
		buf:      make([]OperationLog, capacity),
		capacity: capacity,
		now:      now,
	}
}

// Add appends a record, evicting the oldest when the ring is full.
func (s *MetricsStore) Add(rec OperationLog) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size < s.capacity {
		s.buf[(s.start+s.size)%s.capacity] = rec
		s.size++
		return
	}
	s.buf[s.start] = rec
	s.start = (s.start + 1) % s.capacity
}

// Len returns the number of retained records.
func (s *MetricsStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity returns the ring size.
func (s *MetricsStore) Capacity() int {
	if s == nil {
		return 0
	}
	return s.capacity
}

// Clear drops every record.
func (s *MetricsStore) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		s.buf[i] = OperationLog{}
	}
	s.start = 0
	s.size = 0
}

// Records returns the retained records, oldest first.
func (s *MetricsStore) Records() []OperationLog {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OperationLog, 0, s.size)
	for i := 0; i < s.size; i++ {
		out = append(out, s.buf[(s.start+i)%s.capacity])
	}
	return out
}

// GetMetrics aggregates every operation with timestamp > now - window.
func (s *MetricsStore) GetMetrics(window time.Duration) Metrics {
	return s.GetMetricsFor("", window)
}

// GetMetricsFor is GetMetrics restricted to one operation kind. An empty kind
// matches everything.
func (s *MetricsStore) GetMetricsFor(kind string, window time.Duration) Metrics {
	if window <= 0 {
		window = DefaultMetricsWindow
	}
	result := Metrics{Window: window, ErrorsByCode: map[string]int{}}
	if s == nil {
		return result
	}
	cutoff := s.now().Add(-window)

	s.mu.RLock()
	durations := make([]time.Duration, 0, s.size)
	var sum time.Duration
	for i := 0; i < s.size; i++ {
		rec := s.buf[(s.start+i)%s.capacity]
		if !rec.Timestamp.After(cutoff) {
			continue
		}
		if kind != "" && rec.Operation != kind {
			continue
		}
		result.Total++
		if rec.Success {
			result.Successful++
		} else {
			result.Failed++
			code := "UNKNOWN"
			if rec.Error != nil && rec.Error.Code != "" {
				code = rec.Error.Code
			}
			result.ErrorsByCode[code]++
		}
		durations = append(durations, rec.Duration)
		sum += rec.Duration
	}
	s.mu.RUnlock()

	if result.Total == 0 {
		return result
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	result.AverageDuration = sum / time.Duration(len(durations))
	result.P50Duration = percentile(durations, 0.50)
	result.P95Duration = percentile(durations, 0.95)
	result.P99Duration = percentile(durations, 0.99)
	result.MaxDuration = durations[len(durations)-1]
	return result
}

// percentile indexes sorted durations at floor(n*p). Small samples collapse
// towards the maximum.
func percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
