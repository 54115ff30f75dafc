package server

import (
	"sync"
	"time"
)

// Metrics counts tool invocations. A call that returns an error-flagged
// result counts as a failure.
type Metrics struct {
	mu       sync.Mutex
	total    int64
	success  int64
	failure  int64
	totalDur time.Duration
	perTool  map[string]int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Total           int64            `json:"total"`
	Success         int64            `json:"success"`
	Failure         int64            `json:"failure"`
	TotalDurationMS int64            `json:"total_duration_ms"`
	AvgDurationMS   float64          `json:"avg_duration_ms"`
	PerTool         map[string]int64 `json:"per_tool"`
}

func NewMetrics() *Metrics {
	return &Metrics{perTool: make(map[string]int64)}
}

func (m *Metrics) record(name string, dur time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.totalDur += dur
	if failed {
		m.failure++
	} else {
		m.success++
	}
	m.perTool[name]++
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var avg float64
	if m.total > 0 {
		avg = float64(m.totalDur.Milliseconds()) / float64(m.total)
	}
	pt := make(map[string]int64, len(m.perTool))
	for k, v := range m.perTool {
		pt[k] = v
	}
	return MetricsSnapshot{
		Total:           m.total,
		Success:         m.success,
		Failure:         m.failure,
		TotalDurationMS: m.totalDur.Milliseconds(),
		AvgDurationMS:   avg,
		PerTool:         pt,
	}
}
