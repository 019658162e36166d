// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Character metrics (only for answer streams)
	TotalChars int64
	MinChars   int64
	MaxChars   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`

	// Stream size stats (nil if not applicable)
	TotalChars *int64   `json:"totalChars,omitempty"`
	AvgChars   *float64 `json:"avgChars,omitempty"`
	MinChars   *int64   `json:"minChars,omitempty"`
	MaxChars   *int64   `json:"maxChars,omitempty"`
}

// Snapshot represents the full statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	Send          *OperationSnapshot `json:"send,omitempty"`
	Stream        *OperationSnapshot `json:"stream,omitempty"`
	HistoryLoad   *OperationSnapshot `json:"historyLoad,omitempty"`
	PushMerge     *OperationSnapshot `json:"pushMerge,omitempty"`
	LLMStream     *OperationSnapshot `json:"llmStream,omitempty"`
	DBQuery       *OperationSnapshot `json:"dbQuery,omitempty"`
}

// Operation names for the collector.
const (
	OpSend        = "send"
	OpStream      = "stream"
	OpHistoryLoad = "history_load"
	OpPushMerge   = "push_merge"
	OpLLMStream   = "llm_stream"
	OpDBQuery     = "db_query"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:  time.Duration(math.MaxInt64),
			MinChars: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordStream records timing and answer size for a streamed answer.
func (c *Collector) RecordStream(op string, duration time.Duration, chars int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalChars += chars
	if chars < m.MinChars {
		m.MinChars = chars
	}
	if chars > m.MaxChars {
		m.MaxChars = chars
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeChars bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeChars && m.TotalChars > 0 {
		total := m.TotalChars
		avg := float64(m.TotalChars) / float64(m.Count)
		minChars := m.MinChars
		maxChars := m.MaxChars
		if minChars == math.MaxInt64 {
			minChars = 0
		}

		snap.TotalChars = &total
		snap.AvgChars = &avg
		snap.MinChars = &minChars
		snap.MaxChars = &maxChars
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Send:          snapshotOp(c.ops[OpSend], false),
		Stream:        snapshotOp(c.ops[OpStream], true),
		HistoryLoad:   snapshotOp(c.ops[OpHistoryLoad], false),
		PushMerge:     snapshotOp(c.ops[OpPushMerge], false),
		LLMStream:     snapshotOp(c.ops[OpLLMStream], true),
		DBQuery:       snapshotOp(c.ops[OpDBQuery], false),
	}
}
