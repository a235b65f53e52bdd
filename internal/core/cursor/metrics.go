package cursor

import (
	"sync"
	"time"
)

// blockRecord holds timing data for a checkpoint.
type blockRecord struct {
	BlockNumber uint64
	ProcessedAt time.Time
}

// Metrics holds cursor performance data.
type Metrics struct {
	BlocksPerSecond float64
	LastAdvanceAt   *time.Time
	Checkpoints     int
}

// MetricsCollector tracks cursor throughput over a sliding window.
type MetricsCollector struct {
	mu         sync.Mutex
	windowSize int
	records    []blockRecord
}

// RecordBlock records a checkpoint.
func (mc *MetricsCollector) RecordBlock(blockNumber uint64, processedAt time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	record := blockRecord{BlockNumber: blockNumber, ProcessedAt: processedAt}
	if len(mc.records) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.records, mc.records[1:])
		mc.records[len(mc.records)-1] = record
	} else {
		mc.records = append(mc.records, record)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := Metrics{Checkpoints: len(mc.records)}
	if len(mc.records) == 0 {
		return m
	}
	last := mc.records[len(mc.records)-1]
	at := last.ProcessedAt
	m.LastAdvanceAt = &at

	if len(mc.records) >= 2 {
		first := mc.records[0]
		duration := last.ProcessedAt.Sub(first.ProcessedAt)
		if duration > 0 && last.BlockNumber > first.BlockNumber {
			m.BlocksPerSecond = float64(last.BlockNumber-first.BlockNumber) / duration.Seconds()
		}
	}
	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.records = mc.records[:0]
}
