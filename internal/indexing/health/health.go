// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Lag thresholds in blocks.
const (
	DegradedLag = 10
	CriticalLag = 100
)

// Report is the health of the ledger connection and the projector.
type Report struct {
	Status           SystemStatus `json:"status"`
	Network          string       `json:"network"`
	Backend          string       `json:"backend"`
	LedgerHead       uint64       `json:"ledger_head"`
	ProjectorCursor  uint64       `json:"projector_cursor"`
	ProjectorLag     uint64       `json:"projector_lag"`
	ProjectorRunning bool         `json:"projector_running"`
	BlocksPerSecond  float64      `json:"blocks_per_second"`
	Resubscribes     int          `json:"resubscribes"`
	LastError        string       `json:"last_error,omitempty"`
	CheckedAt        time.Time    `json:"checked_at"`
}
