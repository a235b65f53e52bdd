package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/stakeplay/internal/core/cursor"
	"github.com/vietddude/stakeplay/internal/indexing/projector"
)

// HeadFetcher fetches the latest ledger block.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// ProjectorStatus exposes the projector runner's state.
type ProjectorStatus interface {
	Status() projector.Status
}

// Info is static process information included in every report.
type Info struct {
	Network string
	Backend string
}

// Monitor aggregates health status from the ledger and the projector.
type Monitor struct {
	info        Info
	heads       HeadFetcher
	cursorMgr   cursor.Manager
	runner      ProjectorStatus
	minInterval time.Duration
	lastCheck   time.Time
	lastReport  Report
	mu          sync.Mutex
}

// NewMonitor creates a new health monitor. runner may be nil when the
// projector is not part of this process.
func NewMonitor(info Info, heads HeadFetcher, cursorMgr cursor.Manager, runner ProjectorStatus) *Monitor {
	return &Monitor{
		info:        info,
		heads:       heads,
		cursorMgr:   cursorMgr,
		runner:      runner,
		minInterval: 2 * time.Second,
	}
}

// CheckHealth builds a report. Results are cached briefly so frequent probes
// do not turn into ledger calls.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.minInterval {
		return m.lastReport
	}

	report := Report{
		Status:    StatusHealthy,
		Network:   m.info.Network,
		Backend:   m.info.Backend,
		CheckedAt: time.Now(),
	}

	// 1. Ledger head
	head, err := m.heads.LatestBlock(ctx)
	if err != nil {
		report.Status = StatusDegraded
		report.LastError = err.Error()
	} else {
		report.LedgerHead = head
	}

	// 2. Projector position
	if c, err := m.cursorMgr.Get(ctx, cursor.StreamProjector); err == nil {
		report.ProjectorCursor = c.BlockNumber
		if head > c.BlockNumber {
			report.ProjectorLag = head - c.BlockNumber
		}
	} else if !cursor.IsNotFound(err) {
		report.Status = StatusDegraded
		report.LastError = err.Error()
	}
	report.BlocksPerSecond = m.cursorMgr.GetMetrics(cursor.StreamProjector).BlocksPerSecond

	// 3. Runner
	if m.runner != nil {
		st := m.runner.Status()
		report.ProjectorRunning = st.Running
		report.Resubscribes = st.Resubscribes
		if report.LastError == "" {
			report.LastError = st.LastError
		}
		if !st.Running {
			report.Status = StatusDegraded
		}
	}

	// Evaluate Status
	if report.ProjectorLag > CriticalLag {
		report.Status = StatusCritical
	} else if report.ProjectorLag > DegradedLag {
		report.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
