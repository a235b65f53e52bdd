package health

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/stakeplay/internal/core/cursor"
	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/indexing/projector"
)

// =============================================================================
// Mocks
// =============================================================================

type mockFetcher struct {
	height uint64
	err    error
	calls  int
}

func (m *mockFetcher) LatestBlock(ctx context.Context) (uint64, error) {
	m.calls++
	return m.height, m.err
}

// Stub Cursor Manager
type stubCursorMgr struct {
	block *uint64
}

func (s *stubCursorMgr) Get(ctx context.Context, stream string) (*domain.Cursor, error) {
	if s.block == nil {
		return nil, cursor.ErrCursorNotFound
	}
	return &domain.Cursor{Stream: stream, BlockNumber: *s.block}, nil
}
func (s *stubCursorMgr) Initialize(ctx context.Context, stream string, start uint64) (*domain.Cursor, error) {
	return nil, nil
}
func (s *stubCursorMgr) Advance(ctx context.Context, stream string, b uint64) error { return nil }
func (s *stubCursorMgr) Reset(ctx context.Context, stream string, b uint64) error   { return nil }
func (s *stubCursorMgr) GetLag(ctx context.Context, stream string, l uint64) (int64, error) {
	return 0, nil
}
func (s *stubCursorMgr) GetMetrics(stream string) cursor.Metrics { return cursor.Metrics{} }

type stubRunner struct {
	status projector.Status
}

func (s *stubRunner) Status() projector.Status { return s.status }

func at(b uint64) *stubCursorMgr { return &stubCursorMgr{block: &b} }

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Status(t *testing.T) {
	running := &stubRunner{status: projector.Status{Running: true}}

	tests := []struct {
		name    string
		fetcher *mockFetcher
		cursors *stubCursorMgr
		runner  ProjectorStatus
		want    SystemStatus
		lag     uint64
	}{
		{"healthy", &mockFetcher{height: 1000}, at(995), running, StatusHealthy, 5},
		{"degraded lag", &mockFetcher{height: 1000}, at(950), running, StatusDegraded, 50},
		{"critical lag", &mockFetcher{height: 1000}, at(800), running, StatusCritical, 200},
		{"cursor ahead of head", &mockFetcher{height: 10}, at(12), running, StatusHealthy, 0},
		{"ledger unreachable", &mockFetcher{err: errors.New("dial tcp: refused")}, at(5), running, StatusDegraded, 0},
		{"projector stopped", &mockFetcher{height: 10}, at(10), &stubRunner{}, StatusDegraded, 0},
		{"no cursor yet", &mockFetcher{height: 5}, &stubCursorMgr{}, running, StatusHealthy, 0},
		{"no projector in process", &mockFetcher{height: 5}, at(5), nil, StatusHealthy, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewMonitor(Info{Network: "test"}, tt.fetcher, tt.cursors, tt.runner)
			report := monitor.CheckHealth(context.Background())

			if report.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.Status)
			}
			if report.ProjectorLag != tt.lag {
				t.Errorf("expected lag %d, got %d", tt.lag, report.ProjectorLag)
			}
			if report.Network != "test" {
				t.Errorf("network = %q", report.Network)
			}
		})
	}
}

func TestMonitor_ReportsLedgerError(t *testing.T) {
	monitor := NewMonitor(Info{}, &mockFetcher{err: errors.New("timeout")}, at(1), nil)
	report := monitor.CheckHealth(context.Background())
	if report.LastError != "timeout" {
		t.Errorf("last error = %q", report.LastError)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	fetcher := &mockFetcher{height: 10}
	monitor := NewMonitor(Info{}, fetcher, at(10), nil)

	monitor.CheckHealth(context.Background())
	monitor.CheckHealth(context.Background())
	if fetcher.calls != 1 {
		t.Errorf("expected 1 ledger call, got %d", fetcher.calls)
	}

	monitor.minInterval = 0
	monitor.CheckHealth(context.Background())
	if fetcher.calls != 2 {
		t.Errorf("expected cache bypass, got %d calls", fetcher.calls)
	}
}
