package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

// ErrCursorNotFound is returned when a cursor doesn't exist.
var ErrCursorNotFound = storage.ErrCursorNotFound

// Manager handles cursor operations.
type Manager interface {
	// Get retrieves the current cursor for a stream.
	Get(ctx context.Context, stream string) (*domain.Cursor, error)

	// Initialize returns the stored cursor, creating it at startBlock if absent.
	Initialize(ctx context.Context, stream string, startBlock uint64) (*domain.Cursor, error)

	// Advance moves the cursor forward. Older or equal blocks are ignored.
	Advance(ctx context.Context, stream string, blockNumber uint64) error

	// Reset moves the cursor to an arbitrary block.
	Reset(ctx context.Context, stream string, blockNumber uint64) error

	// GetLag returns blocks behind current chain tip.
	GetLag(ctx context.Context, stream string, latestBlock uint64) (int64, error)

	// GetMetrics returns throughput for a stream.
	GetMetrics(stream string) Metrics
}

// DefaultManager implements Manager on top of a CursorRepository.
type DefaultManager struct {
	repo       storage.CursorRepository
	mu         sync.Mutex
	collectors map[string]*MetricsCollector
}

var _ Manager = (*DefaultManager)(nil)

// Get retrieves the current cursor for a stream.
func (m *DefaultManager) Get(ctx context.Context, stream string) (*domain.Cursor, error) {
	c, err := m.repo.Get(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCursorNotFound, stream)
	}
	return c, nil
}

// Initialize returns the stored cursor or creates one at startBlock.
func (m *DefaultManager) Initialize(ctx context.Context, stream string, startBlock uint64) (*domain.Cursor, error) {
	existing, err := m.repo.Get(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	c := &domain.Cursor{
		Stream:      stream,
		BlockNumber: startBlock,
		UpdatedAt:   time.Now(),
	}
	if err := m.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save cursor: %w", err)
	}
	return c, nil
}

// Advance moves the cursor forward after a block range was recorded.
func (m *DefaultManager) Advance(ctx context.Context, stream string, blockNumber uint64) error {
	c, err := m.Get(ctx, stream)
	if err != nil {
		return err
	}

	// Redelivered or overlapping range; never rewind.
	if blockNumber <= c.BlockNumber {
		return nil
	}

	c.BlockNumber = blockNumber
	c.UpdatedAt = time.Now()
	if err := m.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	m.collector(stream).RecordBlock(blockNumber, c.UpdatedAt)
	return nil
}

// Reset moves the cursor to blockNumber regardless of its current position.
func (m *DefaultManager) Reset(ctx context.Context, stream string, blockNumber uint64) error {
	c := &domain.Cursor{Stream: stream, BlockNumber: blockNumber, UpdatedAt: time.Now()}
	if err := m.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	m.collector(stream).Reset()
	return nil
}

// GetLag returns how many blocks behind the chain tip.
func (m *DefaultManager) GetLag(ctx context.Context, stream string, latestBlock uint64) (int64, error) {
	c, err := m.Get(ctx, stream)
	if err != nil {
		return 0, err
	}
	lag := int64(latestBlock) - int64(c.BlockNumber)
	if lag < 0 {
		lag = 0
	}
	return lag, nil
}

// GetMetrics returns throughput for a stream.
func (m *DefaultManager) GetMetrics(stream string) Metrics {
	return m.collector(stream).GetMetrics()
}

func (m *DefaultManager) collector(stream string) *MetricsCollector {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[stream]
	if !ok {
		c = NewMetricsCollector(100)
		m.collectors[stream] = c
	}
	return c
}

// IsNotFound reports whether err means the stream has no cursor yet.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCursorNotFound)
}
