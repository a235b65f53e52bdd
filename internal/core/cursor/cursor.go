// Package cursor tracks the projector's position in the ledger's log stream.
//
// # Purpose
//
// The cursor is the bookmark of the last block whose logs were durably recorded
// in the raw event log. After a dropped subscription or a restart the projector
// resumes from the block after the cursor, never from the chain head, so no
// event is silently skipped.
//
// # Rules
//
// Advance only moves forward; an older or equal block is a no-op, so
// redelivered batches never rewind the stream. Reset is the only way to move
// the cursor backwards and is reserved for operator commands.
//
// # Quick Start
//
//	manager := cursor.NewManager(store.Cursors())
//
//	c, _ := manager.Initialize(ctx, cursor.StreamProjector, cfg.StartBlock)
//	from := c.BlockNumber + 1
//
//	// after a batch [from, to] is recorded
//	manager.Advance(ctx, cursor.StreamProjector, to)
package cursor

import (
	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

// StreamProjector is the stream name used by the event projector.
const StreamProjector = "projector"

// Cursor represents the indexing position for a stream.
type Cursor = domain.Cursor

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorRepository) *DefaultManager {
	return &DefaultManager{
		repo:       repo,
		collectors: make(map[string]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize: windowSize,
		records:    make([]blockRecord, 0, windowSize),
	}
}
