package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when a cursor doesn't exist
	ErrCursorNotFound = errors.New("cursor not found")
)

// EventLogRepository is the append-only raw event log keyed by (tx hash, log index).
type EventLogRepository interface {
	// Append records an event. It reports false when the key is already present.
	Append(ctx context.Context, ev *domain.LedgerEvent) (bool, error)

	// Get retrieves an event by key, nil if absent
	Get(ctx context.Context, key domain.EventKey) (*domain.LedgerEvent, error)

	// Unprojected returns recorded events not yet applied, in block/log order
	Unprojected(ctx context.Context, limit int) ([]*domain.LedgerEvent, error)

	// ListByMatch returns every event recorded for a match, in block/log order
	ListByMatch(ctx context.Context, id domain.MatchID) ([]*domain.LedgerEvent, error)

	// Count returns the number of recorded events
	Count(ctx context.Context) (int, error)
}

// MatchRepository reads the match projection.
type MatchRepository interface {
	// Get retrieves a match record, nil if absent
	Get(ctx context.Context, id domain.MatchID) (*domain.MatchRecord, error)
}

// PlayerRepository reads the player aggregates.
type PlayerRepository interface {
	// Get retrieves a player aggregate, nil if absent
	Get(ctx context.Context, addr common.Address) (*domain.Player, error)

	// Top returns aggregates ordered by total won descending, ties by address ascending
	Top(ctx context.Context, limit int) ([]*domain.Player, error)
}

// CursorRepository handles cursor storage operations
type CursorRepository interface {
	// Get retrieves the cursor for a stream, nil if absent
	Get(ctx context.Context, stream string) (*domain.Cursor, error)

	// Save saves/updates the cursor
	Save(ctx context.Context, cursor *domain.Cursor) error
}

// ProjectionTx is the set of writes one projected event performs atomically.
type ProjectionTx interface {
	GetMatch(ctx context.Context, id domain.MatchID) (*domain.MatchRecord, error)
	SaveMatch(ctx context.Context, m *domain.MatchRecord) error
	GetPlayer(ctx context.Context, addr common.Address) (*domain.Player, error)
	SavePlayer(ctx context.Context, p *domain.Player) error

	// MarkProjected flags the raw log entry as applied. It reports false when
	// the entry was already projected.
	MarkProjected(ctx context.Context, key domain.EventKey) (bool, error)
}

// Store bundles the repositories of one backend.
type Store interface {
	Events() EventLogRepository
	Matches() MatchRepository
	Players() PlayerRepository
	Cursors() CursorRepository

	// Project runs fn in a single unit of work. Nothing fn wrote survives an error.
	Project(ctx context.Context, fn func(tx ProjectionTx) error) error

	// ResetProjections clears matches and players and marks every logged event unprojected.
	ResetProjections(ctx context.Context) error

	Close() error
}
