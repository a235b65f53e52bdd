package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Save saves a cursor to the database.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (stream, block_number, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (stream) DO UPDATE SET block_number = EXCLUDED.block_number, updated_at = EXCLUDED.updated_at`,
		cursor.Stream, int64(cursor.BlockNumber), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Get retrieves a cursor by stream name.
func (r *CursorRepo) Get(ctx context.Context, stream string) (*domain.Cursor, error) {
	var row struct {
		Stream      string    `db:"stream"`
		BlockNumber int64     `db:"block_number"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT stream, block_number, updated_at FROM cursors WHERE stream = $1`, stream)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &domain.Cursor{
		Stream:      row.Stream,
		BlockNumber: uint64(row.BlockNumber),
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
