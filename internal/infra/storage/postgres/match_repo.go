package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

// MatchRepo implements storage.MatchRepository using PostgreSQL.
type MatchRepo struct {
	db *DB
}

// NewMatchRepo creates a new PostgreSQL match projection repository.
func NewMatchRepo(db *DB) *MatchRepo {
	return &MatchRepo{db: db}
}

func (r *MatchRepo) Get(ctx context.Context, id domain.MatchID) (*domain.MatchRecord, error) {
	return getMatch(ctx, r.db, id)
}

func getMatch(ctx context.Context, q sqlx.QueryerContext, id domain.MatchID) (*domain.MatchRecord, error) {
	var row matchRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+matchColumns+` FROM matches WHERE match_id = $1`, id.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", id, err)
	}
	return row.toDomain()
}

func saveMatch(ctx context.Context, e sqlx.ExecerContext, m *domain.MatchRecord) error {
	stakers := make([]string, len(m.Stakers))
	for i, s := range m.Stakers {
		stakers[i] = s.Hex()
	}
	var winner sql.NullString
	if m.Winner != nil {
		winner = sql.NullString{String: m.Winner.Hex(), Valid: true}
	}
	var settledAt sql.NullTime
	if m.SettledAt != nil {
		settledAt = sql.NullTime{Time: *m.SettledAt, Valid: true}
	}
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO matches (
			match_id, player1, player2, stake, status, stakers, winner, created_at, settled_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (match_id) DO UPDATE SET
			player1 = EXCLUDED.player1,
			player2 = EXCLUDED.player2,
			stake = EXCLUDED.stake,
			status = EXCLUDED.status,
			stakers = EXCLUDED.stakers,
			winner = EXCLUDED.winner,
			created_at = EXCLUDED.created_at,
			settled_at = EXCLUDED.settled_at,
			updated_at = EXCLUDED.updated_at`,
		m.ID.Hex(), nullAddress(m.Player1), nullAddress(m.Player2), nullAmount(m.Stake),
		m.Status.String(), pq.Array(stakers), winner, createdAt, settledAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save match %s: %w", m.ID, err)
	}
	return nil
}
