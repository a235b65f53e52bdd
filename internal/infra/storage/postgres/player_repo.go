package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

// PlayerRepo implements storage.PlayerRepository using PostgreSQL.
type PlayerRepo struct {
	db *DB
}

// NewPlayerRepo creates a new PostgreSQL player aggregate repository.
func NewPlayerRepo(db *DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

func (r *PlayerRepo) Get(ctx context.Context, addr common.Address) (*domain.Player, error) {
	return getPlayer(ctx, r.db, addr)
}

// Top orders by total_gt_won descending; the lower-case address breaks ties
// in byte order.
func (r *PlayerRepo) Top(ctx context.Context, limit int) ([]*domain.Player, error) {
	var rows []playerRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+playerColumns+` FROM players ORDER BY total_gt_won DESC, lower(address) COLLATE "C" ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top players: %w", err)
	}
	out := make([]*domain.Player, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func getPlayer(ctx context.Context, q sqlx.QueryerContext, addr common.Address) (*domain.Player, error) {
	var row playerRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+playerColumns+` FROM players WHERE address = $1`, addr.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", addr.Hex(), err)
	}
	return row.toDomain()
}

func savePlayer(ctx context.Context, e sqlx.ExecerContext, p *domain.Player) error {
	lastUpdated := p.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO players (address, total_matches, total_wins, total_gt_won, total_gt_staked, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			total_matches = EXCLUDED.total_matches,
			total_wins = EXCLUDED.total_wins,
			total_gt_won = EXCLUDED.total_gt_won,
			total_gt_staked = EXCLUDED.total_gt_staked,
			last_updated = EXCLUDED.last_updated`,
		p.Address.Hex(), p.TotalMatches, p.TotalWins,
		amountOrZero(p.TotalWon), amountOrZero(p.TotalStaked), lastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save player %s: %w", p.Address.Hex(), err)
	}
	return nil
}
