package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

// EventRepo implements storage.EventLogRepository using PostgreSQL.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL raw event log repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// Append inserts the event unless its (tx_hash, log_index) key is already present.
func (r *EventRepo) Append(ctx context.Context, ev *domain.LedgerEvent) (bool, error) {
	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	var matchID sql.NullString
	if !ev.MatchID.IsZero() {
		matchID = sql.NullString{String: ev.MatchID.Hex(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_events (
			tx_hash, log_index, event_type, contract, block_number, block_time,
			match_id, player, counterparty, amount, paid_amount, projected, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		ev.Key.TxHash.Hex(), int64(ev.Key.LogIndex), string(ev.Type), ev.Contract.Hex(),
		int64(ev.BlockNumber), nullTime(ev.BlockTime), matchID,
		nullAddress(ev.Player), nullAddress(ev.Counterparty),
		nullAmount(ev.Amount), nullAmount(ev.PaidAmount), recordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append event %s: %w", ev.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to append event %s: %w", ev.Key, err)
	}
	return n == 1, nil
}

func (r *EventRepo) Get(ctx context.Context, key domain.EventKey) (*domain.LedgerEvent, error) {
	var row eventRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+eventColumns+` FROM ledger_events WHERE tx_hash = $1 AND log_index = $2`,
		key.TxHash.Hex(), int64(key.LogIndex))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", key, err)
	}
	return row.toDomain()
}

func (r *EventRepo) Unprojected(ctx context.Context, limit int) ([]*domain.LedgerEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE NOT projected
		ORDER BY block_number, log_index, tx_hash`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return selectEvents(ctx, r.db, query, args...)
}

func (r *EventRepo) ListByMatch(ctx context.Context, id domain.MatchID) ([]*domain.LedgerEvent, error) {
	return selectEvents(ctx, r.db,
		`SELECT `+eventColumns+` FROM ledger_events WHERE match_id = $1
		ORDER BY block_number, log_index, tx_hash`, id.Hex())
}

func (r *EventRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM ledger_events`); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func selectEvents(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]*domain.LedgerEvent, error) {
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]*domain.LedgerEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
