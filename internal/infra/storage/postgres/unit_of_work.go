package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

// UnitOfWork bundles the writes of one projected event into a single database
// transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Project runs fn inside a unit of work and commits only if it succeeds.
func (db *DB) Project(ctx context.Context, fn func(tx storage.ProjectionTx) error) error {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// GetMatch locks the row so concurrent projectors serialize on it.
func (u *UnitOfWork) GetMatch(ctx context.Context, id domain.MatchID) (*domain.MatchRecord, error) {
	var row matchRow
	err := u.tx.GetContext(ctx, &row, `SELECT `+matchColumns+` FROM matches WHERE match_id = $1 FOR UPDATE`, id.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", id, err)
	}
	return row.toDomain()
}

func (u *UnitOfWork) SaveMatch(ctx context.Context, m *domain.MatchRecord) error {
	return saveMatch(ctx, u.tx, m)
}

func (u *UnitOfWork) GetPlayer(ctx context.Context, addr common.Address) (*domain.Player, error) {
	return getPlayer(ctx, u.tx, addr)
}

func (u *UnitOfWork) SavePlayer(ctx context.Context, p *domain.Player) error {
	return savePlayer(ctx, u.tx, p)
}

// MarkProjected flips the projected flag; zero affected rows means it was already set.
func (u *UnitOfWork) MarkProjected(ctx context.Context, key domain.EventKey) (bool, error) {
	res, err := u.tx.ExecContext(ctx,
		`UPDATE ledger_events SET projected = TRUE WHERE tx_hash = $1 AND log_index = $2 AND NOT projected`,
		key.TxHash.Hex(), int64(key.LogIndex))
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s projected: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s projected: %w", key, err)
	}
	return n == 1, nil
}
