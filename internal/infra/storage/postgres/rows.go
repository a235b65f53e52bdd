package postgres

import (
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

type eventRow struct {
	TxHash       string         `db:"tx_hash"`
	LogIndex     int64          `db:"log_index"`
	EventType    string         `db:"event_type"`
	Contract     string         `db:"contract"`
	BlockNumber  int64          `db:"block_number"`
	BlockTime    sql.NullTime   `db:"block_time"`
	MatchID      sql.NullString `db:"match_id"`
	Player       sql.NullString `db:"player"`
	Counterparty sql.NullString `db:"counterparty"`
	Amount       sql.NullString `db:"amount"`
	PaidAmount   sql.NullString `db:"paid_amount"`
	Projected    bool           `db:"projected"`
	RecordedAt   time.Time      `db:"recorded_at"`
}

const eventColumns = `tx_hash, log_index, event_type, contract, block_number, block_time,
	match_id, player, counterparty, amount::text AS amount, paid_amount::text AS paid_amount,
	projected, recorded_at`

func (r eventRow) toDomain() (*domain.LedgerEvent, error) {
	amount, err := parseNullAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	paid, err := parseNullAmount(r.PaidAmount)
	if err != nil {
		return nil, err
	}
	ev := &domain.LedgerEvent{
		Key:          domain.EventKey{TxHash: common.HexToHash(r.TxHash), LogIndex: uint(r.LogIndex)},
		Type:         domain.EventType(r.EventType),
		Contract:     common.HexToAddress(r.Contract),
		BlockNumber:  uint64(r.BlockNumber),
		Player:       common.HexToAddress(r.Player.String),
		Counterparty: common.HexToAddress(r.Counterparty.String),
		Amount:       amount,
		PaidAmount:   paid,
		Projected:    r.Projected,
		RecordedAt:   r.RecordedAt,
	}
	if r.BlockTime.Valid {
		ev.BlockTime = r.BlockTime.Time
	}
	if r.MatchID.Valid {
		ev.MatchID = domain.MatchID(common.HexToHash(r.MatchID.String))
	}
	return ev, nil
}

type matchRow struct {
	MatchID   string         `db:"match_id"`
	Player1   sql.NullString `db:"player1"`
	Player2   sql.NullString `db:"player2"`
	Stake     sql.NullString `db:"stake"`
	Status    string         `db:"status"`
	Stakers   pq.StringArray `db:"stakers"`
	Winner    sql.NullString `db:"winner"`
	CreatedAt time.Time      `db:"created_at"`
	SettledAt sql.NullTime   `db:"settled_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

const matchColumns = `match_id, player1, player2, stake::text AS stake, status, stakers,
	winner, created_at, settled_at, updated_at`

func (r matchRow) toDomain() (*domain.MatchRecord, error) {
	status, err := domain.ParseMatchStatus(r.Status)
	if err != nil {
		return nil, err
	}
	stake, err := parseNullAmount(r.Stake)
	if err != nil {
		return nil, err
	}
	m := &domain.MatchRecord{
		ID:        domain.MatchID(common.HexToHash(r.MatchID)),
		Player1:   common.HexToAddress(r.Player1.String),
		Player2:   common.HexToAddress(r.Player2.String),
		Stake:     stake,
		Status:    status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, s := range r.Stakers {
		m.Stakers = append(m.Stakers, common.HexToAddress(s))
	}
	if r.Winner.Valid {
		w := common.HexToAddress(r.Winner.String)
		m.Winner = &w
	}
	if r.SettledAt.Valid {
		t := r.SettledAt.Time
		m.SettledAt = &t
	}
	return m, nil
}

type playerRow struct {
	Address       string    `db:"address"`
	TotalMatches  int64     `db:"total_matches"`
	TotalWins     int64     `db:"total_wins"`
	TotalGTWon    string    `db:"total_gt_won"`
	TotalGTStaked string    `db:"total_gt_staked"`
	LastUpdated   time.Time `db:"last_updated"`
}

const playerColumns = `address, total_matches, total_wins, total_gt_won::text AS total_gt_won,
	total_gt_staked::text AS total_gt_staked, last_updated`

func (r playerRow) toDomain() (*domain.Player, error) {
	won, err := parseAmount(r.TotalGTWon)
	if err != nil {
		return nil, err
	}
	staked, err := parseAmount(r.TotalGTStaked)
	if err != nil {
		return nil, err
	}
	return &domain.Player{
		Address:      common.HexToAddress(r.Address),
		TotalMatches: r.TotalMatches,
		TotalWins:    r.TotalWins,
		TotalWon:     won,
		TotalStaked:  staked,
		LastUpdated:  r.LastUpdated,
	}, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

func parseNullAmount(s sql.NullString) (*big.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	return parseAmount(s.String)
}

func nullAmount(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func amountOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullAddress(a common.Address) sql.NullString {
	if a == (common.Address{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: a.Hex(), Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
