package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventTypeMatchCreated EventType = "MatchCreated"
	EventTypeStaked       EventType = "Staked"
	EventTypeSettled      EventType = "Settled"
	EventTypeRefunded     EventType = "Refunded"
	EventTypePurchase     EventType = "Purchase"
)

// EventKey is the idempotency key of a ledger log entry.
type EventKey struct {
	TxHash   common.Hash
	LogIndex uint
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash.Hex(), k.LogIndex)
}

// LedgerEvent is a domain event decoded from a ledger log entry.
//
// Field usage per type:
//   - MatchCreated: MatchID, Player (player1), Counterparty (player2), Amount (stake)
//   - Staked:       MatchID, Player, Amount
//   - Settled:      MatchID, Player (winner), Amount (pot)
//   - Refunded:     MatchID, Player, Amount
//   - Purchase:     Player (buyer), Amount (GT), PaidAmount (USDT)
type LedgerEvent struct {
	Key          EventKey
	Type         EventType
	Contract     common.Address
	BlockNumber  uint64
	BlockTime    time.Time
	MatchID      MatchID
	Player       common.Address
	Counterparty common.Address
	Amount       *big.Int
	PaidAmount   *big.Int
	Projected    bool
	RecordedAt   time.Time
}

// OccurredAt is the block time when known, else the time it was recorded.
func (e *LedgerEvent) OccurredAt() time.Time {
	if !e.BlockTime.IsZero() {
		return e.BlockTime
	}
	return e.RecordedAt
}
