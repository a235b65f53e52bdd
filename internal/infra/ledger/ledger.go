// Package ledger defines the boundary to the external settlement layer.
//
// The ledger is append-only and outside the service's control: reads return
// its current view, writes are signed operations that are either confirmed,
// rejected, or lost to transient failures.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vietddude/stakeplay/internal/core/domain"
)

// OpKind enumerates the write operations the service submits.
type OpKind string

const (
	OpCreateMatch   OpKind = "createMatch"
	OpStake         OpKind = "stake"
	OpCommitResult  OpKind = "commitResult"
	OpRefund        OpKind = "refund"
	OpApprove       OpKind = "approve"
	OpTransferToken OpKind = "transfer"
)

// Operation is a ledger write, encoded by the client implementation.
type Operation struct {
	Kind    OpKind
	MatchID domain.MatchID
	Player1 common.Address // createMatch
	Player2 common.Address // createMatch
	Winner  common.Address // commitResult
	Spender common.Address // approve
	To      common.Address // transfer
	Amount  *big.Int       // createMatch stake, approve/transfer amount
}

// Label is a short human-readable description for logs and metrics.
func (op Operation) Label() string {
	if op.MatchID.IsZero() {
		return string(op.Kind)
	}
	return string(op.Kind) + ":" + op.MatchID.Hex()
}

// Handle identifies a submitted operation.
type Handle struct {
	TxHash   common.Hash
	Identity common.Address
	Nonce    uint64
	Op       Operation
}

// Receipt is the ledger's confirmation of an operation.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Identity    common.Address
	Nonce       uint64
	GasUsed     uint64
	ConfirmedAt time.Time
}

// Reader queries the ledger's current state.
type Reader interface {
	// GetMatch returns the match or domain.ErrNotFound when both slots are empty.
	GetMatch(ctx context.Context, id domain.MatchID) (*domain.Match, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	// TokenRate returns the store's GT minted per whole USDT, in GT minor units.
	TokenRate(ctx context.Context) (*big.Int, error)
	// GameAddress is the settlement contract, the spender stakes are approved for.
	GameAddress() common.Address
	Owner(ctx context.Context) (common.Address, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// Writer submits signed operations.
type Writer interface {
	// NextNonce returns the ordering counter the ledger expects next for identity.
	NextNonce(ctx context.Context, identity common.Address) (uint64, error)
	Submit(ctx context.Context, identity common.Address, op Operation, nonce uint64) (Handle, error)
	AwaitConfirmation(ctx context.Context, h Handle) (*Receipt, error)
	// CanSign reports whether the writer holds a key for identity.
	CanSign(identity common.Address) bool
}

// Filter selects the log entries a feed delivers.
type Filter struct {
	FromBlock uint64
	Contracts []common.Address
	Events    []domain.EventType
}

// RawLog is an undecoded ledger log entry.
type RawLog struct {
	Contract    common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockTime   time.Time
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool
}

// Batch is every log entry in [FromBlock, ToBlock]. Delivering a batch means the
// range is complete; the consumer may checkpoint at ToBlock once it is recorded.
type Batch struct {
	FromBlock uint64
	ToBlock   uint64
	Logs      []RawLog
}

// Feed streams log batches starting at filter.FromBlock.
type Feed interface {
	// Subscribe blocks, sending batches to out until ctx is done or the feed
	// fails. Callers resume by subscribing again from their last checkpoint.
	Subscribe(ctx context.Context, filter Filter, out chan<- Batch) error
}

// Client is the full ledger surface the process is wired with.
type Client interface {
	Reader
	Writer
	Feed
}
