// Package match holds the settlement decision engine and the coordinator that
// drives the match lifecycle on the ledger.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/indexing/metrics"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

const (
	OpCreate  = "createMatch"
	OpStake   = "stakeOnBehalf"
	OpCommit  = "commitResult"
	OpRefund  = "refund"
	OpApprove = "approve"
	OpGive    = "giveTokens"
)

// Submitter routes an operation through the per-identity sequencer.
type Submitter interface {
	Enqueue(ctx context.Context, identity common.Address, op ledger.Operation) (*ledger.Receipt, error)
}

// Signer reports which identities the process holds keys for.
type Signer interface {
	CanSign(identity common.Address) bool
}

// Config holds coordinator settings.
type Config struct {
	// Backend is the service identity that owns the settlement contract.
	Backend common.Address
	// ApproveAmount is the allowance granted when none is requested explicitly.
	ApproveAmount *big.Int
	// GiveAmount is the transfer used by GiveTokens when no amount is given.
	GiveAmount *big.Int
}

// Coordinator orchestrates match operations. Decisions are always taken on
// freshly queried ledger state; the projection is only used to enrich reads.
type Coordinator struct {
	reader  ledger.Reader
	signer  Signer
	seq     Submitter
	matches storage.MatchRepository
	cfg     Config
	log     *slog.Logger
}

// New creates a coordinator. matches may be nil.
func New(reader ledger.Reader, signer Signer, seq Submitter, matches storage.MatchRepository, cfg Config) *Coordinator {
	if cfg.ApproveAmount == nil {
		cfg.ApproveAmount = new(big.Int)
	}
	if cfg.GiveAmount == nil {
		cfg.GiveAmount = new(big.Int)
	}
	return &Coordinator{
		reader:  reader,
		signer:  signer,
		seq:     seq,
		matches: matches,
		cfg:     cfg,
		log:     slog.Default().With("component", "coordinator"),
	}
}

// Result is the outcome of a write operation with the checks that gated it.
type Result struct {
	Operation string   `json:"operation"`
	MatchID   string   `json:"matchId,omitempty"`
	Preflight any      `json:"preflight,omitempty"`
	Approved  bool     `json:"approved,omitempty"`
	TxHashes  []string `json:"txHashes,omitempty"`
	Block     uint64   `json:"blockNumber,omitempty"`
}

func (r *Result) add(receipt *ledger.Receipt) {
	r.TxHashes = append(r.TxHashes, receipt.TxHash.Hex())
	r.Block = receipt.BlockNumber
}

// CreatePreflight is the validated create request.
type CreatePreflight struct {
	MatchID string `json:"matchId"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
	Stake   string `json:"stake"`
}

// StakePreflight is the state a stake was checked against.
type StakePreflight struct {
	MatchID       string `json:"matchId"`
	Player        string `json:"player"`
	Status        string `json:"status"`
	Stake         string `json:"stake"`
	Balance       string `json:"balance"`
	Allowance     string `json:"allowance"`
	NeedsApproval bool   `json:"needsApproval"`
}

// CreateMatch validates the request and creates the match under the backend identity.
func (c *Coordinator) CreateMatch(ctx context.Context, matchID, player1, player2, stake string) (*Result, error) {
	id, err := parseMatchID(matchID)
	if err != nil {
		return nil, c.invalid(OpCreate, matchID, err)
	}
	p1, err := domain.ParseAddress(player1)
	if err != nil {
		return nil, c.invalid(OpCreate, matchID, fmt.Errorf("player1: %w", err))
	}
	p2, err := domain.ParseAddress(player2)
	if err != nil {
		return nil, c.invalid(OpCreate, matchID, fmt.Errorf("player2: %w", err))
	}
	if p1 == p2 {
		return nil, c.invalid(OpCreate, matchID, domain.Validationf("players must be distinct"))
	}
	amount, err := domain.ParseTokenAmount(stake)
	if err != nil {
		return nil, c.invalid(OpCreate, matchID, err)
	}
	if amount.Sign() <= 0 {
		return nil, c.invalid(OpCreate, matchID, domain.Validationf("stake must be greater than 0"))
	}

	pre := &CreatePreflight{
		MatchID: id.Hex(),
		Player1: p1.Hex(),
		Player2: p2.Hex(),
		Stake:   domain.FormatTokenAmount(amount),
	}
	res := &Result{Operation: OpCreate, MatchID: id.Hex(), Preflight: pre}

	receipt, err := c.seq.Enqueue(ctx, c.cfg.Backend, ledger.Operation{
		Kind:    ledger.OpCreateMatch,
		MatchID: id,
		Player1: p1,
		Player2: p2,
		Amount:  amount,
	})
	if err != nil {
		return nil, c.ledgerFailure(OpCreate, matchID, c.cfg.Backend, pre, err)
	}
	res.add(receipt)

	c.succeeded(OpCreate, matchID, c.cfg.Backend, "tx", receipt.TxHash.Hex())
	return res, nil
}

// StakeOnBehalf stakes for a participant whose key the process holds. When the
// allowance is short it approves first; a retry after a crash between the two
// submissions skips the approval because the allowance is then sufficient.
func (c *Coordinator) StakeOnBehalf(ctx context.Context, matchID, participant string) (*Result, error) {
	id, err := parseMatchID(matchID)
	if err != nil {
		return nil, c.invalid(OpStake, matchID, err)
	}
	player, err := domain.ParseAddress(participant)
	if err != nil {
		return nil, c.invalid(OpStake, matchID, err)
	}
	if !c.signer.CanSign(player) {
		return nil, c.invalid(OpStake, matchID, domain.Validationf("no key held for %s", player.Hex()))
	}

	m, err := c.reader.GetMatch(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, c.rejected(OpStake, matchID, domain.ErrNotFound, ReasonNotFound, nil)
	}
	if err != nil {
		return nil, c.ledgerFailure(OpStake, matchID, player, nil, err)
	}

	pre := &StakePreflight{
		MatchID: id.Hex(),
		Player:  player.Hex(),
		Status:  m.Status.String(),
		Stake:   domain.FormatTokenAmount(m.Stake),
	}
	switch {
	case !m.IsParticipant(player):
		return nil, c.rejected(OpStake, matchID, domain.ErrStateConflict, ReasonNotParticipant, pre)
	case m.HasStaked(player):
		return nil, c.rejected(OpStake, matchID, domain.ErrStateConflict, "already staked", pre)
	case m.Status != domain.MatchStatusPending:
		return nil, c.rejected(OpStake, matchID, domain.ErrStateConflict, "match not pending", pre)
	}

	balance, err := c.reader.BalanceOf(ctx, player)
	if err != nil {
		return nil, c.ledgerFailure(OpStake, matchID, player, pre, err)
	}
	allowance, err := c.reader.Allowance(ctx, player, c.reader.GameAddress())
	if err != nil {
		return nil, c.ledgerFailure(OpStake, matchID, player, pre, err)
	}
	pre.Balance = domain.FormatTokenAmount(balance)
	pre.Allowance = domain.FormatTokenAmount(allowance)
	pre.NeedsApproval = allowance.Cmp(m.Stake) < 0

	if balance.Cmp(m.Stake) < 0 {
		return nil, c.rejected(OpStake, matchID, domain.ErrStateConflict, "insufficient balance", pre)
	}

	res := &Result{Operation: OpStake, MatchID: id.Hex(), Preflight: pre}
	if pre.NeedsApproval {
		amount := m.Stake
		if c.cfg.ApproveAmount.Cmp(amount) > 0 {
			amount = c.cfg.ApproveAmount
		}
		receipt, err := c.seq.Enqueue(ctx, player, ledger.Operation{
			Kind:    ledger.OpApprove,
			Spender: c.reader.GameAddress(),
			Amount:  amount,
		})
		if err != nil {
			return nil, c.ledgerFailure(OpStake, matchID, player, pre, fmt.Errorf("approve: %w", err))
		}
		res.Approved = true
		res.add(receipt)
	}

	receipt, err := c.seq.Enqueue(ctx, player, ledger.Operation{Kind: ledger.OpStake, MatchID: id})
	if err != nil {
		return nil, c.ledgerFailure(OpStake, matchID, player, pre, err)
	}
	res.add(receipt)

	c.succeeded(OpStake, matchID, player, "approved", res.Approved, "tx", receipt.TxHash.Hex())
	return res, nil
}

// CommitResult settles the match in favour of winner. The decision is computed
// on fresh ledger state first; a dry run returns it without submitting. A real
// run that is not READY fails with the same decision attached.
func (c *Coordinator) CommitResult(ctx context.Context, matchID, winner string, dryRun bool) (*Result, error) {
	id, err := parseMatchID(matchID)
	if err != nil {
		return nil, c.invalid(OpCommit, matchID, err)
	}
	w, err := domain.ParseAddress(winner)
	if err != nil {
		return nil, c.invalid(OpCommit, matchID, err)
	}

	m, err := c.reader.GetMatch(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, c.ledgerFailure(OpCommit, matchID, c.cfg.Backend, nil, err)
	}

	pre := Decide(id, m, w)
	res := &Result{Operation: OpCommit, MatchID: id.Hex(), Preflight: &pre}

	if dryRun {
		metrics.MatchOperations.WithLabelValues(OpCommit, "dry_run").Inc()
		c.log.Debug("Dry-run settlement evaluated", "match", matchID, "decision", pre.Decision, "reason", pre.Reason)
		return res, nil
	}
	if !pre.Ready() {
		return nil, c.rejected(OpCommit, matchID, kind(pre.Reason), pre.Reason, &pre)
	}

	receipt, err := c.seq.Enqueue(ctx, c.cfg.Backend, ledger.Operation{
		Kind:    ledger.OpCommitResult,
		MatchID: id,
		Winner:  w,
	})
	if err != nil {
		return nil, c.ledgerFailure(OpCommit, matchID, c.cfg.Backend, &pre, err)
	}
	res.add(receipt)

	c.succeeded(OpCommit, matchID, c.cfg.Backend, "winner", w.Hex(), "tx", receipt.TxHash.Hex())
	return res, nil
}

// Refund returns both stakes of a match that has not reached a terminal status.
func (c *Coordinator) Refund(ctx context.Context, matchID string) (*Result, error) {
	id, err := parseMatchID(matchID)
	if err != nil {
		return nil, c.invalid(OpRefund, matchID, err)
	}

	m, err := c.reader.GetMatch(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, c.rejected(OpRefund, matchID, domain.ErrNotFound, ReasonNotFound, nil)
	}
	if err != nil {
		return nil, c.ledgerFailure(OpRefund, matchID, c.cfg.Backend, nil, err)
	}

	sum := summarize(id, m)
	switch m.Status {
	case domain.MatchStatusSettled:
		return nil, c.rejected(OpRefund, matchID, domain.ErrStateConflict, ReasonAlreadySettled, sum)
	case domain.MatchStatusRefunded:
		return nil, c.rejected(OpRefund, matchID, domain.ErrStateConflict, ReasonAlreadyRefunded, sum)
	}

	receipt, err := c.seq.Enqueue(ctx, c.cfg.Backend, ledger.Operation{Kind: ledger.OpRefund, MatchID: id})
	if err != nil {
		return nil, c.ledgerFailure(OpRefund, matchID, c.cfg.Backend, sum, err)
	}
	res := &Result{Operation: OpRefund, MatchID: id.Hex(), Preflight: sum}
	res.add(receipt)

	c.succeeded(OpRefund, matchID, c.cfg.Backend, "tx", receipt.TxHash.Hex())
	return res, nil
}

// Approve grants the settlement contract an allowance from player. An empty
// amount uses the configured default.
func (c *Coordinator) Approve(ctx context.Context, player, amount string) (*Result, error) {
	addr, err := domain.ParseAddress(player)
	if err != nil {
		return nil, c.invalid(OpApprove, "", err)
	}
	if !c.signer.CanSign(addr) {
		return nil, c.invalid(OpApprove, "", domain.Validationf("no key held for %s", addr.Hex()))
	}
	value := c.cfg.ApproveAmount
	if strings.TrimSpace(amount) != "" {
		if value, err = domain.ParseTokenAmount(amount); err != nil {
			return nil, c.invalid(OpApprove, "", err)
		}
	}
	if value.Sign() <= 0 {
		return nil, c.invalid(OpApprove, "", domain.Validationf("amount must be greater than 0"))
	}

	receipt, err := c.seq.Enqueue(ctx, addr, ledger.Operation{
		Kind:    ledger.OpApprove,
		Spender: c.reader.GameAddress(),
		Amount:  value,
	})
	if err != nil {
		return nil, c.ledgerFailure(OpApprove, "", addr, nil, err)
	}
	res := &Result{Operation: OpApprove}
	res.add(receipt)

	c.succeeded(OpApprove, "", addr, "amount", domain.FormatTokenAmount(value))
	return res, nil
}

// Transfer is the outcome of a GiveTokens call.
type Transfer struct {
	To      string `json:"address"`
	Amount  string `json:"amount"`
	Balance string `json:"backendBalance"`
}

// GiveTokens transfers GT from the backend identity to address. An empty
// amount uses the configured default.
func (c *Coordinator) GiveTokens(ctx context.Context, address, amount string) (*Result, error) {
	to, err := domain.ParseAddress(address)
	if err != nil {
		return nil, c.invalid(OpGive, "", err)
	}
	value := c.cfg.GiveAmount
	if strings.TrimSpace(amount) != "" {
		if value, err = domain.ParseTokenAmount(amount); err != nil {
			return nil, c.invalid(OpGive, "", err)
		}
	}
	if value.Sign() <= 0 {
		return nil, c.invalid(OpGive, "", domain.Validationf("amount must be greater than 0"))
	}

	balance, err := c.reader.BalanceOf(ctx, c.cfg.Backend)
	if err != nil {
		return nil, c.ledgerFailure(OpGive, "", c.cfg.Backend, nil, err)
	}
	pre := &Transfer{
		To:      to.Hex(),
		Amount:  domain.FormatTokenAmount(value),
		Balance: domain.FormatTokenAmount(balance),
	}
	if balance.Cmp(value) < 0 {
		return nil, c.rejected(OpGive, "", domain.ErrStateConflict, "backend has insufficient tokens", pre)
	}

	receipt, err := c.seq.Enqueue(ctx, c.cfg.Backend, ledger.Operation{
		Kind:   ledger.OpTransferToken,
		To:     to,
		Amount: value,
	})
	if err != nil {
		return nil, c.ledgerFailure(OpGive, "", c.cfg.Backend, pre, err)
	}
	res := &Result{Operation: OpGive, Preflight: pre}
	res.add(receipt)

	c.succeeded(OpGive, "", c.cfg.Backend, "to", to.Hex(), "amount", pre.Amount)
	return res, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Summary is the ledger's view of a match.
type Summary struct {
	MatchID       string    `json:"matchId"`
	Exists        bool      `json:"exists"`
	Status        string    `json:"status,omitempty"`
	Player1       string    `json:"player1,omitempty"`
	Player2       string    `json:"player2,omitempty"`
	Stake         string    `json:"stake,omitempty"`
	Player1Staked bool      `json:"player1Staked"`
	Player2Staked bool      `json:"player2Staked"`
	StartTime     time.Time `json:"startTime,omitzero"`
}

// View is the ledger state of a match enriched with its projected record.
type View struct {
	Summary
	Winner    string     `json:"winner,omitempty"`
	SettledAt *time.Time `json:"settledAt,omitempty"`
	Indexed   bool       `json:"indexed"`
}

func summarize(id domain.MatchID, m *domain.Match) *Summary {
	s := &Summary{MatchID: id.Hex()}
	if !m.Exists() {
		return s
	}
	s.Exists = true
	s.Status = m.Status.String()
	s.Player1 = m.Player1.Hex()
	s.Player2 = m.Player2.Hex()
	s.Stake = domain.FormatTokenAmount(m.Stake)
	s.Player1Staked = m.Player1Staked
	s.Player2Staked = m.Player2Staked
	s.StartTime = m.StartTime
	return s
}

// Summary returns the ledger state; unknown matches report Exists=false.
func (c *Coordinator) Summary(ctx context.Context, matchID string) (*Summary, error) {
	id, err := parseMatchID(matchID)
	if err != nil {
		return nil, c.invalid("summary", matchID, err)
	}
	m, err := c.reader.GetMatch(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, c.ledgerFailure("summary", matchID, common.Address{}, nil, err)
	}
	return summarize(id, m), nil
}

// Match returns the ledger state plus what the projector has recorded.
func (c *Coordinator) Match(ctx context.Context, matchID string) (*View, error) {
	id, err := parseMatchID(matchID)
	if err != nil {
		return nil, c.invalid("getMatch", matchID, err)
	}
	m, err := c.reader.GetMatch(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.OpError{Op: "getMatch", MatchID: matchID, Kind: domain.ErrNotFound, Reason: ReasonNotFound}
	}
	if err != nil {
		return nil, c.ledgerFailure("getMatch", matchID, common.Address{}, nil, err)
	}

	view := &View{Summary: *summarize(id, m)}
	if c.matches == nil {
		return view, nil
	}
	rec, err := c.matches.Get(ctx, id)
	if err != nil {
		// The projection only enriches the answer.
		c.log.Warn("Failed to read match projection", "match", matchID, "error", err)
		return view, nil
	}
	if rec != nil {
		view.Indexed = true
		view.SettledAt = rec.SettledAt
		if rec.Winner != nil {
			view.Winner = rec.Winner.Hex()
		}
	}
	return view, nil
}

// Balance is a formatted GT balance.
type Balance struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Raw     string `json:"raw"`
}

func (c *Coordinator) Balance(ctx context.Context, address string) (*Balance, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return nil, c.invalid("balance", "", err)
	}
	return c.balance(ctx, addr)
}

// BackendBalance returns the service identity's balance.
func (c *Coordinator) BackendBalance(ctx context.Context) (*Balance, error) {
	return c.balance(ctx, c.cfg.Backend)
}

func (c *Coordinator) balance(ctx context.Context, addr common.Address) (*Balance, error) {
	v, err := c.reader.BalanceOf(ctx, addr)
	if err != nil {
		return nil, c.ledgerFailure("balance", "", addr, nil, err)
	}
	return &Balance{Address: addr.Hex(), Balance: domain.FormatTokenAmount(v), Raw: v.String()}, nil
}

// Rate is the token store's conversion rate.
type Rate struct {
	GTPerUSDT string `json:"gtPerUsdt"`
	Raw       string `json:"raw"`
}

func (c *Coordinator) Rate(ctx context.Context) (*Rate, error) {
	v, err := c.reader.TokenRate(ctx)
	if err != nil {
		return nil, c.ledgerFailure("rate", "", common.Address{}, nil, err)
	}
	return &Rate{GTPerUSDT: domain.FormatTokenAmount(v), Raw: v.String()}, nil
}

// Backend is the service identity.
func (c *Coordinator) Backend() common.Address { return c.cfg.Backend }

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func parseMatchID(s string) (domain.MatchID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.MatchID{}, domain.Validationf("matchId is required")
	}
	return domain.ParseMatchID(s), nil
}

func (c *Coordinator) invalid(op, matchID string, err error) error {
	metrics.MatchOperations.WithLabelValues(op, "invalid").Inc()
	c.log.Warn("Rejected invalid request", "op", op, "match", matchID, "error", err)
	return &domain.OpError{Op: op, MatchID: matchID, Kind: domain.ErrValidation, Err: err}
}

func (c *Coordinator) rejected(op, matchID string, kind error, reason string, detail any) error {
	metrics.MatchOperations.WithLabelValues(op, "rejected").Inc()
	c.log.Warn("Operation rejected before submission", "op", op, "match", matchID, "reason", reason)
	return &domain.OpError{Op: op, MatchID: matchID, Kind: kind, Reason: reason, Detail: detail}
}

func (c *Coordinator) ledgerFailure(op, matchID string, identity common.Address, detail any, err error) error {
	metrics.MatchOperations.WithLabelValues(op, "failed").Inc()
	c.log.Error("Ledger operation failed",
		"op", op, "match", matchID, "identity", identity.Hex(), "error", err)
	reason, _ := ledger.IsRejected(err)
	return &domain.OpError{Op: op, MatchID: matchID, Kind: domain.ErrLedger, Reason: reason, Detail: detail, Err: err}
}

func (c *Coordinator) succeeded(op, matchID string, identity common.Address, args ...any) {
	metrics.MatchOperations.WithLabelValues(op, "ok").Inc()
	c.log.Info("Operation confirmed",
		append([]any{"op", op, "match", matchID, "identity", identity.Hex()}, args...)...)
}
