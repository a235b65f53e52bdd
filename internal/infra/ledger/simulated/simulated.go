// Package simulated is an in-process ledger with the settlement contracts'
// observable behaviour: per-identity nonces, token balances and allowances,
// the match lifecycle and an ordered log feed. It backs tests and the
// "simulated" ledger mode.
package simulated

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
)

// Fixed contract addresses of the simulated deployment.
var (
	GameAddress  = common.HexToAddress("0x00000000000000000000000000000000000a11e0")
	StoreAddress = common.HexToAddress("0x00000000000000000000000000000000000a11e1")
	TokenAddress = common.HexToAddress("0x00000000000000000000000000000000000a11e2")
)

// DefaultRate mints 1 GT per USDT.
var DefaultRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(domain.TokenDecimals), nil)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type block struct {
	number uint64
	time   time.Time
	logs   []ledger.RawLog
}

// Ledger implements ledger.Client in memory.
type Ledger struct {
	mu sync.Mutex

	owner      common.Address
	rate       *big.Int
	signers    map[common.Address]bool
	nonces     map[common.Address]uint64
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	matches    map[domain.MatchID]*domain.Match
	blocks     []block
	receipts   map[common.Hash]*ledger.Receipt

	// Fault injection.
	submitFaults map[common.Address][]error
	feedErr      error
	submissions  int
	submitted    map[common.Address][]uint64

	notify chan struct{}
	now    func() time.Time
}

var _ ledger.Client = (*Ledger)(nil)

// Option configures a simulated Ledger.
type Option func(*Ledger)

// WithRate sets the TokenStore's GT per USDT rate.
func WithRate(rate *big.Int) Option {
	return func(l *Ledger) { l.rate = new(big.Int).Set(rate) }
}

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New deploys the contracts with owner as the settlement contract owner.
// The owner is registered as a signer.
func New(owner common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		owner:        owner,
		rate:         new(big.Int).Set(DefaultRate),
		signers:      map[common.Address]bool{owner: true},
		nonces:       make(map[common.Address]uint64),
		balances:     make(map[common.Address]*big.Int),
		allowances:   make(map[allowanceKey]*big.Int),
		matches:      make(map[domain.MatchID]*domain.Match),
		receipts:     make(map[common.Hash]*ledger.Receipt),
		submitFaults: make(map[common.Address][]error),
		submitted:    make(map[common.Address][]uint64),
		notify:       make(chan struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.blocks = []block{{number: 0, time: l.now()}}
	return l
}

// AddSigner lets the ledger accept operations from identity.
func (l *Ledger) AddSigner(identity common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signers[identity] = true
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

func (l *Ledger) GetMatch(ctx context.Context, id domain.MatchID) (*domain.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
	}
	out := *m
	out.Stake = new(big.Int).Set(m.Stake)
	return &out, nil
}

func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(owner)), nil
}

func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(owner, spender)), nil
}

func (l *Ledger) TokenRate(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.rate), nil
}

func (l *Ledger) GameAddress() common.Address { return GameAddress }

func (l *Ledger) Owner(ctx context.Context) (common.Address, error) {
	return l.owner, nil
}

func (l *Ledger) LatestBlock(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head(), nil
}

// -----------------------------------------------------------------------------
// Writer
// -----------------------------------------------------------------------------

func (l *Ledger) NextNonce(ctx context.Context, identity common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[identity], nil
}

func (l *Ledger) CanSign(identity common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signers[identity]
}

// Submit validates the nonce, executes op and mines it into a new block.
// Reverts are reported here, like a node rejecting a failing gas estimate,
// and do not consume the nonce.
func (l *Ledger) Submit(ctx context.Context, identity common.Address, op ledger.Operation, nonce uint64) (ledger.Handle, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Handle{}, fmt.Errorf("%w: %v", ledger.ErrTransient, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.submissions++
	if !l.signers[identity] {
		return ledger.Handle{}, fmt.Errorf("%w: %s", ledger.ErrNoSigner, identity.Hex())
	}
	if faults := l.submitFaults[identity]; len(faults) > 0 {
		l.submitFaults[identity] = faults[1:]
		return ledger.Handle{}, faults[0]
	}

	expected := l.nonces[identity]
	switch {
	case nonce < expected:
		return ledger.Handle{}, ledger.Classify(fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", expected, nonce))
	case nonce > expected:
		return ledger.Handle{}, ledger.Classify(fmt.Errorf("nonce too high: next nonce %d, tx nonce %d", expected, nonce))
	}

	txHash := txHash(identity, nonce)
	logs, err := l.execute(identity, op)
	if err != nil {
		return ledger.Handle{}, err
	}

	l.nonces[identity] = nonce + 1
	l.submitted[identity] = append(l.submitted[identity], nonce)
	b := l.mine(txHash, logs)
	l.receipts[txHash] = &ledger.Receipt{
		TxHash:      txHash,
		BlockNumber: b.number,
		Identity:    identity,
		Nonce:       nonce,
		GasUsed:     21000 + uint64(len(logs))*1000,
		ConfirmedAt: b.time,
	}

	return ledger.Handle{TxHash: txHash, Identity: identity, Nonce: nonce, Op: op}, nil
}

func (l *Ledger) AwaitConfirmation(ctx context.Context, h ledger.Handle) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[h.TxHash]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction %s", ledger.ErrTransient, h.TxHash.Hex())
	}
	out := *r
	return &out, nil
}

// -----------------------------------------------------------------------------
// Test helpers and fault injection
// -----------------------------------------------------------------------------

// Mint credits GT without emitting an event.
func (l *Ledger) Mint(to common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
}

// Buy converts usdtAmount (6 decimals) into GT at the store rate and emits Purchase.
func (l *Ledger) Buy(buyer common.Address, usdtAmount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if usdtAmount.Sign() <= 0 {
		return nil, &ledger.RejectedError{Reason: "Amount must be greater than 0"}
	}
	gt := new(big.Int).Mul(usdtAmount, l.rate)
	gt.Quo(gt, new(big.Int).Exp(big.NewInt(10), big.NewInt(ledger.USDTDecimals), nil))

	raw, err := ledger.EncodeLog(domain.EventTypePurchase, StoreAddress, domain.MatchID{}, buyer, usdtAmount, gt)
	if err != nil {
		return nil, err
	}
	l.balances[buyer] = new(big.Int).Add(l.balance(buyer), gt)
	l.mine(crypto.Keccak256Hash(buyer.Bytes(), usdtAmount.Bytes(), uint64Bytes(uint64(len(l.blocks)))), []ledger.RawLog{raw})
	return gt, nil
}

// FailNextSubmit makes the next Submit for identity return err before any
// nonce check. Calls queue up.
func (l *Ledger) FailNextSubmit(identity common.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitFaults[identity] = append(l.submitFaults[identity], err)
}

// ConsumeNonce simulates a transaction sent by identity from outside the service.
func (l *Ledger) ConsumeNonce(identity common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nonce := l.nonces[identity]
	l.nonces[identity] = nonce + 1
	l.mine(txHash(identity, nonce), nil)
}

// BreakFeed makes one active subscription fail with err.
func (l *Ledger) BreakFeed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feedErr = err
	l.wake()
}

// Submissions counts every Submit call, accepted or not.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submissions
}

// SubmittedNonces lists the accepted nonces of identity in order.
func (l *Ledger) SubmittedNonces(identity common.Address) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.submitted[identity]...)
}

// -----------------------------------------------------------------------------
// internals, callers hold l.mu
// -----------------------------------------------------------------------------

func (l *Ledger) head() uint64 {
	return l.blocks[len(l.blocks)-1].number
}

func (l *Ledger) balance(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) allowance(owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (l *Ledger) mine(tx common.Hash, logs []ledger.RawLog) block {
	b := block{number: l.head() + 1, time: l.now()}
	for i := range logs {
		logs[i].BlockNumber = b.number
		logs[i].BlockTime = b.time
		logs[i].TxHash = tx
		logs[i].LogIndex = uint(i)
	}
	b.logs = logs
	l.blocks = append(l.blocks, b)
	l.wake()
	return b
}

func (l *Ledger) wake() {
	close(l.notify)
	l.notify = make(chan struct{})
}

func txHash(identity common.Address, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(identity.Bytes(), uint64Bytes(nonce))
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
