// Package evm implements the ledger client against an EVM JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/indexing/metrics"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
)

// Caller issues JSON-RPC requests. provider.HTTPProvider satisfies it.
type Caller interface {
	Call(ctx context.Context, out any, method string, params ...any) error
}

// Config holds the contract deployment and polling settings.
type Config struct {
	ChainID             int64
	GameAddress         common.Address
	StoreAddress        common.Address
	TokenAddress        common.Address
	ConfirmationPoll    time.Duration
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	MaxBlockRange       uint64
	// Confirmations is the depth a block must reach before its logs are
	// delivered. Blocks nearer the head may still be reorganized away.
	Confirmations uint64
}

// Client implements ledger.Client over JSON-RPC.
type Client struct {
	rpc     Caller
	cfg     Config
	chainID *big.Int
	keys    *Keyring
	heads   <-chan uint64
	log     *slog.Logger
}

var _ ledger.Client = (*Client)(nil)

// NewClient creates a ledger client. heads may be nil, in which case the log
// feed relies on polling alone.
func NewClient(rpc Caller, cfg Config, keys *Keyring, heads <-chan uint64) *Client {
	if cfg.ConfirmationPoll <= 0 {
		cfg.ConfirmationPoll = time.Second
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 2000
	}
	return &Client{
		rpc:     rpc,
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		keys:    keys,
		heads:   heads,
		log:     slog.Default().With("component", "ledger"),
	}
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	var out hexutil.Bytes
	msg := map[string]any{"to": to, "data": hexutil.Bytes(data)}
	if err := c.rpc.Call(ctx, &out, "eth_call", msg, "latest"); err != nil {
		return nil, ledger.Classify(err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return values, nil
}

func (c *Client) GetMatch(ctx context.Context, id domain.MatchID) (*domain.Match, error) {
	values, err := c.call(ctx, c.cfg.GameAddress, ledger.PlayGameABI, "getMatch", [32]byte(id))
	if err != nil {
		return nil, err
	}
	if len(values) != 7 {
		return nil, fmt.Errorf("decode getMatch: unexpected arity %d", len(values))
	}

	m := &domain.Match{ID: id}
	m.Player1, _ = values[0].(common.Address)
	m.Player2, _ = values[1].(common.Address)
	m.Stake, _ = values[2].(*big.Int)
	status, _ := values[3].(uint8)
	m.Status = domain.MatchStatus(status)
	if start, ok := values[4].(*big.Int); ok && start.Sign() > 0 {
		m.StartTime = time.Unix(start.Int64(), 0).UTC()
	}
	m.Player1Staked, _ = values[5].(bool)
	m.Player2Staked, _ = values[6].(bool)

	if !m.Exists() {
		return nil, fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (c *Client) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, c.cfg.TokenAddress, ledger.GameTokenABI, "balanceOf", owner)
}

func (c *Client) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, c.cfg.TokenAddress, ledger.GameTokenABI, "allowance", owner, spender)
}

func (c *Client) TokenRate(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, c.cfg.StoreAddress, ledger.TokenStoreABI, "gtPerUsdt")
}

func (c *Client) GameAddress() common.Address { return c.cfg.GameAddress }

func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	values, err := c.call(ctx, c.cfg.GameAddress, ledger.PlayGameABI, "owner")
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("decode owner: unexpected type")
	}
	return owner, nil
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := c.rpc.Call(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, ledger.Classify(err)
	}
	metrics.ChainLatestBlock.Set(float64(head))
	return uint64(head), nil
}

func (c *Client) callUint(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*big.Int, error) {
	values, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected type %T", method, values[0])
	}
	return v, nil
}

// -----------------------------------------------------------------------------
// Writer
// -----------------------------------------------------------------------------

func (c *Client) CanSign(identity common.Address) bool {
	_, ok := c.keys.key(identity)
	return ok
}

// NextNonce counts pending transactions so in-flight submissions are included.
func (c *Client) NextNonce(ctx context.Context, identity common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.rpc.Call(ctx, &nonce, "eth_getTransactionCount", identity, "pending"); err != nil {
		return 0, ledger.Classify(err)
	}
	return uint64(nonce), nil
}

// Submit estimates gas, signs a legacy EIP-155 transaction and broadcasts it.
// A failing estimate surfaces the contract's revert reason before anything is sent.
func (c *Client) Submit(ctx context.Context, identity common.Address, op ledger.Operation, nonce uint64) (ledger.Handle, error) {
	key, ok := c.keys.key(identity)
	if !ok {
		return ledger.Handle{}, fmt.Errorf("%w: %s", ledger.ErrNoSigner, identity.Hex())
	}

	to, data, err := ledger.EncodeCall(op, c.cfg.GameAddress, c.cfg.TokenAddress)
	if err != nil {
		return ledger.Handle{}, err
	}

	var gas hexutil.Uint64
	msg := map[string]any{"from": identity, "to": to, "data": hexutil.Bytes(data)}
	if err := c.rpc.Call(ctx, &gas, "eth_estimateGas", msg); err != nil {
		return ledger.Handle{}, ledger.Classify(err)
	}

	var gasPrice hexutil.Big
	if err := c.rpc.Call(ctx, &gasPrice, "eth_gasPrice"); err != nil {
		return ledger.Handle{}, ledger.Classify(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: (*big.Int)(&gasPrice),
		Gas:      uint64(gas) * 12 / 10,
		To:       &to,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return ledger.Handle{}, fmt.Errorf("sign %s: %w", op.Label(), err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return ledger.Handle{}, fmt.Errorf("encode %s: %w", op.Label(), err)
	}

	var hash common.Hash
	if err := c.rpc.Call(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return ledger.Handle{}, ledger.Classify(err)
	}
	if hash == (common.Hash{}) {
		hash = signed.Hash()
	}

	c.log.Debug("Transaction sent",
		"identity", identity.Hex(),
		"op", op.Label(),
		"nonce", nonce,
		"tx", hash.Hex(),
		"gas", uint64(gas),
	)
	return ledger.Handle{TxHash: hash, Identity: identity, Nonce: nonce, Op: op}, nil
}

type rpcReceipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	Status      hexutil.Uint64 `json:"status"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
}

// AwaitConfirmation polls for the receipt until it lands or the timeout expires.
func (c *Client) AwaitConfirmation(ctx context.Context, h ledger.Handle) (*ledger.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ConfirmationPoll)
	defer ticker.Stop()

	for {
		var r *rpcReceipt
		if err := c.rpc.Call(ctx, &r, "eth_getTransactionReceipt", h.TxHash); err != nil {
			c.log.Debug("Receipt poll failed", "tx", h.TxHash.Hex(), "error", err)
		} else if r != nil {
			if r.Status == 0 {
				return nil, &ledger.RejectedError{Reason: "transaction reverted"}
			}
			return &ledger.Receipt{
				TxHash:      h.TxHash,
				BlockNumber: uint64(r.BlockNumber),
				Identity:    h.Identity,
				Nonce:       h.Nonce,
				GasUsed:     uint64(r.GasUsed),
				ConfirmedAt: time.Now(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: awaiting %s: %v", ledger.ErrTransient, h.TxHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
