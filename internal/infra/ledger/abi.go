package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vietddude/stakeplay/internal/core/domain"
)

const playGameJSON = `[
{"type":"function","name":"createMatch","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"},{"name":"p1","type":"address"},{"name":"p2","type":"address"},{"name":"stake","type":"uint256"}],"outputs":[]},
{"type":"function","name":"commitResult","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"},{"name":"winner","type":"address"}],"outputs":[]},
{"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"getMatch","stateMutability":"view","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[{"name":"player1","type":"address"},{"name":"player2","type":"address"},{"name":"stake","type":"uint256"},{"name":"status","type":"uint8"},{"name":"startTime","type":"uint256"},{"name":"player1Staked","type":"bool"},{"name":"player2Staked","type":"bool"}]},
{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"event","name":"MatchCreated","anonymous":false,"inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"player1","type":"address","indexed":false},{"name":"player2","type":"address","indexed":false},{"name":"stake","type":"uint256","indexed":false}]},
{"type":"event","name":"Staked","anonymous":false,"inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"player","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"Settled","anonymous":false,"inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"winner","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"Refunded","anonymous":false,"inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"player","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}
]`

const tokenStoreJSON = `[
{"type":"function","name":"buy","stateMutability":"nonpayable","inputs":[{"name":"usdtAmount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"gtPerUsdt","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"Purchase","anonymous":false,"inputs":[{"name":"buyer","type":"address","indexed":false},{"name":"usdtAmount","type":"uint256","indexed":false},{"name":"gtAmount","type":"uint256","indexed":false}]}
]`

const gameTokenJSON = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	PlayGameABI   = mustParseABI(playGameJSON)
	TokenStoreABI = mustParseABI(tokenStoreJSON)
	GameTokenABI  = mustParseABI(gameTokenJSON)
)

// USDTDecimals is the payment token precision used by Purchase events.
const USDTDecimals = 6

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid contract abi: %v", err))
	}
	return parsed
}

func eventABI(t domain.EventType) (abi.ABI, bool) {
	if t == domain.EventTypePurchase {
		return TokenStoreABI, true
	}
	_, ok := PlayGameABI.Events[string(t)]
	return PlayGameABI, ok
}

// EventID returns topic0 of a domain event type.
func EventID(t domain.EventType) common.Hash {
	parsed, ok := eventABI(t)
	if !ok {
		return common.Hash{}
	}
	return parsed.Events[string(t)].ID
}

// AllEvents lists every event type the projector consumes.
func AllEvents() []domain.EventType {
	return []domain.EventType{
		domain.EventTypeMatchCreated,
		domain.EventTypeStaked,
		domain.EventTypeSettled,
		domain.EventTypeRefunded,
		domain.EventTypePurchase,
	}
}

// EncodeCall ABI-encodes op as calldata and returns the contract it targets.
func EncodeCall(op Operation, game, token common.Address) (common.Address, []byte, error) {
	var (
		data []byte
		err  error
		to   = game
	)
	switch op.Kind {
	case OpCreateMatch:
		data, err = PlayGameABI.Pack("createMatch", [32]byte(op.MatchID), op.Player1, op.Player2, op.Amount)
	case OpStake:
		data, err = PlayGameABI.Pack("stake", [32]byte(op.MatchID))
	case OpCommitResult:
		data, err = PlayGameABI.Pack("commitResult", [32]byte(op.MatchID), op.Winner)
	case OpRefund:
		data, err = PlayGameABI.Pack("refund", [32]byte(op.MatchID))
	case OpApprove:
		to = token
		data, err = GameTokenABI.Pack("approve", op.Spender, op.Amount)
	case OpTransferToken:
		to = token
		data, err = GameTokenABI.Pack("transfer", op.To, op.Amount)
	default:
		return common.Address{}, nil, fmt.Errorf("unsupported operation %q", op.Kind)
	}
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("encode %s: %w", op.Kind, err)
	}
	return to, data, nil
}

// EncodeLog builds the raw log entry a contract emits for the given event.
// values are the non-indexed arguments in declaration order.
func EncodeLog(t domain.EventType, contract common.Address, matchID domain.MatchID, values ...any) (RawLog, error) {
	parsed, ok := eventABI(t)
	if !ok {
		return RawLog{}, fmt.Errorf("unknown event %q", t)
	}
	ev := parsed.Events[string(t)]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return RawLog{}, fmt.Errorf("encode %s: %w", t, err)
	}
	topics := []common.Hash{ev.ID}
	if t != domain.EventTypePurchase {
		topics = append(topics, common.Hash(matchID))
	}
	return RawLog{Contract: contract, Topics: topics, Data: data}, nil
}

// LogDecoder maps raw logs from the known contracts onto domain events.
type LogDecoder struct {
	game  common.Address
	store common.Address
}

func NewLogDecoder(game, store common.Address) *LogDecoder {
	return &LogDecoder{game: game, store: store}
}

// Decode returns (nil, nil) for logs that are not domain events.
func (d *LogDecoder) Decode(l RawLog) (*domain.LedgerEvent, error) {
	if len(l.Topics) == 0 {
		return nil, nil
	}

	var parsed abi.ABI
	switch l.Contract {
	case d.game:
		parsed = PlayGameABI
	case d.store:
		parsed = TokenStoreABI
	default:
		return nil, nil
	}

	ev, err := parsed.EventByID(l.Topics[0])
	if err != nil {
		return nil, nil
	}

	values, err := ev.Inputs.Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s at %s:%d: %w", ev.Name, l.TxHash.Hex(), l.LogIndex, err)
	}

	out := &domain.LedgerEvent{
		Key:         domain.EventKey{TxHash: l.TxHash, LogIndex: l.LogIndex},
		Type:        domain.EventType(ev.Name),
		Contract:    l.Contract,
		BlockNumber: l.BlockNumber,
		BlockTime:   l.BlockTime,
	}

	if out.Type != domain.EventTypePurchase {
		if len(l.Topics) < 2 {
			return nil, fmt.Errorf("decode %s at %s:%d: missing matchId topic", ev.Name, l.TxHash.Hex(), l.LogIndex)
		}
		out.MatchID = domain.MatchID(l.Topics[1])
	}

	switch out.Type {
	case domain.EventTypeMatchCreated:
		if len(values) != 3 {
			return nil, fmt.Errorf("decode %s: unexpected arity %d", ev.Name, len(values))
		}
		out.Player, _ = values[0].(common.Address)
		out.Counterparty, _ = values[1].(common.Address)
		out.Amount, _ = values[2].(*big.Int)
	case domain.EventTypePurchase:
		if len(values) != 3 {
			return nil, fmt.Errorf("decode %s: unexpected arity %d", ev.Name, len(values))
		}
		out.Player, _ = values[0].(common.Address)
		out.PaidAmount, _ = values[1].(*big.Int)
		out.Amount, _ = values[2].(*big.Int)
	default:
		if len(values) != 2 {
			return nil, fmt.Errorf("decode %s: unexpected arity %d", ev.Name, len(values))
		}
		out.Player, _ = values[0].(common.Address)
		out.Amount, _ = values[1].(*big.Int)
	}

	return out, nil
}
