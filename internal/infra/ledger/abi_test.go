package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

var (
	testGame  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	testStore = common.HexToAddress("0x0000000000000000000000000000000000000a02")
)

func TestLogDecoder_Decode(t *testing.T) {
	decoder := NewLogDecoder(testGame, testStore)
	id := domain.DeriveMatchID("decode")
	p1 := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	p2 := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	tests := []struct {
		name     string
		typ      domain.EventType
		contract common.Address
		values   []any
		check    func(t *testing.T, ev *domain.LedgerEvent)
	}{
		{
			name: "match created", typ: domain.EventTypeMatchCreated, contract: testGame,
			values: []any{p1, p2, big.NewInt(10)},
			check: func(t *testing.T, ev *domain.LedgerEvent) {
				if ev.Player != p1 || ev.Counterparty != p2 || ev.Amount.Int64() != 10 {
					t.Errorf("unexpected fields: %+v", ev)
				}
				if ev.MatchID != id {
					t.Errorf("expected match id %s, got %s", id, ev.MatchID)
				}
			},
		},
		{
			name: "settled", typ: domain.EventTypeSettled, contract: testGame,
			values: []any{p1, big.NewInt(20)},
			check: func(t *testing.T, ev *domain.LedgerEvent) {
				if ev.Player != p1 || ev.Amount.Int64() != 20 {
					t.Errorf("unexpected fields: %+v", ev)
				}
			},
		},
		{
			name: "purchase", typ: domain.EventTypePurchase, contract: testStore,
			values: []any{p2, big.NewInt(1_000_000), big.NewInt(5)},
			check: func(t *testing.T, ev *domain.LedgerEvent) {
				if ev.Player != p2 || ev.PaidAmount.Int64() != 1_000_000 || ev.Amount.Int64() != 5 {
					t.Errorf("unexpected fields: %+v", ev)
				}
				if !ev.MatchID.IsZero() {
					t.Errorf("purchase carries no match id")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeLog(tt.typ, tt.contract, id, tt.values...)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			raw.TxHash = common.HexToHash("0x1234")
			raw.LogIndex = 2
			raw.BlockNumber = 99

			ev, err := decoder.Decode(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev == nil {
				t.Fatal("expected event")
			}
			if ev.Type != tt.typ {
				t.Errorf("expected type %s, got %s", tt.typ, ev.Type)
			}
			if ev.Key.LogIndex != 2 || ev.BlockNumber != 99 {
				t.Errorf("provenance lost: %+v", ev.Key)
			}
			tt.check(t, ev)
		})
	}
}

func TestLogDecoder_IgnoresForeignLogs(t *testing.T) {
	decoder := NewLogDecoder(testGame, testStore)

	raw, _ := EncodeLog(domain.EventTypeStaked, testGame, domain.DeriveMatchID("x"), common.Address{}, big.NewInt(1))
	raw.Contract = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	if ev, err := decoder.Decode(raw); ev != nil || err != nil {
		t.Errorf("expected foreign contract to be ignored, got %v %v", ev, err)
	}

	raw.Contract = testGame
	raw.Topics[0] = common.HexToHash("0xdeadbeef")
	if ev, err := decoder.Decode(raw); ev != nil || err != nil {
		t.Errorf("expected unknown topic to be ignored, got %v %v", ev, err)
	}
}

func TestEncodeCall_Targets(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000a03")

	to, data, err := EncodeCall(Operation{Kind: OpStake, MatchID: domain.DeriveMatchID("m")}, testGame, token)
	if err != nil {
		t.Fatalf("encode stake: %v", err)
	}
	if to != testGame || len(data) != 4+32 {
		t.Errorf("unexpected stake call to %s len %d", to.Hex(), len(data))
	}

	to, _, err = EncodeCall(Operation{Kind: OpApprove, Spender: testGame, Amount: big.NewInt(1)}, testGame, token)
	if err != nil {
		t.Fatalf("encode approve: %v", err)
	}
	if to != token {
		t.Errorf("approve must target the token, got %s", to.Hex())
	}

	if _, _, err := EncodeCall(Operation{Kind: "bogus"}, testGame, token); err == nil {
		t.Error("expected error for unknown operation")
	}
}
