package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	p1 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	p2 = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestParseMatchID(t *testing.T) {
	named := ParseMatchID("match-42")
	if named != MatchID(crypto.Keccak256Hash([]byte("match-42"))) {
		t.Errorf("name not hashed: %s", named.Hex())
	}
	if named != DeriveMatchID("match-42") {
		t.Error("ParseMatchID and DeriveMatchID disagree")
	}

	raw := named.Hex()
	if got := ParseMatchID(raw); got != named {
		t.Errorf("hex key not used verbatim: %s", got.Hex())
	}

	// Short hex strings are names, not keys.
	if got := ParseMatchID("0x1234"); got != DeriveMatchID("0x1234") {
		t.Errorf("short hex should be hashed, got %s", got.Hex())
	}
	if !(MatchID{}).IsZero() || named.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestMatchStatus(t *testing.T) {
	tests := []struct {
		status   MatchStatus
		name     string
		rank     int
		terminal bool
	}{
		{MatchStatusPending, "PENDING", 0, false},
		{MatchStatusStaked, "STAKED", 1, false},
		{MatchStatusSettled, "SETTLED", 2, true},
		{MatchStatusRefunded, "REFUNDED", 2, true},
	}
	for _, tt := range tests {
		if tt.status.String() != tt.name {
			t.Errorf("%d: name %s, want %s", tt.status, tt.status, tt.name)
		}
		if tt.status.Rank() != tt.rank || tt.status.Terminal() != tt.terminal {
			t.Errorf("%s: rank %d terminal %v", tt.name, tt.status.Rank(), tt.status.Terminal())
		}
		parsed, err := ParseMatchStatus(tt.name)
		if err != nil || parsed != tt.status {
			t.Errorf("ParseMatchStatus(%s) = %v, %v", tt.name, parsed, err)
		}
	}
	if MatchStatus(9).String() != "UNKNOWN" {
		t.Error("out of range status should be UNKNOWN")
	}
	if _, err := ParseMatchStatus("LIVE"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestMatchRecord_Advance(t *testing.T) {
	r := &MatchRecord{Status: MatchStatusPending}
	if !r.Advance(MatchStatusStaked) || r.Status != MatchStatusStaked {
		t.Fatalf("PENDING -> STAKED should advance, got %s", r.Status)
	}
	if r.Advance(MatchStatusPending) {
		t.Error("STAKED -> PENDING must be ignored")
	}
	if !r.Advance(MatchStatusSettled) {
		t.Error("STAKED -> SETTLED should advance")
	}
	if r.Advance(MatchStatusRefunded) || r.Status != MatchStatusSettled {
		t.Errorf("terminal status must not change, got %s", r.Status)
	}
}

func TestMatchRecord_Stakers(t *testing.T) {
	r := &MatchRecord{Stakers: []common.Address{p1}}
	if r.Player1Staked() {
		t.Error("unknown match reports staked")
	}
	r.Player1, r.Player2 = p1, p2
	if !r.Known() || !r.Player1Staked() || r.Player2Staked() {
		t.Errorf("stake flags wrong: %v %v", r.Player1Staked(), r.Player2Staked())
	}
}

func TestMatch_Participants(t *testing.T) {
	var missing *Match
	if missing.Exists() || missing.IsParticipant(p1) {
		t.Error("nil match must not exist")
	}

	m := &Match{Player1: p1, Player2: p2, Stake: big.NewInt(1), Player2Staked: true, StartTime: time.Now()}
	if !m.Exists() || !m.IsParticipant(p2) {
		t.Error("participants not recognised")
	}
	if m.IsParticipant(common.HexToAddress("0xc3")) {
		t.Error("stranger recognised as participant")
	}
	if m.HasStaked(p1) || !m.HasStaked(p2) {
		t.Error("stake flags not mirrored")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want common.Address
		ok   bool
	}{
		{" 0x00000000000000000000000000000000000000a1 ", p1, true},
		{"00000000000000000000000000000000000000a1", common.Address{}, false},
		{"0x1234", common.Address{}, false},
		{"0x0000000000000000000000000000000000000000", common.Address{}, false},
		{"", common.Address{}, false},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("ParseAddress(%q) err = %v", tt.in, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Errorf("ParseAddress(%q) error is not a validation error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseAddress(%q) = %s", tt.in, got.Hex())
		}
	}
}

func TestTokenAmount(t *testing.T) {
	ten, err := ParseTokenAmount("10")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := new(big.Int).SetString("10000000000000000000", 10)
	if ten.Cmp(want) != 0 {
		t.Errorf("10 GT = %s", ten)
	}
	if got := FormatTokenAmount(ten); got != "10" {
		t.Errorf("format = %s", got)
	}

	half, err := ParseTokenAmount("0.5")
	if err != nil || FormatTokenAmount(half) != "0.5" {
		t.Errorf("0.5 round trip: %v %s", err, FormatTokenAmount(half))
	}

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	top, err := ParseTokenAmount(FormatTokenAmount(maxUint256))
	if err != nil || top.Cmp(maxUint256) != 0 {
		t.Errorf("max uint256 round trip: %v %s", err, top)
	}

	for _, bad := range []string{"abc", "", "0.0000000000000000001", "1e80", "115792089237316195423570985008687907853269984665640564039458"} {
		if _, err := ParseTokenAmount(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseTokenAmount(%q) err = %v", bad, err)
		}
	}

	if FormatTokenAmount(nil) != "0" {
		t.Error("nil amount should format as 0")
	}
	if FormatUnits(big.NewInt(1_500_000), 6) != "1.5" {
		t.Error("USDT formatting wrong")
	}
	if AddAmount(nil, big.NewInt(3)).Int64() != 3 {
		t.Error("AddAmount with nil")
	}
}

func TestPlayer_Apply(t *testing.T) {
	p := &Player{Address: p1}
	at := time.Unix(100, 0)
	p.Apply(PlayerDelta{Matches: 1, Staked: big.NewInt(10)}, at)
	p.Apply(PlayerDelta{Wins: 1, Won: big.NewInt(20)}, at.Add(time.Second))

	if p.TotalMatches != 1 || p.TotalWins != 1 {
		t.Errorf("counts = %d/%d", p.TotalMatches, p.TotalWins)
	}
	if p.TotalWon.Int64() != 20 || p.TotalStaked.Int64() != 10 {
		t.Errorf("amounts = %s/%s", p.TotalWon, p.TotalStaked)
	}
	if !p.LastUpdated.Equal(at.Add(time.Second)) {
		t.Errorf("last updated = %v", p.LastUpdated)
	}
}

func TestOpError(t *testing.T) {
	cause := errors.New("execution reverted")
	err := &OpError{Op: "commitResult", MatchID: "M1", Kind: ErrLedger, Reason: "paused", Err: cause}

	if !errors.Is(err, ErrLedger) || !errors.Is(err, cause) {
		t.Error("OpError should unwrap to kind and cause")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("unexpected kind match")
	}
	if got := err.Error(); got != "commitResult M1: paused: execution reverted" {
		t.Errorf("message = %q", got)
	}

	bare := &OpError{Op: "stake", Kind: ErrNotFound}
	if !errors.Is(bare, ErrNotFound) || bare.Error() != "stake" {
		t.Errorf("bare error = %q", bare.Error())
	}

	if v := Validationf("bad %s", "input"); !errors.Is(v, ErrValidation) {
		t.Error("Validationf must wrap ErrValidation")
	}
}

func TestLedgerEvent_OccurredAt(t *testing.T) {
	recorded := time.Unix(50, 0)
	ev := &LedgerEvent{RecordedAt: recorded}
	if !ev.OccurredAt().Equal(recorded) {
		t.Error("should fall back to recorded time")
	}
	ev.BlockTime = time.Unix(40, 0)
	if !ev.OccurredAt().Equal(ev.BlockTime) {
		t.Error("should prefer block time")
	}
	tx := common.Hash{1}
	key := EventKey{TxHash: tx, LogIndex: 3}
	if key.String() != tx.Hex()+":3" {
		t.Errorf("key = %s", key)
	}
}
