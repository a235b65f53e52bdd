package match

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

var (
	backend = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func ledgerMatch(status domain.MatchStatus, s1, s2 bool) *domain.Match {
	return &domain.Match{
		ID:            domain.DeriveMatchID("M1"),
		Player1:       alice,
		Player2:       bob,
		Stake:         big.NewInt(10),
		Status:        status,
		Player1Staked: s1,
		Player2Staked: s2,
	}
}

func TestDecide(t *testing.T) {
	id := domain.DeriveMatchID("M1")

	tests := []struct {
		name     string
		match    *domain.Match
		winner   common.Address
		decision Decision
		reason   string
	}{
		{"unknown match", nil, alice, NotReady, ReasonNotFound},
		{"empty slots", &domain.Match{}, alice, NotReady, ReasonNotFound},
		{"winner not a participant", ledgerMatch(domain.MatchStatusStaked, true, true), carol, NotReady, ReasonNotParticipant},
		{"participant check before status", ledgerMatch(domain.MatchStatusSettled, true, true), carol, NotReady, ReasonNotParticipant},
		{"pending", ledgerMatch(domain.MatchStatusPending, true, false), alice, NotReady, ReasonNotBothStaked},
		{"settled", ledgerMatch(domain.MatchStatusSettled, true, true), alice, NotReady, ReasonAlreadySettled},
		{"refunded", ledgerMatch(domain.MatchStatusRefunded, true, false), bob, NotReady, ReasonAlreadyRefunded},
		{"staked player1", ledgerMatch(domain.MatchStatusStaked, true, true), alice, Ready, ""},
		{"staked player2", ledgerMatch(domain.MatchStatusStaked, true, true), bob, Ready, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(id, tt.match, tt.winner)
			if got.Decision != tt.decision {
				t.Errorf("decision = %s, want %s", got.Decision, tt.decision)
			}
			if got.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.MatchID != id.Hex() {
				t.Errorf("matchId = %s, want %s", got.MatchID, id.Hex())
			}
		})
	}
}

func TestDecide_IsDeterministic(t *testing.T) {
	id := domain.DeriveMatchID("M1")
	m := ledgerMatch(domain.MatchStatusStaked, true, true)

	first := Decide(id, m, alice)
	for i := 0; i < 5; i++ {
		if got := Decide(id, m, alice); got != first {
			t.Fatalf("run %d: %+v, want %+v", i, got, first)
		}
	}
	if m.Status != domain.MatchStatusStaked || !m.Player1Staked {
		t.Fatal("input was mutated")
	}
}

func TestDecide_PayloadCarriesLedgerState(t *testing.T) {
	m := ledgerMatch(domain.MatchStatusPending, true, false)
	got := Decide(m.ID, m, bob)

	if !got.Exists || got.Status != "PENDING" {
		t.Errorf("unexpected state %+v", got)
	}
	if !got.Player1Staked || got.Player2Staked {
		t.Errorf("stake flags = %v/%v", got.Player1Staked, got.Player2Staked)
	}
	if got.Player1 != alice.Hex() || got.Winner != bob.Hex() {
		t.Errorf("addresses = %s/%s", got.Player1, got.Winner)
	}
}
