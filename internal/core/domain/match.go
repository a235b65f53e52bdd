package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MatchID is the 32-byte key the settlement contract stores a match under.
type MatchID common.Hash

// DeriveMatchID hashes a human-readable match name into its ledger key (keccak256 of the UTF-8 bytes).
func DeriveMatchID(name string) MatchID {
	return MatchID(crypto.Keccak256Hash([]byte(name)))
}

// ParseMatchID accepts either a 0x-prefixed 32-byte hex key or a match name.
func ParseMatchID(s string) MatchID {
	if len(s) == 66 && strings.HasPrefix(s, "0x") {
		if b, err := hexBytes(s); err == nil && len(b) == 32 {
			return MatchID(common.BytesToHash(b))
		}
	}
	return DeriveMatchID(s)
}

func (id MatchID) Hex() string    { return common.Hash(id).Hex() }
func (id MatchID) String() string { return id.Hex() }
func (id MatchID) IsZero() bool   { return id == MatchID{} }

type MatchStatus uint8

const (
	MatchStatusPending MatchStatus = iota
	MatchStatusStaked
	MatchStatusSettled
	MatchStatusRefunded
)

var matchStatusNames = [...]string{"PENDING", "STAKED", "SETTLED", "REFUNDED"}

func (s MatchStatus) String() string {
	if int(s) < len(matchStatusNames) {
		return matchStatusNames[s]
	}
	return "UNKNOWN"
}

// ParseMatchStatus parses the upper-case status name.
func ParseMatchStatus(s string) (MatchStatus, error) {
	for i, name := range matchStatusNames {
		if strings.EqualFold(name, s) {
			return MatchStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown match status %q", s)
}

// Rank orders statuses along the lifecycle. SETTLED and REFUNDED share the terminal rank.
func (s MatchStatus) Rank() int {
	switch s {
	case MatchStatusPending:
		return 0
	case MatchStatusStaked:
		return 1
	default:
		return 2
	}
}

func (s MatchStatus) Terminal() bool { return s.Rank() == 2 }

// Match is the ledger's view of a match, as returned by the settlement contract.
type Match struct {
	ID            MatchID
	Player1       common.Address
	Player2       common.Address
	Stake         *big.Int
	Status        MatchStatus
	StartTime     time.Time
	Player1Staked bool
	Player2Staked bool
}

// Exists reports whether both participant slots are filled.
func (m *Match) Exists() bool {
	return m != nil && m.Player1 != (common.Address{}) && m.Player2 != (common.Address{})
}

func (m *Match) IsParticipant(addr common.Address) bool {
	return m.Exists() && (addr == m.Player1 || addr == m.Player2)
}

// HasStaked reports the stake flag of the given participant.
func (m *Match) HasStaked(addr common.Address) bool {
	switch addr {
	case m.Player1:
		return m.Player1Staked
	case m.Player2:
		return m.Player2Staked
	}
	return false
}

// MatchRecord is the projected read model of a match.
type MatchRecord struct {
	ID        MatchID
	Player1   common.Address
	Player2   common.Address
	Stake     *big.Int
	Status    MatchStatus
	Stakers   []common.Address
	Winner    *common.Address
	CreatedAt time.Time
	SettledAt *time.Time
	UpdatedAt time.Time
}

// HasStaker reports whether addr has a recorded Staked event for this match.
func (r *MatchRecord) HasStaker(addr common.Address) bool {
	for _, s := range r.Stakers {
		if s == addr {
			return true
		}
	}
	return false
}

// Known reports whether the MatchCreated event has been projected.
func (r *MatchRecord) Known() bool {
	return r.Player1 != (common.Address{}) && r.Player2 != (common.Address{})
}

// Advance moves the status forward. Lower or equal ranks are ignored.
func (r *MatchRecord) Advance(to MatchStatus) bool {
	if to.Rank() <= r.Status.Rank() {
		return false
	}
	r.Status = to
	return true
}

// Player1Staked and Player2Staked mirror the ledger's per-slot flags.
func (r *MatchRecord) Player1Staked() bool { return r.Known() && r.HasStaker(r.Player1) }
func (r *MatchRecord) Player2Staked() bool { return r.Known() && r.HasStaker(r.Player2) }
