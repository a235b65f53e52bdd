package match

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

// Decision is the readiness verdict for settling a match.
type Decision string

const (
	Ready    Decision = "READY"
	NotReady Decision = "NOT_READY"
)

// Reasons reported with a NOT_READY decision.
const (
	ReasonNotFound         = "not found"
	ReasonNotParticipant   = "not a participant"
	ReasonNotBothStaked    = "not both staked yet"
	ReasonAlreadySettled   = "already settled"
	ReasonAlreadyRefunded  = "already refunded"
	ReasonUnexpectedStatus = "unexpected status"
)

// Preflight is the settlement decision together with the state it was computed from.
type Preflight struct {
	Decision      Decision `json:"decision"`
	Reason        string   `json:"reason,omitempty"`
	MatchID       string   `json:"matchId"`
	Winner        string   `json:"winner"`
	Exists        bool     `json:"exists"`
	Status        string   `json:"status,omitempty"`
	Player1       string   `json:"player1,omitempty"`
	Player2       string   `json:"player2,omitempty"`
	Player1Staked bool     `json:"player1Staked"`
	Player2Staked bool     `json:"player2Staked"`
	Stake         string   `json:"stake,omitempty"`
}

// Ready reports whether the decision allows settlement.
func (p *Preflight) Ready() bool { return p.Decision == Ready }

// Decide evaluates whether m can be settled in favour of winner. It has no
// side effects; m is nil for a match the ledger does not know.
func Decide(id domain.MatchID, m *domain.Match, winner common.Address) Preflight {
	p := Preflight{
		MatchID: id.Hex(),
		Winner:  winner.Hex(),
	}

	if !m.Exists() {
		return notReady(p, ReasonNotFound)
	}
	p.Exists = true
	p.Status = m.Status.String()
	p.Player1 = m.Player1.Hex()
	p.Player2 = m.Player2.Hex()
	p.Player1Staked = m.Player1Staked
	p.Player2Staked = m.Player2Staked
	p.Stake = domain.FormatTokenAmount(m.Stake)

	if winner != m.Player1 && winner != m.Player2 {
		return notReady(p, ReasonNotParticipant)
	}

	switch m.Status {
	case domain.MatchStatusStaked:
		p.Decision = Ready
		return p
	case domain.MatchStatusPending:
		return notReady(p, ReasonNotBothStaked)
	case domain.MatchStatusSettled:
		return notReady(p, ReasonAlreadySettled)
	case domain.MatchStatusRefunded:
		return notReady(p, ReasonAlreadyRefunded)
	default:
		return notReady(p, ReasonUnexpectedStatus)
	}
}

func notReady(p Preflight, reason string) Preflight {
	p.Decision = NotReady
	p.Reason = reason
	return p
}

// kind maps a NOT_READY reason onto the domain error taxonomy.
func kind(reason string) error {
	if reason == ReasonNotFound {
		return domain.ErrNotFound
	}
	return domain.ErrStateConflict
}
