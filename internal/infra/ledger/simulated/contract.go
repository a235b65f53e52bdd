package simulated

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
)

func revert(reason string) error {
	return &ledger.RejectedError{Reason: reason}
}

// execute applies op as sent by from. State is only mutated when every
// require passes.
func (l *Ledger) execute(from common.Address, op ledger.Operation) ([]ledger.RawLog, error) {
	switch op.Kind {
	case ledger.OpCreateMatch:
		return l.createMatch(from, op)
	case ledger.OpStake:
		return l.stake(from, op.MatchID)
	case ledger.OpCommitResult:
		return l.commitResult(from, op.MatchID, op.Winner)
	case ledger.OpRefund:
		return l.refund(from, op.MatchID)
	case ledger.OpApprove:
		if op.Amount == nil || op.Amount.Sign() < 0 {
			return nil, revert("ERC20: invalid amount")
		}
		l.allowances[allowanceKey{from, op.Spender}] = new(big.Int).Set(op.Amount)
		return nil, nil
	case ledger.OpTransferToken:
		if op.Amount == nil || l.balance(from).Cmp(op.Amount) < 0 {
			return nil, revert("ERC20: transfer amount exceeds balance")
		}
		l.moveTokens(from, op.To, op.Amount)
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported operation %q", op.Kind)
}

func (l *Ledger) createMatch(from common.Address, op ledger.Operation) ([]ledger.RawLog, error) {
	if from != l.owner {
		return nil, revert("Ownable: caller is not the owner")
	}
	if _, exists := l.matches[op.MatchID]; exists {
		return nil, revert("Match already exists")
	}
	zero := common.Address{}
	if op.Player1 == zero || op.Player2 == zero || op.Player1 == op.Player2 {
		return nil, revert("Invalid players")
	}
	if op.Amount == nil || op.Amount.Sign() <= 0 {
		return nil, revert("Stake must be greater than 0")
	}

	raw, err := ledger.EncodeLog(domain.EventTypeMatchCreated, GameAddress, op.MatchID, op.Player1, op.Player2, op.Amount)
	if err != nil {
		return nil, err
	}
	l.matches[op.MatchID] = &domain.Match{
		ID:        op.MatchID,
		Player1:   op.Player1,
		Player2:   op.Player2,
		Stake:     new(big.Int).Set(op.Amount),
		Status:    domain.MatchStatusPending,
		StartTime: l.now(),
	}
	return []ledger.RawLog{raw}, nil
}

func (l *Ledger) stake(from common.Address, id domain.MatchID) ([]ledger.RawLog, error) {
	m, ok := l.matches[id]
	if !ok {
		return nil, revert("Match does not exist")
	}
	if !m.IsParticipant(from) {
		return nil, revert("Not a player")
	}
	if m.Status != domain.MatchStatusPending {
		return nil, revert("Match not pending")
	}
	if m.HasStaked(from) {
		return nil, revert("Already staked")
	}
	if l.allowance(from, GameAddress).Cmp(m.Stake) < 0 {
		return nil, revert("ERC20: insufficient allowance")
	}
	if l.balance(from).Cmp(m.Stake) < 0 {
		return nil, revert("ERC20: transfer amount exceeds balance")
	}

	raw, err := ledger.EncodeLog(domain.EventTypeStaked, GameAddress, id, from, m.Stake)
	if err != nil {
		return nil, err
	}
	l.allowances[allowanceKey{from, GameAddress}] = new(big.Int).Sub(l.allowance(from, GameAddress), m.Stake)
	l.moveTokens(from, GameAddress, m.Stake)
	if from == m.Player1 {
		m.Player1Staked = true
	} else {
		m.Player2Staked = true
	}
	if m.Player1Staked && m.Player2Staked {
		m.Status = domain.MatchStatusStaked
	}
	return []ledger.RawLog{raw}, nil
}

func (l *Ledger) commitResult(from common.Address, id domain.MatchID, winner common.Address) ([]ledger.RawLog, error) {
	if from != l.owner {
		return nil, revert("Ownable: caller is not the owner")
	}
	m, ok := l.matches[id]
	if !ok {
		return nil, revert("Match does not exist")
	}
	if m.Status != domain.MatchStatusStaked {
		return nil, revert("Match not staked")
	}
	if !m.IsParticipant(winner) {
		return nil, revert("Invalid winner")
	}

	pot := new(big.Int).Mul(m.Stake, big.NewInt(2))
	raw, err := ledger.EncodeLog(domain.EventTypeSettled, GameAddress, id, winner, pot)
	if err != nil {
		return nil, err
	}
	l.moveTokens(GameAddress, winner, pot)
	m.Status = domain.MatchStatusSettled
	return []ledger.RawLog{raw}, nil
}

// refund returns each participant's stake and emits one Refunded per
// participant, with a zero amount for a participant who never staked.
func (l *Ledger) refund(from common.Address, id domain.MatchID) ([]ledger.RawLog, error) {
	if from != l.owner {
		return nil, revert("Ownable: caller is not the owner")
	}
	m, ok := l.matches[id]
	if !ok {
		return nil, revert("Match does not exist")
	}
	if m.Status.Terminal() {
		return nil, revert("Match already finalized")
	}

	var logs []ledger.RawLog
	for _, p := range []common.Address{m.Player1, m.Player2} {
		amount := new(big.Int)
		if m.HasStaked(p) {
			amount.Set(m.Stake)
		}
		raw, err := ledger.EncodeLog(domain.EventTypeRefunded, GameAddress, id, p, amount)
		if err != nil {
			return nil, err
		}
		logs = append(logs, raw)
	}
	for _, p := range []common.Address{m.Player1, m.Player2} {
		if m.HasStaked(p) {
			l.moveTokens(GameAddress, p, m.Stake)
		}
	}
	m.Status = domain.MatchStatusRefunded
	return logs, nil
}

func (l *Ledger) moveTokens(from, to common.Address, amount *big.Int) {
	l.balances[from] = new(big.Int).Sub(l.balance(from), amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
}
