package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Player is the per-identity aggregate owned by the event projector.
type Player struct {
	Address      common.Address
	TotalMatches int64
	TotalWins    int64
	TotalWon     *big.Int
	TotalStaked  *big.Int
	LastUpdated  time.Time
}

// PlayerDelta is an incremental update folded into a Player aggregate.
type PlayerDelta struct {
	Matches int64
	Wins    int64
	Won     *big.Int
	Staked  *big.Int
}

// Apply folds d into p.
func (p *Player) Apply(d PlayerDelta, at time.Time) {
	p.TotalMatches += d.Matches
	p.TotalWins += d.Wins
	p.TotalWon = AddAmount(p.TotalWon, d.Won)
	p.TotalStaked = AddAmount(p.TotalStaked, d.Staked)
	p.LastUpdated = at
}
