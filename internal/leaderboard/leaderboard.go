// Package leaderboard serves read-only rankings over the player aggregates.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Entry is a ranked player row.
type Entry struct {
	Rank          int       `json:"rank,omitempty"`
	Address       string    `json:"address"`
	TotalMatches  int64     `json:"total_matches"`
	TotalWins     int64     `json:"total_wins"`
	TotalGTWon    string    `json:"total_gt_won"`
	TotalGTStaked string    `json:"total_gt_staked"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Stats is the lookup result for one identity. Unknown players are reported
// with Found=false rather than an error.
type Stats struct {
	Found   bool   `json:"-"`
	Address string `json:"address"`
	Message string `json:"message,omitempty"`
	*Entry
}

// Service answers leaderboard queries.
type Service struct {
	players storage.PlayerRepository
}

func New(players storage.PlayerRepository) *Service {
	return &Service{players: players}
}

// TopPlayers returns players by cumulative amount won, highest first, ties by
// address. A non-positive limit uses DefaultLimit; larger than MaxLimit is capped.
func (s *Service) TopPlayers(ctx context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	players, err := s.players.Top(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	out := make([]Entry, 0, len(players))
	for i, p := range players {
		e := toEntry(p)
		e.Rank = i + 1
		out = append(out, e)
	}
	return out, nil
}

// PlayerStats returns the aggregate of address.
func (s *Service) PlayerStats(ctx context.Context, address string) (*Stats, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	p, err := s.players.Get(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to load player %s: %w", addr.Hex(), err)
	}
	if p == nil {
		return &Stats{Address: addr.Hex(), Message: "Player not found"}, nil
	}
	e := toEntry(p)
	return &Stats{Found: true, Address: e.Address, Entry: &e}, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func toEntry(p *domain.Player) Entry {
	return Entry{
		Address:       p.Address.Hex(),
		TotalMatches:  p.TotalMatches,
		TotalWins:     p.TotalWins,
		TotalGTWon:    domain.FormatTokenAmount(p.TotalWon),
		TotalGTStaked: domain.FormatTokenAmount(p.TotalStaked),
		LastUpdated:   p.LastUpdated,
	}
}
