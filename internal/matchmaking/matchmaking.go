// Package matchmaking pairs players that request the same stake and creates
// their match through the coordinator.
package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/indexing/metrics"
	"github.com/vietddude/stakeplay/internal/match"
)

// Creator creates a match for a pair.
type Creator interface {
	CreateMatch(ctx context.Context, matchID, player1, player2, stake string) (*match.Result, error)
}

// Pairing is the match formed from two tickets.
type Pairing struct {
	MatchID string `json:"matchId"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
	Stake   string `json:"stake"`
}

// JoinResult reports whether the player is waiting or was paired.
type JoinResult struct {
	Queued       bool          `json:"queued"`
	Ticket       *Ticket       `json:"ticket,omitempty"`
	MatchCreated bool          `json:"matchCreated"`
	Match        *Pairing      `json:"match,omitempty"`
	Result       *match.Result `json:"result,omitempty"`
}

// Service pairs join requests per stake tier.
type Service struct {
	queue   Queue
	creator Creator
	log     *slog.Logger
	now     func() time.Time

	// mu keeps pop-then-push of one join from interleaving with another.
	mu sync.Mutex
}

func NewService(queue Queue, creator Creator) *Service {
	return &Service{
		queue:   queue,
		creator: creator,
		log:     slog.Default().With("component", "matchmaking"),
		now:     time.Now,
	}
}

// Join queues the player or pairs them with the oldest waiting player of the
// same stake. The waiting player becomes player1.
func (s *Service) Join(ctx context.Context, player, stake, matchID string) (*JoinResult, error) {
	addr, err := domain.ParseAddress(player)
	if err != nil {
		return nil, err
	}
	tier, err := Tier(stake)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	opponent, err := s.queue.Pop(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue %s: %w", tier, err)
	}

	if opponent == nil || opponent.Player == addr.Hex() {
		if opponent != nil {
			// Already waiting; keep the original place.
			if err := s.queue.Requeue(ctx, opponent); err != nil {
				return nil, fmt.Errorf("failed to requeue ticket: %w", err)
			}
			s.updateDepth(ctx, tier)
			return &JoinResult{Queued: true, Ticket: opponent}, nil
		}
		t := &Ticket{
			ID:       uuid.NewString(),
			Player:   addr.Hex(),
			Stake:    tier,
			MatchID:  strings.TrimSpace(matchID),
			JoinedAt: s.now(),
		}
		if err := s.queue.Push(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to queue ticket: %w", err)
		}
		s.updateDepth(ctx, tier)
		s.log.Info("Player queued", "player", t.Player, "stake", tier, "ticket", t.ID)
		return &JoinResult{Queued: true, Ticket: t}, nil
	}

	pair := &Pairing{
		MatchID: pickMatchID(matchID, opponent.MatchID),
		Player1: opponent.Player,
		Player2: addr.Hex(),
		Stake:   tier,
	}
	res, err := s.creator.CreateMatch(ctx, pair.MatchID, pair.Player1, pair.Player2, pair.Stake)
	if err != nil {
		if rerr := s.queue.Requeue(ctx, opponent); rerr != nil {
			s.log.Error("Failed to requeue opponent", "ticket", opponent.ID, "error", rerr)
		}
		s.updateDepth(ctx, tier)
		s.log.Error("Failed to create paired match",
			"match", pair.MatchID, "player1", pair.Player1, "player2", pair.Player2, "error", err)
		return nil, err
	}
	s.updateDepth(ctx, tier)

	s.log.Info("Players paired", "match", pair.MatchID, "player1", pair.Player1, "player2", pair.Player2, "stake", tier)
	return &JoinResult{MatchCreated: true, Match: pair, Result: res}, nil
}

// Depth returns the number of players waiting in a tier.
func (s *Service) Depth(ctx context.Context, stake string) (int, error) {
	tier, err := Tier(stake)
	if err != nil {
		return 0, err
	}
	return s.queue.Len(ctx, tier)
}

func (s *Service) updateDepth(ctx context.Context, tier string) {
	if n, err := s.queue.Len(ctx, tier); err == nil {
		metrics.QueueDepth.WithLabelValues(tier).Set(float64(n))
	}
}

// Tier normalizes a stake so "10" and "10.0" share a queue.
func Tier(stake string) (string, error) {
	amount, err := domain.ParseTokenAmount(strings.TrimSpace(stake))
	if err != nil {
		return "", err
	}
	if amount.Sign() <= 0 {
		return "", domain.Validationf("stake must be greater than 0")
	}
	return domain.FormatTokenAmount(amount), nil
}

func pickMatchID(requested, waiting string) string {
	if id := strings.TrimSpace(requested); id != "" {
		return id
	}
	if waiting != "" {
		return waiting
	}
	return "match-" + uuid.NewString()
}
