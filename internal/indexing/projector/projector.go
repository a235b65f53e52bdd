// Package projector folds ledger events into the match and player read models.
//
// Every event is appended to the raw log before it is applied. Applying and
// marking the log entry projected happen in one unit of work, so a crash in
// between is repaired by Replay, and a redelivered event is never applied twice.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/indexing/metrics"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

// errAlreadyProjected aborts a unit of work for an event applied earlier.
var errAlreadyProjected = errors.New("event already projected")

// Projector applies ledger events to the projections.
type Projector struct {
	store storage.Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a projector over store.
func New(store storage.Store) *Projector {
	return &Projector{
		store: store,
		log:   slog.Default().With("component", "projector"),
		now:   time.Now,
	}
}

// Handle records ev in the raw log and applies it. It reports whether the
// event changed the projections; redeliveries return false.
func (p *Projector) Handle(ctx context.Context, ev *domain.LedgerEvent) (bool, error) {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = p.now()
	}
	if _, err := p.store.Events().Append(ctx, ev); err != nil {
		return false, fmt.Errorf("failed to record event %s: %w", ev.Key, err)
	}
	return p.Apply(ctx, ev)
}

// Apply folds a recorded event into the projections and marks it projected.
func (p *Projector) Apply(ctx context.Context, ev *domain.LedgerEvent) (bool, error) {
	err := p.store.Project(ctx, func(tx storage.ProjectionTx) error {
		first, err := tx.MarkProjected(ctx, ev.Key)
		if err != nil {
			return err
		}
		if !first {
			return errAlreadyProjected
		}
		return p.fold(ctx, tx, ev)
	})
	if errors.Is(err, errAlreadyProjected) {
		metrics.EventsDuplicate.Inc()
		p.log.Debug("Skipping redelivered event", "key", ev.Key.String(), "type", ev.Type)
		return false, nil
	}
	if err != nil {
		p.log.Error("Failed to project event",
			"key", ev.Key.String(), "type", ev.Type, "match", ev.MatchID.Hex(), "error", err)
		return false, fmt.Errorf("failed to project %s %s: %w", ev.Type, ev.Key, err)
	}

	metrics.EventsProjected.WithLabelValues(string(ev.Type)).Inc()
	p.log.Debug("Projected event",
		"key", ev.Key.String(), "type", ev.Type, "match", ev.MatchID.Hex(), "block", ev.BlockNumber)
	return true, nil
}

// Replay applies every recorded entry that has not been projected yet, in
// block/log order, and returns how many were applied.
func (p *Projector) Replay(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	applied := 0
	for {
		pending, err := p.store.Events().Unprojected(ctx, batchSize)
		if err != nil {
			return applied, fmt.Errorf("failed to list unprojected events: %w", err)
		}
		if len(pending) == 0 {
			break
		}
		for _, ev := range pending {
			if _, err := p.Apply(ctx, ev); err != nil {
				return applied, err
			}
			applied++
		}
	}
	if applied > 0 {
		p.log.Info("Replayed unprojected events", "count", applied)
	}
	return applied, nil
}

// Rebuild discards the projections and replays the whole raw log.
func (p *Projector) Rebuild(ctx context.Context) (int, error) {
	if err := p.store.ResetProjections(ctx); err != nil {
		return 0, fmt.Errorf("failed to reset projections: %w", err)
	}
	return p.Replay(ctx, 0)
}

func (p *Projector) fold(ctx context.Context, tx storage.ProjectionTx, ev *domain.LedgerEvent) error {
	at := ev.OccurredAt()

	switch ev.Type {
	case domain.EventTypeMatchCreated:
		rec, err := p.match(ctx, tx, ev.MatchID, at)
		if err != nil {
			return err
		}
		rec.Player1 = ev.Player
		rec.Player2 = ev.Counterparty
		rec.Stake = ev.Amount
		rec.CreatedAt = at
		promote(rec)
		return p.saveMatch(ctx, tx, rec)

	case domain.EventTypeStaked:
		rec, err := p.match(ctx, tx, ev.MatchID, at)
		if err != nil {
			return err
		}
		if !rec.HasStaker(ev.Player) {
			rec.Stakers = append(rec.Stakers, ev.Player)
		}
		promote(rec)
		if err := p.saveMatch(ctx, tx, rec); err != nil {
			return err
		}
		return p.player(ctx, tx, ev.Player, domain.PlayerDelta{Matches: 1, Staked: ev.Amount}, at)

	case domain.EventTypeSettled:
		rec, err := p.match(ctx, tx, ev.MatchID, at)
		if err != nil {
			return err
		}
		if rec.Advance(domain.MatchStatusSettled) {
			winner := ev.Player
			settledAt := at
			rec.Winner = &winner
			rec.SettledAt = &settledAt
		}
		if err := p.saveMatch(ctx, tx, rec); err != nil {
			return err
		}
		return p.player(ctx, tx, ev.Player, domain.PlayerDelta{Wins: 1, Won: ev.Amount}, at)

	case domain.EventTypeRefunded:
		rec, err := p.match(ctx, tx, ev.MatchID, at)
		if err != nil {
			return err
		}
		rec.Advance(domain.MatchStatusRefunded)
		return p.saveMatch(ctx, tx, rec)

	case domain.EventTypePurchase:
		// raw log only
		return nil
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

// match loads the record, creating a placeholder for an event that arrived
// before its MatchCreated.
func (p *Projector) match(ctx context.Context, tx storage.ProjectionTx, id domain.MatchID, at time.Time) (*domain.MatchRecord, error) {
	rec, err := tx.GetMatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load match %s: %w", id.Hex(), err)
	}
	if rec == nil {
		rec = &domain.MatchRecord{ID: id, Status: domain.MatchStatusPending, CreatedAt: at}
	}
	return rec, nil
}

func (p *Projector) saveMatch(ctx context.Context, tx storage.ProjectionTx, rec *domain.MatchRecord) error {
	rec.UpdatedAt = p.now()
	if err := tx.SaveMatch(ctx, rec); err != nil {
		return fmt.Errorf("failed to save match %s: %w", rec.ID.Hex(), err)
	}
	return nil
}

func (p *Projector) player(ctx context.Context, tx storage.ProjectionTx, addr common.Address, d domain.PlayerDelta, at time.Time) error {
	pl, err := tx.GetPlayer(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to load player %s: %w", addr.Hex(), err)
	}
	if pl == nil {
		pl = &domain.Player{Address: addr}
	}
	pl.Apply(d, at)
	if err := tx.SavePlayer(ctx, pl); err != nil {
		return fmt.Errorf("failed to save player %s: %w", addr.Hex(), err)
	}
	return nil
}

// promote moves a pending match to STAKED once both participants staked.
func promote(rec *domain.MatchRecord) {
	if rec.Player1Staked() && rec.Player2Staked() {
		rec.Advance(domain.MatchStatusStaked)
	}
}
