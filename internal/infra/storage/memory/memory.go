package memory

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

// MemoryStorage keeps every repository in process memory.
type MemoryStorage struct {
	events  map[domain.EventKey]*domain.LedgerEvent
	matches map[domain.MatchID]*domain.MatchRecord
	players map[common.Address]*domain.Player
	cursors map[string]*domain.Cursor
	mu      sync.RWMutex
}

var _ storage.Store = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events:  make(map[domain.EventKey]*domain.LedgerEvent),
		matches: make(map[domain.MatchID]*domain.MatchRecord),
		players: make(map[common.Address]*domain.Player),
		cursors: make(map[string]*domain.Cursor),
	}
}

func (s *MemoryStorage) Events() storage.EventLogRepository { return &EventRepo{store: s} }
func (s *MemoryStorage) Matches() storage.MatchRepository   { return &MatchRepo{store: s} }
func (s *MemoryStorage) Players() storage.PlayerRepository  { return &PlayerRepo{store: s} }
func (s *MemoryStorage) Cursors() storage.CursorRepository  { return &CursorRepo{store: s} }
func (s *MemoryStorage) Close() error                       { return nil }

// Project stages fn's writes and publishes them only if fn succeeds.
func (s *MemoryStorage) Project(ctx context.Context, fn func(tx storage.ProjectionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &projectionTx{
		store:     s,
		matches:   make(map[domain.MatchID]*domain.MatchRecord),
		players:   make(map[common.Address]*domain.Player),
		projected: make(map[domain.EventKey]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, m := range tx.matches {
		s.matches[id] = m
	}
	for addr, p := range tx.players {
		s.players[addr] = p
	}
	for key := range tx.projected {
		s.events[key].Projected = true
	}
	return nil
}

func (s *MemoryStorage) ResetProjections(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = make(map[domain.MatchID]*domain.MatchRecord)
	s.players = make(map[common.Address]*domain.Player)
	for _, ev := range s.events {
		ev.Projected = false
	}
	return nil
}

// -----------------------------------------------------------------------------
// Projection unit of work
// -----------------------------------------------------------------------------

// projectionTx runs with the store's write lock held.
type projectionTx struct {
	store     *MemoryStorage
	matches   map[domain.MatchID]*domain.MatchRecord
	players   map[common.Address]*domain.Player
	projected map[domain.EventKey]bool
}

func (t *projectionTx) GetMatch(ctx context.Context, id domain.MatchID) (*domain.MatchRecord, error) {
	if m, ok := t.matches[id]; ok {
		return cloneMatch(m), nil
	}
	return cloneMatch(t.store.matches[id]), nil
}

func (t *projectionTx) SaveMatch(ctx context.Context, m *domain.MatchRecord) error {
	t.matches[m.ID] = cloneMatch(m)
	return nil
}

func (t *projectionTx) GetPlayer(ctx context.Context, addr common.Address) (*domain.Player, error) {
	if p, ok := t.players[addr]; ok {
		return clonePlayer(p), nil
	}
	return clonePlayer(t.store.players[addr]), nil
}

func (t *projectionTx) SavePlayer(ctx context.Context, p *domain.Player) error {
	t.players[p.Address] = clonePlayer(p)
	return nil
}

func (t *projectionTx) MarkProjected(ctx context.Context, key domain.EventKey) (bool, error) {
	ev, ok := t.store.events[key]
	if !ok {
		return false, nil
	}
	if ev.Projected || t.projected[key] {
		return false, nil
	}
	t.projected[key] = true
	return true, nil
}

// -----------------------------------------------------------------------------
// Event Log Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	store *MemoryStorage
}

func (r *EventRepo) Append(ctx context.Context, ev *domain.LedgerEvent) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.events[ev.Key]; ok {
		return false, nil
	}
	stored := *ev
	stored.Projected = false
	if stored.RecordedAt.IsZero() {
		stored.RecordedAt = time.Now()
	}
	r.store.events[ev.Key] = &stored
	return true, nil
}

func (r *EventRepo) Get(ctx context.Context, key domain.EventKey) (*domain.LedgerEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ev, ok := r.store.events[key]
	if !ok {
		return nil, nil
	}
	out := *ev
	return &out, nil
}

func (r *EventRepo) Unprojected(ctx context.Context, limit int) ([]*domain.LedgerEvent, error) {
	return r.list(func(ev *domain.LedgerEvent) bool { return !ev.Projected }, limit), nil
}

func (r *EventRepo) ListByMatch(ctx context.Context, id domain.MatchID) ([]*domain.LedgerEvent, error) {
	return r.list(func(ev *domain.LedgerEvent) bool { return ev.MatchID == id }, 0), nil
}

func (r *EventRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.events), nil
}

func (r *EventRepo) list(keep func(*domain.LedgerEvent) bool, limit int) []*domain.LedgerEvent {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.LedgerEvent
	for _, ev := range r.store.events {
		if keep(ev) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		if out[i].Key.LogIndex != out[j].Key.LogIndex {
			return out[i].Key.LogIndex < out[j].Key.LogIndex
		}
		return bytes.Compare(out[i].Key.TxHash[:], out[j].Key.TxHash[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// -----------------------------------------------------------------------------
// Match Repository
// -----------------------------------------------------------------------------

type MatchRepo struct {
	store *MemoryStorage
}

func (r *MatchRepo) Get(ctx context.Context, id domain.MatchID) (*domain.MatchRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return cloneMatch(r.store.matches[id]), nil
}

// -----------------------------------------------------------------------------
// Player Repository
// -----------------------------------------------------------------------------

type PlayerRepo struct {
	store *MemoryStorage
}

func (r *PlayerRepo) Get(ctx context.Context, addr common.Address) (*domain.Player, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return clonePlayer(r.store.players[addr]), nil
}

func (r *PlayerRepo) Top(ctx context.Context, limit int) ([]*domain.Player, error) {
	r.store.mu.RLock()
	out := make([]*domain.Player, 0, len(r.store.players))
	for _, p := range r.store.players {
		out = append(out, clonePlayer(p))
	}
	r.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := amountOf(out[i].TotalWon).Cmp(amountOf(out[j].TotalWon)); c != 0 {
			return c > 0
		}
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func (r *CursorRepo) Get(ctx context.Context, stream string) (*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.cursors[stream]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *cursor
	r.store.cursors[cursor.Stream] = &c
	return nil
}

func cloneMatch(m *domain.MatchRecord) *domain.MatchRecord {
	if m == nil {
		return nil
	}
	out := *m
	out.Stakers = append([]common.Address(nil), m.Stakers...)
	if m.Stake != nil {
		out.Stake = new(big.Int).Set(m.Stake)
	}
	if m.Winner != nil {
		w := *m.Winner
		out.Winner = &w
	}
	if m.SettledAt != nil {
		t := *m.SettledAt
		out.SettledAt = &t
	}
	return &out
}

func clonePlayer(p *domain.Player) *domain.Player {
	if p == nil {
		return nil
	}
	out := *p
	out.TotalWon = domain.AddAmount(p.TotalWon, nil)
	out.TotalStaked = domain.AddAmount(p.TotalStaked, nil)
	return &out
}

func amountOf(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
