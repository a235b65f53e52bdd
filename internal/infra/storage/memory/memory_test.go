package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/storage"
)

func testEvent(block uint64, idx uint) *domain.LedgerEvent {
	return &domain.LedgerEvent{
		Key:         domain.EventKey{TxHash: common.BigToHash(big.NewInt(int64(block))), LogIndex: idx},
		Type:        domain.EventTypeStaked,
		BlockNumber: block,
		MatchID:     domain.DeriveMatchID("m1"),
		Amount:      big.NewInt(10),
	}
}

func TestEventRepo_AppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	ev := testEvent(5, 0)
	ok, err := s.Events().Append(ctx, ev)
	if err != nil || !ok {
		t.Fatalf("first append: ok=%v err=%v", ok, err)
	}
	ok, err = s.Events().Append(ctx, ev)
	if err != nil || ok {
		t.Fatalf("second append: ok=%v err=%v", ok, err)
	}
	if n, _ := s.Events().Count(ctx); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestEventRepo_UnprojectedOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	for _, ev := range []*domain.LedgerEvent{testEvent(9, 1), testEvent(3, 0), testEvent(9, 0)} {
		s.Events().Append(ctx, ev)
	}

	got, _ := s.Events().Unprojected(ctx, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].BlockNumber != 3 || got[1].Key.LogIndex != 0 || got[2].Key.LogIndex != 1 {
		t.Errorf("unexpected order: %v %v %v", got[0].Key, got[1].Key, got[2].Key)
	}

	limited, _ := s.Events().Unprojected(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}

func TestEventRepo_OrderWithinBlockFollowsLogIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	late := testEvent(4, 1)
	late.Key.TxHash = common.HexToHash("0x01")
	early := testEvent(4, 0)
	early.Key.TxHash = common.HexToHash("0xff")
	s.Events().Append(ctx, late)
	s.Events().Append(ctx, early)

	got, _ := s.Events().ListByMatch(ctx, domain.DeriveMatchID("m1"))
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Key != early.Key || got[1].Key != late.Key {
		t.Errorf("unexpected order: %v %v", got[0].Key, got[1].Key)
	}
}

func TestProject_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	ev := testEvent(1, 0)
	s.Events().Append(ctx, ev)

	player := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	boom := errors.New("boom")

	err := s.Project(ctx, func(tx storage.ProjectionTx) error {
		tx.SavePlayer(ctx, &domain.Player{Address: player, TotalMatches: 1})
		tx.MarkProjected(ctx, ev.Key)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if p, _ := s.Players().Get(ctx, player); p != nil {
		t.Errorf("player write must not survive a failed unit of work")
	}
	if got, _ := s.Events().Get(ctx, ev.Key); got.Projected {
		t.Errorf("event must stay unprojected")
	}
}

func TestProject_MarkProjectedOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	ev := testEvent(1, 0)
	s.Events().Append(ctx, ev)

	for i, want := range []bool{true, false} {
		s.Project(ctx, func(tx storage.ProjectionTx) error {
			ok, err := tx.MarkProjected(ctx, ev.Key)
			if err != nil {
				t.Fatalf("mark: %v", err)
			}
			if ok != want {
				t.Errorf("call %d: expected %v, got %v", i, want, ok)
			}
			return nil
		})
	}
}

func TestPlayerRepo_TopOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	c := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	s.Project(ctx, func(tx storage.ProjectionTx) error {
		tx.SavePlayer(ctx, &domain.Player{Address: c, TotalWon: big.NewInt(20)})
		tx.SavePlayer(ctx, &domain.Player{Address: b, TotalWon: big.NewInt(50)})
		tx.SavePlayer(ctx, &domain.Player{Address: a, TotalWon: big.NewInt(20)})
		return nil
	})

	top, _ := s.Players().Top(ctx, 10)
	if len(top) != 3 {
		t.Fatalf("expected 3 players, got %d", len(top))
	}
	want := []common.Address{b, a, c}
	for i, p := range top {
		if p.Address != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i].Hex(), p.Address.Hex())
		}
	}
}

func TestResetProjections(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	ev := testEvent(1, 0)
	s.Events().Append(ctx, ev)
	id := domain.DeriveMatchID("m1")

	s.Project(ctx, func(tx storage.ProjectionTx) error {
		tx.SaveMatch(ctx, &domain.MatchRecord{ID: id})
		tx.MarkProjected(ctx, ev.Key)
		return nil
	})

	if err := s.ResetProjections(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if m, _ := s.Matches().Get(ctx, id); m != nil {
		t.Errorf("match should be cleared")
	}
	if pending, _ := s.Events().Unprojected(ctx, 0); len(pending) != 1 {
		t.Errorf("expected event to be unprojected again")
	}
}

func TestCursorRepo(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	if c, err := s.Cursors().Get(ctx, "projector"); c != nil || err != nil {
		t.Fatalf("expected empty cursor, got %v %v", c, err)
	}
	s.Cursors().Save(ctx, &domain.Cursor{Stream: "projector", BlockNumber: 42})
	c, _ := s.Cursors().Get(ctx, "projector")
	if c == nil || c.BlockNumber != 42 {
		t.Errorf("expected cursor at 42, got %+v", c)
	}
}
