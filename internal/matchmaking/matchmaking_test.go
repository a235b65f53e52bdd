package matchmaking

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/stakeplay/internal/core/domain"
	redisclient "github.com/vietddude/stakeplay/internal/infra/redis"
	"github.com/vietddude/stakeplay/internal/match"
)

const (
	alice = "0x00000000000000000000000000000000000000A1"
	bob   = "0x00000000000000000000000000000000000000b2"
	carol = "0x00000000000000000000000000000000000000c3"
)

type createCall struct {
	matchID, p1, p2, stake string
}

type fakeCreator struct {
	calls []createCall
	err   error
}

func (f *fakeCreator) CreateMatch(ctx context.Context, matchID, p1, p2, stake string) (*match.Result, error) {
	f.calls = append(f.calls, createCall{matchID, p1, p2, stake})
	if f.err != nil {
		return nil, f.err
	}
	return &match.Result{Operation: match.OpCreate, MatchID: matchID}, nil
}

func TestJoin_PairsEqualStakes(t *testing.T) {
	ctx := context.Background()
	creator := &fakeCreator{}
	s := NewService(NewMemoryQueue(), creator)

	first, err := s.Join(ctx, alice, "10", "game-1")
	require.NoError(t, err)
	assert.True(t, first.Queued)
	assert.NotEmpty(t, first.Ticket.ID)

	// A different tier does not pair.
	other, err := s.Join(ctx, carol, "5", "")
	require.NoError(t, err)
	assert.True(t, other.Queued)

	second, err := s.Join(ctx, bob, "10.0", "")
	require.NoError(t, err)
	assert.False(t, second.Queued)
	assert.True(t, second.MatchCreated)

	require.Len(t, creator.calls, 1)
	call := creator.calls[0]
	assert.Equal(t, "game-1", call.matchID, "waiting ticket's match id is used when none is given")
	assert.Equal(t, strings.ToLower(alice), strings.ToLower(call.p1))
	assert.Equal(t, strings.ToLower(bob), strings.ToLower(call.p2))
	assert.Equal(t, "10", call.stake)

	n, _ := s.Depth(ctx, "10")
	assert.Zero(t, n)
	n, _ = s.Depth(ctx, "5")
	assert.Equal(t, 1, n)
}

func TestJoin_RequestedMatchIDWins(t *testing.T) {
	ctx := context.Background()
	creator := &fakeCreator{}
	s := NewService(NewMemoryQueue(), creator)

	_, err := s.Join(ctx, alice, "1", "")
	require.NoError(t, err)
	res, err := s.Join(ctx, bob, "1", "final")
	require.NoError(t, err)
	assert.Equal(t, "final", res.Match.MatchID)
}

func TestJoin_GeneratesMatchID(t *testing.T) {
	ctx := context.Background()
	creator := &fakeCreator{}
	s := NewService(NewMemoryQueue(), creator)

	_, _ = s.Join(ctx, alice, "1", "")
	res, err := s.Join(ctx, bob, "1", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Match.MatchID, "match-"))
}

func TestJoin_SamePlayerKeepsPlace(t *testing.T) {
	ctx := context.Background()
	creator := &fakeCreator{}
	s := NewService(NewMemoryQueue(), creator)

	first, _ := s.Join(ctx, alice, "10", "")
	again, err := s.Join(ctx, alice, "10", "")
	require.NoError(t, err)
	assert.True(t, again.Queued)
	assert.Equal(t, first.Ticket.ID, again.Ticket.ID)
	assert.Empty(t, creator.calls)

	n, _ := s.Depth(ctx, "10")
	assert.Equal(t, 1, n)
}

func TestJoin_CreateFailureRequeuesOpponent(t *testing.T) {
	ctx := context.Background()
	creator := &fakeCreator{err: &domain.OpError{Op: match.OpCreate, Kind: domain.ErrLedger}}
	s := NewService(NewMemoryQueue(), creator)

	first, _ := s.Join(ctx, alice, "10", "")
	_, err := s.Join(ctx, bob, "10", "")
	assert.ErrorIs(t, err, domain.ErrLedger)

	q := s.queue.(*MemoryQueue)
	head, _ := q.Pop(ctx, "10")
	require.NotNil(t, head)
	assert.Equal(t, first.Ticket.ID, head.ID)
}

func TestJoin_Validation(t *testing.T) {
	s := NewService(NewMemoryQueue(), &fakeCreator{})
	ctx := context.Background()

	for _, tc := range []struct{ player, stake string }{
		{"nobody", "10"},
		{alice, "0"},
		{alice, "-3"},
		{alice, "ten"},
	} {
		_, err := s.Join(ctx, tc.player, tc.stake, "")
		assert.True(t, errors.Is(err, domain.ErrValidation), "%+v: %v", tc, err)
	}
}

func TestRedisQueue(t *testing.T) {
	url := os.Getenv("STAKEPLAY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STAKEPLAY_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := redisclient.NewClient(redisclient.Config{URL: url})
	require.NoError(t, err)
	defer client.Close()

	tier := "test-" + t.Name()
	require.NoError(t, client.Clear(ctx, tier))
	defer client.Clear(ctx, tier)

	q := NewRedisQueue(client)
	require.NoError(t, q.Push(ctx, &Ticket{ID: "1", Player: alice, Stake: tier}))
	require.NoError(t, q.Push(ctx, &Ticket{ID: "2", Player: bob, Stake: tier}))
	require.NoError(t, q.Requeue(ctx, &Ticket{ID: "0", Player: carol, Stake: tier}))

	n, err := q.Len(ctx, tier)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, want := range []string{"0", "1", "2"} {
		got, err := q.Pop(ctx, tier)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got.ID)
	}
	empty, err := q.Pop(ctx, tier)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
