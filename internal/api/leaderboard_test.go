package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/leaderboard"
)

type stubPlayers struct {
	players []*domain.Player
	err     error
}

func (s *stubPlayers) Get(ctx context.Context, addr common.Address) (*domain.Player, error) {
	for _, p := range s.players {
		if p.Address == addr {
			return p, nil
		}
	}
	return nil, s.err
}

func (s *stubPlayers) Top(ctx context.Context, limit int) ([]*domain.Player, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.players) {
		return s.players[:limit], nil
	}
	return s.players, nil
}

func getJSON(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code
}

func TestLeaderboard(t *testing.T) {
	repo := &stubPlayers{players: []*domain.Player{
		{Address: alice, TotalMatches: 2, TotalWins: 2, TotalWon: gt(40), TotalStaked: gt(20), LastUpdated: time.Now()},
		{Address: bob, TotalMatches: 2, TotalStaked: gt(20), LastUpdated: time.Now()},
	}}
	h := NewLeaderboardServer(leaderboard.New(repo)).Router()

	var body struct {
		Timestamp   time.Time           `json:"timestamp"`
		Leaderboard []leaderboard.Entry `json:"leaderboard"`
	}
	if code := getJSON(t, h, "/leaderboard", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Leaderboard) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(body.Leaderboard))
	}
	if body.Leaderboard[0].Rank != 1 || body.Leaderboard[0].TotalGTWon != "40" {
		t.Errorf("unexpected first entry: %+v", body.Leaderboard[0])
	}
	if body.Timestamp.IsZero() {
		t.Error("missing timestamp")
	}

	if code := getJSON(t, h, "/leaderboard?limit=1", &body); code != http.StatusOK || len(body.Leaderboard) != 1 {
		t.Errorf("limit=1: status %d, %d entries", code, len(body.Leaderboard))
	}

	var errBody map[string]any
	if code := getJSON(t, h, "/leaderboard?limit=x", &errBody); code != http.StatusBadRequest {
		t.Errorf("limit=x: status %d", code)
	}
}

func TestLeaderboard_StoreFailure(t *testing.T) {
	h := NewLeaderboardServer(leaderboard.New(&stubPlayers{err: errors.New("db down")})).Router()
	var body map[string]any
	if code := getJSON(t, h, "/leaderboard", &body); code != http.StatusInternalServerError {
		t.Errorf("status = %d", code)
	}
	if body["error"] != "Failed to get leaderboard" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestPlayer(t *testing.T) {
	repo := &stubPlayers{players: []*domain.Player{
		{Address: alice, TotalMatches: 1, TotalWins: 1, TotalWon: gt(20), TotalStaked: gt(10)},
	}}
	h := NewLeaderboardServer(leaderboard.New(repo)).Router()

	var body map[string]any
	if code := getJSON(t, h, "/player/"+alice.Hex(), &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["total_wins"] != float64(1) || body["total_gt_won"] != "20" {
		t.Errorf("unexpected stats: %v", body)
	}

	body = nil
	if code := getJSON(t, h, "/player/"+carol.Hex(), &body); code != http.StatusOK {
		t.Fatalf("unknown player status = %d", code)
	}
	if body["message"] != "Player not found" || body["address"] != carol.Hex() {
		t.Errorf("unexpected unknown player body: %v", body)
	}

	body = nil
	if code := getJSON(t, h, "/player/0xnope", &body); code != http.StatusBadRequest {
		t.Errorf("invalid address status = %d", code)
	}
}
