package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vietddude/stakeplay/internal/leaderboard"
)

// LeaderboardServer serves the read-only leaderboard API.
type LeaderboardServer struct {
	board *leaderboard.Service
	log   *slog.Logger
}

func NewLeaderboardServer(board *leaderboard.Service) *LeaderboardServer {
	return &LeaderboardServer{
		board: board,
		log:   slog.Default().With("component", "leaderboard-api"),
	}
}

// Router builds the HTTP router.
func (s *LeaderboardServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/leaderboard", s.topPlayers)
	r.Get("/player/{address}", s.player)
	return r
}

func (s *LeaderboardServer) topPlayers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondMessage(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	entries, err := s.board.TopPlayers(r.Context(), limit)
	if err != nil {
		s.log.Error("Failed to get leaderboard", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Failed to get leaderboard")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"timestamp":   time.Now().UTC(),
		"leaderboard": entries,
	})
}

func (s *LeaderboardServer) player(w http.ResponseWriter, r *http.Request) {
	stats, err := s.board.PlayerStats(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		if statusOf(err) == http.StatusBadRequest {
			respondError(w, err)
			return
		}
		s.log.Error("Failed to get player stats", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Failed to get player stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
