package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/stakeplay/internal/indexing/health"
	"github.com/vietddude/stakeplay/internal/match"
	"github.com/vietddude/stakeplay/internal/matchmaking"
)

// Server is the coordinator API.
type Server struct {
	coord   *match.Coordinator
	queue   *matchmaking.Service
	monitor *health.Monitor
	log     *slog.Logger
}

// NewServer creates the coordinator API. queue and monitor may be nil.
func NewServer(coord *match.Coordinator, queue *matchmaking.Service, monitor *health.Monitor) *Server {
	return &Server{
		coord:   coord,
		queue:   queue,
		monitor: monitor,
		log:     slog.Default().With("component", "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/balance/{address}", s.balance)
	r.Get("/backend-balance", s.backendBalance)
	r.Get("/rate", s.rate)
	r.Post("/approve-tokens", s.approveTokens)
	r.Post("/give-tokens", s.giveTokens)

	r.Route("/match", func(r chi.Router) {
		r.Post("/start", s.startMatch)
		r.Post("/stake", s.stake)
		r.Post("/result", s.result)
		r.Post("/refund", s.refund)
		r.Get("/summary/{matchId}", s.summary)
		r.Get("/{matchId}", s.getMatch)
	})

	if s.queue != nil {
		r.Route("/queue", func(r chi.Router) {
			r.Post("/join", s.joinQueue)
			r.Get("/{stake}", s.queueDepth)
		})
	}
	return r
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":    health.StatusHealthy,
			"timestamp": time.Now().UTC(),
			"backend":   s.coord.Backend().Hex(),
		})
		return
	}
	report := s.monitor.CheckHealth(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.Balance(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) backendBalance(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.BackendBalance(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) rate(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.Rate(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type approveRequest struct {
	PlayerAddress string `json:"playerAddress"`
	Amount        string `json:"amount"`
}

func (s *Server) approveTokens(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.PlayerAddress == "" {
		respondMessage(w, http.StatusBadRequest, "Missing playerAddress")
		return
	}
	res, err := s.coord.Approve(r.Context(), req.PlayerAddress, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type giveRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (s *Server) giveTokens(w http.ResponseWriter, r *http.Request) {
	var req giveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.coord.GiveTokens(r.Context(), req.Address, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type startRequest struct {
	MatchID string `json:"matchId"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
	Stake   string `json:"stake"`
}

func (s *Server) startMatch(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.MatchID == "" || req.Player1 == "" || req.Player2 == "" || req.Stake == "" {
		respondMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	res, err := s.coord.CreateMatch(r.Context(), req.MatchID, req.Player1, req.Player2, req.Stake)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type stakeRequest struct {
	MatchID string `json:"matchId"`
	Player  string `json:"player"`
	// PlayerAddress is accepted as an alias of Player.
	PlayerAddress string `json:"playerAddress"`
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	player := req.Player
	if player == "" {
		player = req.PlayerAddress
	}
	if req.MatchID == "" || player == "" {
		respondMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	res, err := s.coord.StakeOnBehalf(r.Context(), req.MatchID, player)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type resultRequest struct {
	MatchID string `json:"matchId"`
	Winner  string `json:"winner"`
	DryRun  bool   `json:"dryRun"`
}

func (s *Server) result(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.MatchID == "" || req.Winner == "" {
		respondMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	res, err := s.coord.CommitResult(r.Context(), req.MatchID, req.Winner, req.DryRun)
	if err != nil {
		respondError(w, err)
		return
	}
	if req.DryRun {
		status := http.StatusOK
		if pre, ok := res.Preflight.(*match.Preflight); ok && !pre.Ready() {
			status = http.StatusBadRequest
		}
		respondJSON(w, status, map[string]any{"preflight": res.Preflight})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type refundRequest struct {
	MatchID string `json:"matchId"`
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.coord.Refund(r.Context(), req.MatchID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.Match(r.Context(), chi.URLParam(r, "matchId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.Summary(r.Context(), chi.URLParam(r, "matchId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type joinRequest struct {
	PlayerAddress string `json:"playerAddress"`
	Stake         string `json:"stake"`
	MatchID       string `json:"matchId"`
}

func (s *Server) joinQueue(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.PlayerAddress == "" || req.Stake == "" {
		respondMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	res, err := s.queue.Join(r.Context(), req.PlayerAddress, req.Stake, req.MatchID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) queueDepth(w http.ResponseWriter, r *http.Request) {
	stake := chi.URLParam(r, "stake")
	n, err := s.queue.Depth(r.Context(), stake)
	if err != nil {
		respondError(w, err)
		return
	}
	tier, _ := matchmaking.Tier(stake)
	respondJSON(w, http.StatusOK, map[string]any{"stake": tier, "waiting": n})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// ListenAndServe serves handler on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	log := slog.Default().With("component", "api")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down %s: %w", addr, err)
	}
	return nil
}

// Addr formats a listen address for port.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
