// Package api exposes the coordinator and leaderboard over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vietddude/stakeplay/internal/core/domain"
)

type errorBody struct {
	Error     string `json:"error"`
	Preflight any    `json:"preflight,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

// respondError maps the error taxonomy onto status codes. Ledger failures are
// checked first since they may wrap anything.
func respondError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var opErr *domain.OpError
	if errors.As(err, &opErr) {
		body.Preflight = opErr.Detail
		switch {
		case opErr.Reason != "":
			body.Error = opErr.Reason
		case opErr.Err != nil:
			body.Error = opErr.Err.Error()
		}
	}
	respondJSON(w, statusOf(err), body)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrLedger):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrStateConflict):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
