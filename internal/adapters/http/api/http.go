// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/topkboard/internal/app"
	"github.com/okian/topkboard/internal/domain/admission"
	"github.com/okian/topkboard/internal/domain/model"
)

// Request headers.
const (
	HeaderUserID           = "X-User-ID"
	HeaderActionProof      = "X-Action-Proof"
	HeaderSourceID         = "X-Source-ID"
	HeaderIdempotentReplay = "X-Idempotent-Replay"
	HeaderRequestID        = "X-Request-ID"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventDependencies
	LeaderboardDependencies
	RankDependencies
	AdminDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	adminHandler       *AdminHandler
}

// Option applies a configuration option to the Server.
type Option func(*options)

type options struct {
	maxLimit int
}

// WithMaxLimit caps the limit query parameter of GET /leaderboard.
func WithMaxLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLimit = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := options{maxLimit: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		eventsHandler:      NewEventsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, o.maxLimit),
		rankHandler:        NewRankHandler(deps),
		adminHandler:       NewAdminHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/admin/reconcile", MetricsMiddleware(s.adminHandler.HandleReconcile, "admin_reconcile"))
	mux.HandleFunc("/admin/resync", MetricsMiddleware(s.adminHandler.HandleResync, "admin_resync"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admission.ErrSubjectMismatch):
		writeError(w, http.StatusForbidden, "subject_mismatch", err)
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, model.ErrAuth):
		writeError(w, http.StatusUnauthorized, "auth_error", err)
	case errors.Is(err, model.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, model.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err)
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrReconcileDisabled), errors.Is(err, service.ErrPublishDisabled):
		writeError(w, http.StatusNotImplemented, "not_configured", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
