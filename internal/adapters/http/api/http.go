// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/duel/internal/adapters/http/swagger"
	service "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/domain/leaderboard"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	SelectCandidates(ctx context.Context, count int, gender model.Gender) ([]model.ImageRecord, error)
	SubmitBattle(ctx context.Context, winnerID, loserID, voterID string) (model.BattleRecord, error)
	GetLeaderboard(ctx context.Context, key string) (model.LeaderboardDocument, error)
	ListLeaderboards(ctx context.Context) (service.LeaderboardListing, error)
	ForceRegenerate(ctx context.Context) (model.GlobalMetadata, error)
	UpsertImages(ctx context.Context, images []service.ImageUpsert) (service.ImportResult, error)
	GetStats(ctx context.Context) (service.Stats, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps   Dependencies
	logger logger.Logger

	battleRateLimit int
	rateWindow      time.Duration
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:       deps,
		logger:     logger.OrNop().Named("api"),
		rateWindow: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router with every business, docs and ops route.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(ctx, r)

	r.Group(func(r chi.Router) {
		r.Use(instrument)
		r.Get("/healthz", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Get("/candidates", s.handleCandidates)
		r.With(s.battleLimiter()).Post("/battles", s.handleSubmitBattle)
		r.Post("/images", s.handleUpsertImages)

		r.Route("/leaderboards", func(r chi.Router) {
			r.Get("/", s.handleListLeaderboards)
			r.Post("/regenerate", s.handleRegenerate)
			r.Get("/{key}", s.handleGetLeaderboard)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
	return r
}

func (s *Server) battleLimiter() func(http.Handler) http.Handler {
	if s.battleRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(s.battleRateLimit, s.rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", ErrRateLimited)
		}))
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

// writeServiceError maps the domain error taxonomy onto status codes.
// Internal failures are logged and answered with a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, leaderboard.ErrRegenerationInProgress):
		writeError(w, http.StatusConflict, "in_progress", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", nil)
	default:
		s.logger.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.String("request_id", chimiddleware.GetReqID(r.Context())),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
