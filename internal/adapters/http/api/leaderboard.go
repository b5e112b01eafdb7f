package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/duel/internal/domain/leaderboard"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
)

type regenerateResponse struct {
	Success  bool                 `json:"success"`
	Metadata model.GlobalMetadata `json:"metadata"`
	Error    string               `json:"error,omitempty"`
}

// handleListLeaderboards handles GET /leaderboards.
func (s *Server) handleListLeaderboards(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_leaderboards"
	list, err := s.deps.ListLeaderboards(r.Context())
	if err != nil {
		s.writeServiceError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetLeaderboard handles GET /leaderboards/{key}.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	doc, err := s.deps.GetLeaderboard(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeServiceError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleRegenerate handles POST /leaderboards/regenerate. A partial run is
// still a 200 with success false and only the run metadata in the body. A run
// already in progress answers 409 with success false.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	const op = "api.regenerate"
	meta, err := s.deps.ForceRegenerate(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, regenerateResponse{Success: true, Metadata: meta})
	case errors.Is(err, model.ErrPartialAggregation):
		s.logger.Warn(r.Context(), "leaderboard regeneration partial", logger.Error(err))
		writeJSON(w, http.StatusOK, regenerateResponse{Metadata: meta})
	case errors.Is(err, leaderboard.ErrRegenerationInProgress):
		writeJSON(w, http.StatusConflict, regenerateResponse{Error: "regeneration_in_progress"})
	default:
		s.writeServiceError(w, r, op, err)
	}
}
