package api

import (
	"net/http"

	"github.com/okian/duel/internal/domain/model"
)

// battleRequest is the body of POST /battles.
type battleRequest struct {
	WinnerID string `json:"winner_id" validate:"required,max=128"`
	LoserID  string `json:"loser_id" validate:"required,max=128,nefield=WinnerID"`
	VoterID  string `json:"voter_id,omitempty" validate:"max=128"`
}

type battleResponse struct {
	Battle      model.BattleRecord `json:"battle"`
	WinnerDelta float64            `json:"winner_delta"`
	LoserDelta  float64            `json:"loser_delta"`
}

// handleSubmitBattle handles POST /battles.
func (s *Server) handleSubmitBattle(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_battle"
	var req battleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	rec, err := s.deps.SubmitBattle(r.Context(), req.WinnerID, req.LoserID, req.VoterID)
	if err != nil {
		s.writeServiceError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, battleResponse{
		Battle:      rec,
		WinnerDelta: rec.WinnerDelta(),
		LoserDelta:  rec.LoserDelta(),
	})
}
