package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/duel/internal/domain/model"
)

const defaultCandidateCount = 2

// Candidate is the public view of an image offered for a battle.
type Candidate struct {
	ImageID string       `json:"image_id"`
	OwnerID string       `json:"owner_id"`
	Gender  model.Gender `json:"gender"`
	Rating  float64      `json:"rating"`
	RD      float64      `json:"rd"`
	Battles int          `json:"battles"`
}

type candidatesResponse struct {
	Candidates   []Candidate `json:"candidates"`
	Insufficient bool        `json:"insufficient"`
}

// handleCandidates handles GET /candidates?count=N&gender=G.
// Running out of distinct owners is not an error for the caller: it gets
// an empty list flagged insufficient.
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	const op = "api.candidates"
	q := r.URL.Query()

	count := defaultCandidateCount
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: count must be an integer", ErrBadRequest))
			return
		}
		count = n
	}

	images, err := s.deps.SelectCandidates(r.Context(), count, model.Gender(q.Get("gender")))
	if errors.Is(err, model.ErrInsufficientCandidates) {
		writeJSON(w, http.StatusOK, candidatesResponse{Candidates: []Candidate{}, Insufficient: true})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, op, err)
		return
	}

	out := make([]Candidate, 0, len(images))
	for _, img := range images {
		out = append(out, Candidate{
			ImageID: img.ID,
			OwnerID: img.OwnerID,
			Gender:  img.Gender,
			Rating:  img.Rating.Rating,
			RD:      img.Rating.RD,
			Battles: img.Battles,
		})
	}
	writeJSON(w, http.StatusOK, candidatesResponse{Candidates: out})
}
