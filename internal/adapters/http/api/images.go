package api

import (
	"net/http"

	service "github.com/okian/duel/internal/app"
)

type importRequest struct {
	Images []service.ImageUpsert `json:"images" validate:"required,min=1,max=1000,dive"`
}

// handleUpsertImages handles POST /images, the hook the upload pipeline
// calls when images are created or change pool membership.
func (s *Server) handleUpsertImages(w http.ResponseWriter, r *http.Request) {
	const op = "api.upsert_images"
	var req importRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.deps.UpsertImages(r.Context(), req.Images)
	if err != nil {
		s.writeServiceError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
