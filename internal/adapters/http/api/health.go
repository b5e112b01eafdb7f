package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth handles GET /healthz. It reports unavailable until the
// service has started.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.GetStats(r.Context())
	if err != nil || !stats.Started {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
