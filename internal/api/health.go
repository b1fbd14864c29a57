package api

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Backends int    `json:"backends"`
}

// handleHealthz reports ok once at least one backend is registered.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	n := len(s.registry.List())
	if n == 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "no backends", Backends: 0})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Backends: n})
}
