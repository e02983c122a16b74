package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
	Error      string `json:"error,omitempty"`
}

// handleHealthz reports ok while the database answers a ping, and 503
// otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", ActiveRuns: s.engine.Active()}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("healthz: database ping", "error", err)
		resp.Status = "unavailable"
		resp.Error = "database unreachable"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
