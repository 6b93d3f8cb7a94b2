package api

import (
	"net/http"

	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/health"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healthMgr.Health(r.Context()))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := s.healthMgr.Ready(r.Context())
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleSubscribers exposes the registry state for monitoring. Admin only.
func (s *Server) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid identity headers")
		return
	}
	if id.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":       s.registry.SubscriberCount(),
		"subscribers": s.registry.Subscribers(),
	})
}
