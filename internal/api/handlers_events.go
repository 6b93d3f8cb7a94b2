package api

import (
	"net/http"

	"github.com/freightwatch/freightwatch/internal/broker"
	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/log"
)

// handleIncidentStream serves the incident event stream for freighters,
// carriers, warehouses and admins.
func (s *Server) handleIncidentStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, domain.RoleFreighter, domain.RoleCarrier, domain.RoleWarehouse)
}

// handleDeliveryStream serves the delivery-status stream for store managers
// and admins.
func (s *Server) handleDeliveryStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, domain.RoleStoreManager)
}

// serveStream subscribes the caller to the registry and keeps the response
// open until the client goes away or the registry tears the stream down.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, roles ...domain.Role) {
	id, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid identity headers")
		return
	}
	if !id.anyRole(roles...) {
		writeError(w, http.StatusForbidden, "role not allowed on this stream")
		return
	}

	transport, err := broker.NewHTTPTransport(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	subID, err := s.registry.Subscribe(id.UserID, id.Role, transport)
	if err != nil {
		// Preamble already failed or the registry is shutting down; the
		// response may be beyond repair, so just log.
		s.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "api.subscribe_failed").
			Str(log.FieldUserID, id.UserID).
			Msg("subscription rejected")
		return
	}

	s.replayMissed(r, subID, id.UserID)

	// Hold the response open. Either side may end it: the client by closing
	// the connection (request context), the registry by disconnecting the
	// transport (shutdown, write failure, keep-alive failure).
	select {
	case <-r.Context().Done():
		s.registry.Disconnect(subID)
	case <-transport.Done():
	}
}

// replayMissed resends events newer than the client's Last-Event-ID hint, if
// the replay tail still has them. Best-effort.
func (s *Server) replayMissed(r *http.Request, subID, userID string) {
	if s.replays == nil {
		return
	}
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		return
	}
	entries, err := s.replays.Since(r.Context(), last, userID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "api.replay_failed").
			Str(log.FieldSubscriptionID, subID).
			Msg("could not read replay tail")
		return
	}
	for _, e := range entries {
		if err := s.registry.SendFrame(subID, e.Name, e.ID, e.Data); err != nil {
			return
		}
	}
}
