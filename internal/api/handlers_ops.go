package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/incident"
)

// handleRefuseTrip lets the assigned carrier refuse a trip. Idempotent:
// refusing an already-refused trip returns 200 with the unchanged trip.
func (s *Server) handleRefuseTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid identity headers")
		return
	}
	if !id.anyRole(domain.RoleCarrier) {
		writeError(w, http.StatusForbidden, "only carriers refuse trips")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	trip, err := s.incident.RefuseTrip(r.Context(), chi.URLParam(r, "tripID"), id.UserID, body.Reason)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "trip not found")
	case errors.Is(err, incident.ErrNotAssigned):
		writeError(w, http.StatusForbidden, "trip is assigned to another carrier")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "refusal failed")
	default:
		writeJSON(w, http.StatusOK, trip)
	}
}

// handleReceiving accepts a warehouse receiving form and runs the imbalance
// check against the plan's planned units.
func (s *Server) handleReceiving(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid identity headers")
		return
	}
	if !id.anyRole(domain.RoleWarehouse) {
		writeError(w, http.StatusForbidden, "only warehouses submit receiving forms")
		return
	}

	var body struct {
		ActualUnits int    `json:"actualUnits"`
		WarehouseID string `json:"warehouseId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	plan, err := s.plans.FindPlan(r.Context(), chi.URLParam(r, "planID"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "plan lookup failed")
		return
	}

	inc, err := s.incident.CheckDeliveryBalance(r.Context(), plan, body.ActualUnits, body.WarehouseID)
	var verr *incident.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "invalid unit counts", verr.Problems...)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "imbalance check failed")
	case inc == nil:
		writeJSON(w, http.StatusOK, map[string]any{"balanced": true})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"balanced": false, "incident": inc})
	}
}

// handleDelayCheck evaluates the delay rule for a plan on demand.
func (s *Server) handleDelayCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid identity headers")
		return
	}
	if !id.anyRole(domain.RoleFreighter) {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	plan, err := s.plans.FindPlan(r.Context(), chi.URLParam(r, "planID"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "plan lookup failed")
		return
	}

	inc, err := s.incident.CheckPlanForDelay(r.Context(), plan)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, "delay check failed")
	case inc == nil:
		writeJSON(w, http.StatusOK, map[string]any{"delayed": false})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"delayed": true, "incident": inc})
	}
}
