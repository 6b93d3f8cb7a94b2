package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the closed set of events pushed to subscribers.
type EventKind string

const (
	EventIncident       EventKind = "incident"
	EventDeliveryStatus EventKind = "delivery-status"
)

// Event is the ephemeral envelope delivered over a subscriber stream. It is
// constructed by a detection engine or the pre-arrival poller, consumed once
// by the dispatcher, and never persisted.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"-"`
	PlanID    string    `json:"planId"`
	Timestamp time.Time `json:"timestamp"`

	// Incident payload, set when Kind == EventIncident.
	Incident *Incident `json:"incident,omitempty"`

	// Delivery-status payload, set when Kind == EventDeliveryStatus.
	Status string     `json:"status,omitempty"`
	ETA    *time.Time `json:"eta,omitempty"`
}

// NewIncidentEvent wraps a persisted incident for delivery.
func NewIncidentEvent(inc Incident) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      EventIncident,
		PlanID:    inc.PlanID,
		Timestamp: time.Now().UTC(),
		Incident:  &inc,
	}
}

// NewDeliveryStatusEvent builds a synthetic plan-status event, e.g. the
// poller's "approaching" notification.
func NewDeliveryStatusEvent(planID, status string, eta time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      EventDeliveryStatus,
		PlanID:    planID,
		Status:    status,
		ETA:       &eta,
		Timestamp: time.Now().UTC(),
	}
}

// SSEName returns the event name used on the wire frame.
func (e Event) SSEName() string { return string(e.Kind) }

// MarshalJSON flattens the incident payload into the envelope so subscribers
// see one record per frame.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == EventIncident && e.Incident != nil {
		type incidentFrame struct {
			ID          string       `json:"id"`
			EventID     string       `json:"eventId"`
			Type        IncidentType `json:"type"`
			PlanID      string       `json:"planId"`
			CarrierID   string       `json:"carrierId,omitempty"`
			WarehouseID string       `json:"warehouseId,omitempty"`
			Description string       `json:"description"`
			Timestamp   time.Time    `json:"timestamp"`
		}
		return json.Marshal(incidentFrame{
			ID:          e.Incident.ID,
			EventID:     e.ID,
			Type:        e.Incident.Type,
			PlanID:      e.PlanID,
			CarrierID:   e.Incident.CarrierID,
			WarehouseID: e.Incident.WarehouseID,
			Description: e.Incident.Description,
			Timestamp:   e.Timestamp,
		})
	}
	type statusFrame struct {
		ID        string     `json:"id"`
		PlanID    string     `json:"planId"`
		Status    string     `json:"status"`
		ETA       *time.Time `json:"eta,omitempty"`
		Timestamp time.Time  `json:"timestamp"`
	}
	return json.Marshal(statusFrame{
		ID:        e.ID,
		PlanID:    e.PlanID,
		Status:    e.Status,
		ETA:       e.ETA,
		Timestamp: e.Timestamp,
	})
}
