package domain

import "time"

// IncidentType discriminates the kinds of operational anomalies tracked by
// the service.
type IncidentType string

const (
	IncidentRefusal   IncidentType = "REFUSAL"
	IncidentDelay     IncidentType = "DELAY"
	IncidentImbalance IncidentType = "IMBALANCE"
)

// IncidentStatus is the lifecycle state of a persisted incident.
type IncidentStatus string

const (
	IncidentOpen      IncidentStatus = "OPEN"
	IncidentResolved  IncidentStatus = "RESOLVED"
	IncidentEscalated IncidentStatus = "ESCALATED"
)

// Incident is a persisted record of an operational anomaly tied to a plan.
// At most one OPEN incident of a given type exists per plan at any time;
// the store's FindOpenIncident check before insert enforces this.
type Incident struct {
	ID          string         `json:"id"`
	Type        IncidentType   `json:"type"`
	Status      IncidentStatus `json:"status"`
	PlanID      string         `json:"planId"`
	CarrierID   string         `json:"carrierId,omitempty"`
	WarehouseID string         `json:"warehouseId,omitempty"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"createdAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
	Version     int64          `json:"-"`
}

// IncidentDraft is the input to the repository adapter's dedup-guarded
// create.
type IncidentDraft struct {
	Type        IncidentType
	PlanID      string
	CarrierID   string
	WarehouseID string
	Description string
}
