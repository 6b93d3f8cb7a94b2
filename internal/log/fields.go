package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID      = "request_id"
	FieldUserID         = "user_id"
	FieldRole           = "role"
	FieldSubscriptionID = "subscription_id"

	// Domain fields
	FieldPlanID       = "plan_id"
	FieldTripID       = "trip_id"
	FieldCarrierID    = "carrier_id"
	FieldIncidentID   = "incident_id"
	FieldIncidentType = "incident_type"
	FieldEventID      = "event_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTargets   = "targets"
)
