// Package domain defines the shared entities of the coordination service:
// plans, trips, users, incidents and the event envelope pushed to
// subscribers.
package domain

import "time"

// Role is the role a user authenticated with. The pair (user id, role) is
// supplied by the fronting auth layer and trusted for the lifetime of a
// subscription.
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleFreighter    Role = "FREIGHTER"
	RoleCarrier      Role = "CARRIER"
	RoleWarehouse    Role = "WAREHOUSE"
	RoleStoreManager Role = "STORE_MANAGER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFreighter, RoleCarrier, RoleWarehouse, RoleStoreManager:
		return true
	}
	return false
}

// PlanStatus is the lifecycle state of a transport plan.
type PlanStatus string

const (
	PlanProposed  PlanStatus = "PROPOSED"
	PlanAccepted  PlanStatus = "ACCEPTED"
	PlanInTransit PlanStatus = "IN_TRANSIT"
	PlanDelivered PlanStatus = "DELIVERED"
	PlanCancelled PlanStatus = "CANCELLED"
)

// TripStatus is the lifecycle state of a carrier trip assignment.
type TripStatus string

const (
	TripAssigned TripStatus = "ASSIGNED"
	TripAccepted TripStatus = "ACCEPTED"
	TripRefused  TripStatus = "REFUSED"
	TripDone     TripStatus = "DONE"
)

// User is the identity record the target resolver works with.
type User struct {
	ID         string
	Role       Role
	LocationID string // store/warehouse the user is attached to, if any
}

// Plan is a snapshot of a transport plan as read from the store.
type Plan struct {
	ID                    string
	CreatorID             string
	CarrierID             string // empty until a trip is accepted
	DestinationLocationID string
	Status                PlanStatus
	EstimatedDeliveryTime time.Time
	PlannedUnits          int
	ArrivalNotified       bool
	Version               int64
}

// Trip is a carrier assignment for a plan.
type Trip struct {
	ID        string
	PlanID    string
	CarrierID string
	Status    TripStatus
	Reason    string // refusal reason, if any
	Version   int64
}
