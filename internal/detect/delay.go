// Package detect holds the pure detection engines that decide whether an
// operational anomaly exists. No I/O happens here; callers feed snapshots in
// and persist the results elsewhere.
package detect

import (
	"fmt"
	"time"

	"github.com/freightwatch/freightwatch/internal/domain"
)

// DefaultDelayThreshold is how late a plan must be, beyond its ETA, before a
// delay incident is warranted.
const DefaultDelayThreshold = 30 * time.Minute

// CheckForDelay reports whether the plan is late enough to warrant a delay
// incident. Only IN_TRANSIT plans can be delayed; the threshold boundary is
// exclusive, so a plan exactly 30 minutes late is not flagged.
func CheckForDelay(plan domain.Plan, now time.Time) bool {
	return ShouldTriggerDelayIncident(plan, now, DefaultDelayThreshold)
}

// ShouldTriggerDelayIncident is CheckForDelay with a per-call threshold.
func ShouldTriggerDelayIncident(plan domain.Plan, now time.Time, threshold time.Duration) bool {
	if plan.Status != domain.PlanInTransit {
		return false
	}
	if plan.EstimatedDeliveryTime.IsZero() {
		return false
	}
	return now.Sub(plan.EstimatedDeliveryTime) > threshold
}

// DelayMinutes returns how many whole minutes past its ETA the plan is.
// Never negative; a plan whose ETA is still in the future returns 0.
func DelayMinutes(plan domain.Plan, now time.Time) int {
	d := now.Sub(plan.EstimatedDeliveryTime)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// DelayDescription renders the human-readable incident text. The hours
// segment appears only for delays of an hour or more.
func DelayDescription(plan domain.Plan, now time.Time) string {
	minutes := DelayMinutes(plan, now)
	var lateness string
	if minutes >= 60 {
		lateness = fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	} else {
		lateness = fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("Estimated delay: %s. Expected: %s. Actual: %s.",
		lateness,
		plan.EstimatedDeliveryTime.UTC().Format(time.RFC3339),
		now.UTC().Format(time.RFC3339))
}

// DelayIncidentExists reports whether the incident list already holds a
// DELAY entry for the plan. Consulted before creating a new incident.
func DelayIncidentExists(planID string, incidents []domain.Incident) bool {
	return incidentExists(planID, domain.IncidentDelay, incidents)
}

func incidentExists(planID string, typ domain.IncidentType, incidents []domain.Incident) bool {
	for _, inc := range incidents {
		if inc.PlanID == planID && inc.Type == typ {
			return true
		}
	}
	return false
}
