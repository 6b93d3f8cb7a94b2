package detect

import (
	"fmt"
	"math"

	"github.com/freightwatch/freightwatch/internal/domain"
)

// DefaultImbalanceTolerance is the unit-count slack allowed before a
// delivery counts as imbalanced.
const DefaultImbalanceTolerance = 1

// Severity buckets for imbalance incidents.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severity cut-points over the absolute percentage difference. A percentage
// below MediumPercent is low, below HighPercent is medium, and anything at
// or above HighPercent is high.
const (
	MediumPercent = 6.0
	HighPercent   = 11.0
)

// Direction of an imbalance relative to the planned count.
const (
	DirectionSurplus  = "surplus"
	DirectionShortage = "shortage"
)

// ImbalanceDetails describes a detected unit-count mismatch. The percentage
// keeps its sign: negative means a shortage, positive a surplus.
type ImbalanceDetails struct {
	Difference           int     `json:"difference"`
	PercentageDifference float64 `json:"percentageDifference"`
	Direction            string  `json:"direction"`
}

// DetectImbalance reports whether actual deviates from planned by more than
// the tolerance. Exact matches and deviations of exactly the tolerance are
// not imbalances.
func DetectImbalance(planned, actual, tolerance int) bool {
	diff := actual - planned
	if diff < 0 {
		diff = -diff
	}
	return diff > tolerance
}

// CalculateImbalanceDetails computes the absolute difference, signed
// percentage and direction of a mismatch. planned must be non-zero; run
// ValidateUnitCounts first.
func CalculateImbalanceDetails(planned, actual int) ImbalanceDetails {
	diff := actual - planned
	details := ImbalanceDetails{
		PercentageDifference: float64(diff) / float64(planned) * 100,
	}
	if diff < 0 {
		details.Difference = -diff
		details.Direction = DirectionShortage
	} else {
		details.Difference = diff
		details.Direction = DirectionSurplus
	}
	return details
}

// ImbalanceDescription renders the human-readable incident text.
func ImbalanceDescription(planned, actual int) string {
	diff := actual - planned
	word := "more"
	if diff < 0 {
		diff = -diff
		word = "less"
	}
	return fmt.Sprintf("Unit count mismatch. Planned: %d. Actual: %d. Difference: %d %s.",
		planned, actual, diff, word)
}

// ValidateUnitCounts returns descriptive messages for every violation found
// in the supplied counts, so callers can aggregate them. An empty slice
// means the counts are usable.
func ValidateUnitCounts(planned, actual int) []string {
	var problems []string
	if planned < 0 {
		problems = append(problems, "planned units must not be negative")
	}
	if actual < 0 {
		problems = append(problems, "actual units must not be negative")
	}
	if planned == 0 {
		problems = append(problems, "cannot detect imbalance: planned units is 0")
	}
	return problems
}

// ImbalanceSeverity classifies a percentage difference using the absolute
// value and the package cut-points.
func ImbalanceSeverity(percentage float64) Severity {
	return ImbalanceSeverityAt(percentage, MediumPercent, HighPercent)
}

// ImbalanceSeverityAt classifies with caller-supplied cut-points.
func ImbalanceSeverityAt(percentage, mediumAt, highAt float64) Severity {
	abs := math.Abs(percentage)
	switch {
	case abs < mediumAt:
		return SeverityLow
	case abs < highAt:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// ImbalanceIncidentExists reports whether the incident list already holds an
// IMBALANCE entry for the plan.
func ImbalanceIncidentExists(planID string, incidents []domain.Incident) bool {
	return incidentExists(planID, domain.IncidentImbalance, incidents)
}
