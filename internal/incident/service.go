// Package incident turns detection results into persisted incident records.
// It owns the dedup contract: at most one OPEN incident per plan and type,
// checked against the store immediately before every insert.
package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/freightwatch/freightwatch/internal/detect"
	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/log"
	"github.com/freightwatch/freightwatch/internal/metrics"
)

// MaxReasonLength caps the free-text refusal reason.
const MaxReasonLength = 512

// ErrNotAssigned is returned when a carrier tries to refuse a trip that is
// not assigned to them.
var ErrNotAssigned = errors.New("incident: trip is not assigned to this carrier")

// Store is the persistence surface the service consumes.
type Store interface {
	FindOpenIncident(ctx context.Context, planID string, typ domain.IncidentType) (*domain.Incident, error)
	CreateIncident(ctx context.Context, draft domain.IncidentDraft) (domain.Incident, error)
	FindTrip(ctx context.Context, id string) (domain.Trip, error)
	RefuseTrip(ctx context.Context, tripID, reason, description string) (domain.Trip, *domain.Incident, error)
}

// Notifier pushes a freshly created incident to its audience. Implemented by
// the broadcast dispatcher.
type Notifier interface {
	DispatchIncident(ctx context.Context, inc domain.Incident)
}

// ValidationError aggregates every violation found in a detection input, so
// a caller sees all problems at once rather than the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "incident: invalid input: " + strings.Join(e.Problems, "; ")
}

// Service creates incidents with deduplication and fans them out.
type Service struct {
	store  Store
	notify Notifier
	logger zerolog.Logger

	delayThreshold     time.Duration
	imbalanceTolerance int

	// now is swappable for tests.
	now func() time.Time
}

// Config tunes the detection thresholds.
type Config struct {
	DelayThreshold     time.Duration
	ImbalanceTolerance int
}

// NewService wires the incident service. A nil notifier disables fan-out,
// which tests use.
func NewService(store Store, notify Notifier, cfg Config) *Service {
	if cfg.DelayThreshold <= 0 {
		cfg.DelayThreshold = detect.DefaultDelayThreshold
	}
	if cfg.ImbalanceTolerance <= 0 {
		cfg.ImbalanceTolerance = detect.DefaultImbalanceTolerance
	}
	return &Service{
		store:              store,
		notify:             notify,
		logger:             log.WithComponent("incident"),
		delayThreshold:     cfg.DelayThreshold,
		imbalanceTolerance: cfg.ImbalanceTolerance,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// Create persists the draft unless an OPEN incident of the same type already
// exists for the plan. The returned bool reports whether a new record was
// created; on dedup the existing incident is returned instead.
func (s *Service) Create(ctx context.Context, draft domain.IncidentDraft) (domain.Incident, bool, error) {
	existing, err := s.store.FindOpenIncident(ctx, draft.PlanID, draft.Type)
	if err != nil {
		return domain.Incident{}, false, fmt.Errorf("incident: dedup check: %w", err)
	}
	if existing != nil {
		metrics.IncidentsDedupedTotal.WithLabelValues(string(draft.Type)).Inc()
		s.logger.Debug().
			Str(log.FieldEvent, "incident.deduped").
			Str(log.FieldPlanID, draft.PlanID).
			Str(log.FieldIncidentType, string(draft.Type)).
			Str(log.FieldIncidentID, existing.ID).
			Msg("open incident already exists")
		return *existing, false, nil
	}

	inc, err := s.store.CreateIncident(ctx, draft)
	if err != nil {
		return domain.Incident{}, false, fmt.Errorf("incident: create: %w", err)
	}
	metrics.IncidentsCreatedTotal.WithLabelValues(string(inc.Type)).Inc()
	s.logger.Info().
		Str(log.FieldEvent, "incident.created").
		Str(log.FieldPlanID, inc.PlanID).
		Str(log.FieldIncidentType, string(inc.Type)).
		Str(log.FieldIncidentID, inc.ID).
		Msg("incident created")

	s.dispatch(ctx, inc)
	return inc, true, nil
}

// CheckPlanForDelay evaluates the delay rule against the plan snapshot and
// creates (and dispatches) a DELAY incident when warranted. Returns nil when
// the plan is not delayed.
func (s *Service) CheckPlanForDelay(ctx context.Context, plan domain.Plan) (*domain.Incident, error) {
	now := s.now()
	if !detect.ShouldTriggerDelayIncident(plan, now, s.delayThreshold) {
		return nil, nil
	}
	inc, _, err := s.Create(ctx, domain.IncidentDraft{
		Type:        domain.IncidentDelay,
		PlanID:      plan.ID,
		CarrierID:   plan.CarrierID,
		Description: detect.DelayDescription(plan, now),
	})
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// CheckDeliveryBalance evaluates the imbalance rule for a submitted
// receiving form and creates (and dispatches) an IMBALANCE incident when the
// actual unit count deviates beyond tolerance. Invalid counts produce a
// *ValidationError listing every violation.
func (s *Service) CheckDeliveryBalance(ctx context.Context, plan domain.Plan, actualUnits int, warehouseID string) (*domain.Incident, error) {
	if problems := detect.ValidateUnitCounts(plan.PlannedUnits, actualUnits); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	if !detect.DetectImbalance(plan.PlannedUnits, actualUnits, s.imbalanceTolerance) {
		return nil, nil
	}

	details := detect.CalculateImbalanceDetails(plan.PlannedUnits, actualUnits)
	s.logger.Info().
		Str(log.FieldEvent, "incident.imbalance_detected").
		Str(log.FieldPlanID, plan.ID).
		Int("difference", details.Difference).
		Float64("percentage", details.PercentageDifference).
		Str("direction", details.Direction).
		Str("severity", string(detect.ImbalanceSeverity(details.PercentageDifference))).
		Msg("unit count mismatch")

	inc, _, err := s.Create(ctx, domain.IncidentDraft{
		Type:        domain.IncidentImbalance,
		PlanID:      plan.ID,
		WarehouseID: warehouseID,
		Description: detect.ImbalanceDescription(plan.PlannedUnits, actualUnits),
	})
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// RefuseTrip marks the trip refused and records one REFUSAL incident, both
// in a single transaction. Refusing an already-refused trip succeeds without
// creating anything.
func (s *Service) RefuseTrip(ctx context.Context, tripID, carrierID, reason string) (domain.Trip, error) {
	if r := []rune(reason); len(r) > MaxReasonLength {
		reason = string(r[:MaxReasonLength])
	}

	trip, err := s.store.FindTrip(ctx, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("incident: refuse trip: %w", err)
	}
	if trip.CarrierID != carrierID {
		return domain.Trip{}, ErrNotAssigned
	}
	if trip.Status == domain.TripRefused {
		return trip, nil
	}

	trip, created, err := s.store.RefuseTrip(ctx, tripID, reason, RefusalDescription(carrierID, reason))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("incident: refuse trip: %w", err)
	}
	if created != nil {
		metrics.IncidentsCreatedTotal.WithLabelValues(string(domain.IncidentRefusal)).Inc()
		s.logger.Info().
			Str(log.FieldEvent, "incident.refusal").
			Str(log.FieldTripID, tripID).
			Str(log.FieldPlanID, trip.PlanID).
			Str(log.FieldCarrierID, carrierID).
			Str(log.FieldIncidentID, created.ID).
			Msg("trip refused")
		s.dispatch(ctx, *created)
	}
	return trip, nil
}

// RefusalDescription renders the incident text for a carrier refusal.
func RefusalDescription(carrierID, reason string) string {
	if reason == "" {
		return fmt.Sprintf("Trip refused by carrier %s.", carrierID)
	}
	return fmt.Sprintf("Trip refused by carrier %s: %s", carrierID, reason)
}

func (s *Service) dispatch(ctx context.Context, inc domain.Incident) {
	if s.notify == nil {
		return
	}
	s.notify.DispatchIncident(ctx, inc)
}
