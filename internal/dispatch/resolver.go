// Package dispatch maps incidents to their authorized audience and pushes
// events through the connection registry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/freightwatch/freightwatch/internal/domain"
)

// Directory is the read-only user/plan lookup surface the resolver consumes.
// Implementations signal a missing plan by wrapping domain.ErrNotFound.
type Directory interface {
	FindPlan(ctx context.Context, id string) (domain.Plan, error)
	FindUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	FindStoreManagersByLocation(ctx context.Context, locationID string) ([]domain.User, error)
}

// Resolver computes the set of user ids entitled to see an incident.
type Resolver struct {
	dir Directory
}

// NewResolver wraps a directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Targets returns the user ids authorized to see the incident: the plan's
// creator and every admin always, plus the assigned carrier for
// REFUSAL/DELAY and the destination's store managers for DELAY/IMBALANCE.
// A missing plan yields an empty set and no error; the dispatcher treats
// that as a successful no-op.
func (r *Resolver) Targets(ctx context.Context, inc domain.Incident) ([]string, error) {
	plan, err := r.dir.FindPlan(ctx, inc.PlanID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve plan: %w", err)
	}

	set := map[string]struct{}{}
	if plan.CreatorID != "" {
		set[plan.CreatorID] = struct{}{}
	}

	admins, err := r.dir.FindUsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve admins: %w", err)
	}
	for _, u := range admins {
		set[u.ID] = struct{}{}
	}

	if inc.Type == domain.IncidentRefusal || inc.Type == domain.IncidentDelay {
		carrier := inc.CarrierID
		if carrier == "" {
			carrier = plan.CarrierID
		}
		if carrier != "" {
			set[carrier] = struct{}{}
		}
	}

	if inc.Type == domain.IncidentDelay || inc.Type == domain.IncidentImbalance {
		if plan.DestinationLocationID != "" {
			managers, err := r.dir.FindStoreManagersByLocation(ctx, plan.DestinationLocationID)
			if err != nil {
				return nil, fmt.Errorf("dispatch: resolve store managers: %w", err)
			}
			for _, u := range managers {
				set[u.ID] = struct{}{}
			}
		}
	}

	return sortedKeys(set), nil
}

// DeliveryTargets returns the audience for a synthetic delivery-status
// event on the plan: the creator, every admin and the destination's store
// managers.
func (r *Resolver) DeliveryTargets(ctx context.Context, plan domain.Plan) ([]string, error) {
	set := map[string]struct{}{}
	if plan.CreatorID != "" {
		set[plan.CreatorID] = struct{}{}
	}

	admins, err := r.dir.FindUsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve admins: %w", err)
	}
	for _, u := range admins {
		set[u.ID] = struct{}{}
	}

	if plan.DestinationLocationID != "" {
		managers, err := r.dir.FindStoreManagersByLocation(ctx, plan.DestinationLocationID)
		if err != nil {
			return nil, fmt.Errorf("dispatch: resolve store managers: %w", err)
		}
		for _, u := range managers {
			set[u.ID] = struct{}{}
		}
	}

	return sortedKeys(set), nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
