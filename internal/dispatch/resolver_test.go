package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwatch/freightwatch/internal/domain"
)

type fakeDirectory struct {
	plans    map[string]domain.Plan
	admins   []domain.User
	managers map[string][]domain.User
	failWith error
}

func (d *fakeDirectory) FindPlan(_ context.Context, id string) (domain.Plan, error) {
	if d.failWith != nil {
		return domain.Plan{}, d.failWith
	}
	p, ok := d.plans[id]
	if !ok {
		return domain.Plan{}, fmt.Errorf("fake: %w", domain.ErrNotFound)
	}
	return p, nil
}

func (d *fakeDirectory) FindUsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	if role == domain.RoleAdmin {
		return d.admins, nil
	}
	return nil, nil
}

func (d *fakeDirectory) FindStoreManagersByLocation(_ context.Context, locationID string) ([]domain.User, error) {
	return d.managers[locationID], nil
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{
		plans: map[string]domain.Plan{
			"plan-1": {
				ID:                    "plan-1",
				CreatorID:             "freighter-1",
				CarrierID:             "carrier-1",
				DestinationLocationID: "store-9",
			},
		},
		admins: []domain.User{{ID: "admin-1", Role: domain.RoleAdmin}},
		managers: map[string][]domain.User{
			"store-9": {
				{ID: "mgr-1", Role: domain.RoleStoreManager, LocationID: "store-9"},
				{ID: "mgr-2", Role: domain.RoleStoreManager, LocationID: "store-9"},
			},
		},
	}
}

func TestTargetsByIncidentType(t *testing.T) {
	r := NewResolver(testDirectory())
	ctx := context.Background()

	t.Run("refusal reaches creator, admins and carrier", func(t *testing.T) {
		targets, err := r.Targets(ctx, domain.Incident{
			Type: domain.IncidentRefusal, PlanID: "plan-1", CarrierID: "carrier-1",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"freighter-1", "admin-1", "carrier-1"}, targets)
	})

	t.Run("delay adds carrier and store managers", func(t *testing.T) {
		targets, err := r.Targets(ctx, domain.Incident{
			Type: domain.IncidentDelay, PlanID: "plan-1",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]string{"freighter-1", "admin-1", "carrier-1", "mgr-1", "mgr-2"}, targets)
	})

	t.Run("imbalance reaches store managers but not carrier", func(t *testing.T) {
		targets, err := r.Targets(ctx, domain.Incident{
			Type: domain.IncidentImbalance, PlanID: "plan-1",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]string{"freighter-1", "admin-1", "mgr-1", "mgr-2"}, targets)
	})
}

func TestTargetsMissingPlanIsEmptyNotError(t *testing.T) {
	r := NewResolver(testDirectory())
	targets, err := r.Targets(context.Background(), domain.Incident{
		Type: domain.IncidentDelay, PlanID: "no-such-plan",
	})
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestTargetsDeduplicates(t *testing.T) {
	dir := testDirectory()
	// Creator is also an admin.
	dir.admins = append(dir.admins, domain.User{ID: "freighter-1", Role: domain.RoleAdmin})
	r := NewResolver(dir)

	targets, err := r.Targets(context.Background(), domain.Incident{
		Type: domain.IncidentRefusal, PlanID: "plan-1", CarrierID: "carrier-1",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"freighter-1", "admin-1", "carrier-1"}, targets)
}

func TestDeliveryTargets(t *testing.T) {
	r := NewResolver(testDirectory())
	plan := testDirectory().plans["plan-1"]

	targets, err := r.DeliveryTargets(context.Background(), plan)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"freighter-1", "admin-1", "mgr-1", "mgr-2"}, targets)
}
