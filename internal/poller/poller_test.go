package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwatch/freightwatch/internal/domain"
)

type fakePlanSource struct {
	mu       sync.Mutex
	plans    []domain.Plan
	notified []string
	gotFrom  time.Time
	gotTo    time.Time
	failFlag map[string]error
}

func (s *fakePlanSource) PlansNearingArrival(_ context.Context, from, to time.Time) ([]domain.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotFrom, s.gotTo = from, to
	return s.plans, nil
}

func (s *fakePlanSource) SetArrivalNotified(_ context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFlag[planID]; err != nil {
		return err
	}
	s.notified = append(s.notified, planID)
	return nil
}

type fakeRecipients struct {
	targets map[string][]string
	fail    map[string]error
}

func (r *fakeRecipients) DeliveryTargets(_ context.Context, plan domain.Plan) ([]string, error) {
	if err := r.fail[plan.ID]; err != nil {
		return nil, err
	}
	return r.targets[plan.ID], nil
}

type fakeSender struct {
	mu     sync.Mutex
	events []domain.Event
	target [][]string
}

func (s *fakeSender) DispatchDeliveryStatus(_ context.Context, event domain.Event, targets []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.target = append(s.target, targets)
}

func TestRunOnceWindowAndNotify(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	eta := now.Add(30 * time.Minute)

	source := &fakePlanSource{plans: []domain.Plan{{
		ID: "plan-1", Status: domain.PlanInTransit, EstimatedDeliveryTime: eta,
	}}}
	recipients := &fakeRecipients{targets: map[string][]string{"plan-1": {"mgr-1", "admin-1"}}}
	sender := &fakeSender{}

	p := New(source, recipients, sender, Config{})
	p.now = func() time.Time { return now }

	require.NoError(t, p.RunOnce(context.Background()))

	assert.Equal(t, now.Add(25*time.Minute), source.gotFrom)
	assert.Equal(t, now.Add(35*time.Minute), source.gotTo)

	require.Len(t, sender.events, 1)
	ev := sender.events[0]
	assert.Equal(t, domain.EventDeliveryStatus, ev.Kind)
	assert.Equal(t, StatusApproaching, ev.Status)
	assert.Equal(t, "plan-1", ev.PlanID)
	require.NotNil(t, ev.ETA)
	assert.True(t, ev.ETA.Equal(eta))
	assert.Equal(t, []string{"mgr-1", "admin-1"}, sender.target[0])

	assert.Equal(t, []string{"plan-1"}, source.notified)
}

func TestRunOnceIsolatesPerPlanFailures(t *testing.T) {
	now := time.Now().UTC()
	source := &fakePlanSource{
		plans: []domain.Plan{
			{ID: "plan-bad", Status: domain.PlanInTransit, EstimatedDeliveryTime: now.Add(30 * time.Minute)},
			{ID: "plan-good", Status: domain.PlanInTransit, EstimatedDeliveryTime: now.Add(30 * time.Minute)},
		},
	}
	recipients := &fakeRecipients{
		targets: map[string][]string{"plan-good": {"mgr-1"}},
		fail:    map[string]error{"plan-bad": errors.New("directory down")},
	}
	sender := &fakeSender{}

	p := New(source, recipients, sender, Config{})
	require.NoError(t, p.RunOnce(context.Background()))

	require.Len(t, sender.events, 1)
	assert.Equal(t, "plan-good", sender.events[0].PlanID)
	assert.Equal(t, []string{"plan-good"}, source.notified)
}

func TestRunOnceFlagFailureDoesNotBlockOthers(t *testing.T) {
	now := time.Now().UTC()
	source := &fakePlanSource{
		plans: []domain.Plan{
			{ID: "plan-1", Status: domain.PlanInTransit, EstimatedDeliveryTime: now.Add(28 * time.Minute)},
			{ID: "plan-2", Status: domain.PlanInTransit, EstimatedDeliveryTime: now.Add(32 * time.Minute)},
		},
		failFlag: map[string]error{"plan-1": errors.New("db busy")},
	}
	recipients := &fakeRecipients{targets: map[string][]string{
		"plan-1": {"mgr-1"}, "plan-2": {"mgr-1"},
	}}
	sender := &fakeSender{}

	p := New(source, recipients, sender, Config{})
	require.NoError(t, p.RunOnce(context.Background()))

	assert.Len(t, sender.events, 2, "send happens before the flag write")
	assert.Equal(t, []string{"plan-2"}, source.notified)
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &fakePlanSource{}
	p := New(source, &fakeRecipients{}, &fakeSender{}, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}
