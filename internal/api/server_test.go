package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwatch/freightwatch/internal/broker"
	"github.com/freightwatch/freightwatch/internal/config"
	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/health"
	"github.com/freightwatch/freightwatch/internal/incident"
)

// fakeBackend implements both incident.Store and PlanReader.
type fakeBackend struct {
	plans    map[string]domain.Plan
	trips    map[string]domain.Trip
	open     map[string]domain.Incident
	created  int
	refusals int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		plans: map[string]domain.Plan{},
		trips: map[string]domain.Trip{},
		open:  map[string]domain.Incident{},
	}
}

func (b *fakeBackend) FindPlan(_ context.Context, id string) (domain.Plan, error) {
	p, ok := b.plans[id]
	if !ok {
		return domain.Plan{}, fmt.Errorf("fake: %w", domain.ErrNotFound)
	}
	return p, nil
}

func (b *fakeBackend) FindOpenIncident(_ context.Context, planID string, typ domain.IncidentType) (*domain.Incident, error) {
	if inc, ok := b.open[planID+"/"+string(typ)]; ok {
		return &inc, nil
	}
	return nil, nil
}

func (b *fakeBackend) CreateIncident(_ context.Context, draft domain.IncidentDraft) (domain.Incident, error) {
	b.created++
	inc := domain.Incident{
		ID:          fmt.Sprintf("inc-%d", b.created),
		Type:        draft.Type,
		Status:      domain.IncidentOpen,
		PlanID:      draft.PlanID,
		CarrierID:   draft.CarrierID,
		WarehouseID: draft.WarehouseID,
		Description: draft.Description,
		CreatedAt:   time.Now().UTC(),
	}
	b.open[draft.PlanID+"/"+string(draft.Type)] = inc
	return inc, nil
}

func (b *fakeBackend) FindTrip(_ context.Context, id string) (domain.Trip, error) {
	t, ok := b.trips[id]
	if !ok {
		return domain.Trip{}, fmt.Errorf("fake: %w", domain.ErrNotFound)
	}
	return t, nil
}

func (b *fakeBackend) RefuseTrip(_ context.Context, tripID, reason, description string) (domain.Trip, *domain.Incident, error) {
	t := b.trips[tripID]
	if t.Status == domain.TripRefused {
		return t, nil, nil
	}
	t.Status = domain.TripRefused
	t.Reason = reason
	b.trips[tripID] = t
	b.refusals++
	inc := domain.Incident{
		ID: fmt.Sprintf("inc-refusal-%d", b.refusals), Type: domain.IncidentRefusal,
		Status: domain.IncidentOpen, PlanID: t.PlanID, CarrierID: t.CarrierID, Description: description,
	}
	b.open[t.PlanID+"/"+string(domain.IncidentRefusal)] = inc
	return t, &inc, nil
}

type testServer struct {
	backend  *fakeBackend
	registry *broker.Registry
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	backend := newFakeBackend()
	registry := broker.New()
	t.Cleanup(registry.Shutdown)

	healthMgr := health.NewManager("test")
	healthMgr.RegisterChecker(&health.BrokerChecker{Counter: registry})

	svc := incident.NewService(backend, nil, incident.Config{})
	srv := New(config.Default(), registry, nil, svc, backend, healthMgr)
	return &testServer{backend: backend, registry: registry, handler: srv.Routes()}
}

func (ts *testServer) request(t *testing.T, method, target, userID string, role domain.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-User-Role", string(role))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestIdentityRequired(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{
		"/api/events/incidents",
		"/api/events/deliveries",
		"/api/admin/subscribers",
	} {
		rec := ts.request(t, http.MethodGet, target, "", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}

	rec := ts.request(t, http.MethodPost, "/api/trips/trip-1/refusal", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/events/incidents", "u-1", "BOGUS_ROLE", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamRoleGates(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/events/incidents", "mgr-1", domain.RoleStoreManager, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "store managers do not get the incident stream")

	rec = ts.request(t, http.MethodGet, "/api/events/deliveries", "carrier-1", domain.RoleCarrier, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "carriers do not get the delivery stream")
}

func TestRefuseTrip(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.trips["trip-1"] = domain.Trip{
		ID: "trip-1", PlanID: "plan-1", CarrierID: "carrier-1", Status: domain.TripAssigned,
	}

	t.Run("only carriers", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/trips/trip-1/refusal", "wh-1", domain.RoleWarehouse, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("wrong carrier", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/trips/trip-1/refusal", "carrier-2", domain.RoleCarrier, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown trip", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/trips/trip-404/refusal", "carrier-1", domain.RoleCarrier, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("assigned carrier refuses", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/trips/trip-1/refusal",
			"carrier-1", domain.RoleCarrier, `{"reason":"truck broke down"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var trip domain.Trip
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trip))
		assert.Equal(t, domain.TripRefused, trip.Status)
		assert.Equal(t, "truck broke down", trip.Reason)
	})

	t.Run("re-refusal is idempotent", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/trips/trip-1/refusal",
			"carrier-1", domain.RoleCarrier, `{"reason":"again"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, ts.backend.refusals)
	})
}

func TestReceiving(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.plans["plan-1"] = domain.Plan{ID: "plan-1", PlannedUnits: 50}

	t.Run("balanced", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/plans/plan-1/receiving",
			"wh-1", domain.RoleWarehouse, `{"actualUnits":50,"warehouseId":"wh-1"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"balanced":true}`, rec.Body.String())
	})

	t.Run("imbalanced", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/plans/plan-1/receiving",
			"wh-1", domain.RoleWarehouse, `{"actualUnits":45,"warehouseId":"wh-1"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Balanced bool             `json:"balanced"`
			Incident *domain.Incident `json:"incident"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Balanced)
		require.NotNil(t, body.Incident)
		assert.Equal(t, domain.IncidentImbalance, body.Incident.Type)
		assert.Equal(t, "wh-1", body.Incident.WarehouseID)
	})

	t.Run("invalid counts", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/plans/plan-1/receiving",
			"wh-1", domain.RoleWarehouse, `{"actualUnits":-3,"warehouseId":"wh-1"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var body struct {
			Error   string   `json:"error"`
			Details []string `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Details)
	})

	t.Run("unknown plan", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/plans/plan-404/receiving",
			"wh-1", domain.RoleWarehouse, `{"actualUnits":50,"warehouseId":"wh-1"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("role gate", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/api/plans/plan-1/receiving",
			"carrier-1", domain.RoleCarrier, `{"actualUnits":50}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestDelayCheck(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().UTC()
	ts.backend.plans["late"] = domain.Plan{
		ID: "late", CarrierID: "carrier-1", Status: domain.PlanInTransit,
		EstimatedDeliveryTime: now.Add(-45 * time.Minute),
	}
	ts.backend.plans["on-time"] = domain.Plan{
		ID: "on-time", Status: domain.PlanInTransit,
		EstimatedDeliveryTime: now.Add(2 * time.Hour),
	}

	rec := ts.request(t, http.MethodPost, "/api/plans/on-time/delay-check", "fr-1", domain.RoleFreighter, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delayed":false}`, rec.Body.String())

	rec = ts.request(t, http.MethodPost, "/api/plans/late/delay-check", "fr-1", domain.RoleFreighter, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Delayed  bool             `json:"delayed"`
		Incident *domain.Incident `json:"incident"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Delayed)
	require.NotNil(t, body.Incident)
	assert.Equal(t, domain.IncidentDelay, body.Incident.Type)
}

func TestAdminSubscribers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/admin/subscribers", "fr-1", domain.RoleFreighter, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/admin/subscribers", "admin-1", domain.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count       int   `json:"count"`
		Subscribers []any `json:"subscribers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
	assert.Empty(t, body.Subscribers)
}

func TestProbes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/readyz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/metrics", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIncidentStreamDeliversFrames(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/incidents", nil).WithContext(ctx)
	req.Header.Set("X-User-Id", "carrier-1")
	req.Header.Set("X-User-Role", string(domain.RoleCarrier))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.handler.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool {
		return ts.registry.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	event := domain.NewIncidentEvent(domain.Incident{
		ID: "inc-1", Type: domain.IncidentRefusal, Status: domain.IncidentOpen,
		PlanID: "plan-1", CarrierID: "carrier-1",
	})
	ts.registry.Broadcast(event, []string{"carrier-1"})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not return after client disconnect")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, ": ping\n\n")
	assert.Contains(t, body, "event: incident\n")
	assert.Contains(t, body, "id: "+event.ID+"\n")
	assert.Contains(t, body, `"planId":"plan-1"`)

	require.Eventually(t, func() bool {
		return ts.registry.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStreamNotTargetedUserGetsNothing(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/incidents", nil).WithContext(ctx)
	req.Header.Set("X-User-Id", "carrier-2")
	req.Header.Set("X-User-Role", string(domain.RoleCarrier))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.handler.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool {
		return ts.registry.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	event := domain.NewIncidentEvent(domain.Incident{ID: "inc-1", Type: domain.IncidentDelay, PlanID: "plan-1"})
	ts.registry.Broadcast(event, []string{"carrier-1"})

	cancel()
	<-done

	assert.NotContains(t, rec.Body.String(), "event: incident")
}
