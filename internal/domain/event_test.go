package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentEventFrame(t *testing.T) {
	ev := NewIncidentEvent(Incident{
		ID: "inc-1", Type: IncidentDelay, Status: IncidentOpen,
		PlanID: "plan-1", CarrierID: "carrier-1", Description: "late",
	})
	assert.Equal(t, "incident", ev.SSEName())
	assert.Equal(t, "plan-1", ev.PlanID)
	assert.NotEmpty(t, ev.ID)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "inc-1", frame["id"], "frame id is the incident id")
	assert.Equal(t, ev.ID, frame["eventId"])
	assert.Equal(t, "DELAY", frame["type"])
	assert.Equal(t, "plan-1", frame["planId"])
	assert.Equal(t, "carrier-1", frame["carrierId"])
	assert.Equal(t, "late", frame["description"])
	assert.NotContains(t, frame, "warehouseId", "empty ids are omitted")
	assert.NotContains(t, frame, "incident", "payload is flattened, not nested")
}

func TestDeliveryStatusEventFrame(t *testing.T) {
	eta := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	ev := NewDeliveryStatusEvent("plan-1", "APPROACHING", eta)
	assert.Equal(t, "delivery-status", ev.SSEName())

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, ev.ID, frame["id"])
	assert.Equal(t, "plan-1", frame["planId"])
	assert.Equal(t, "APPROACHING", frame["status"])
	assert.Equal(t, eta.Format(time.RFC3339), frame["eta"])
}

func TestRoleValid(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleFreighter, RoleCarrier, RoleWarehouse, RoleStoreManager} {
		assert.True(t, role.Valid(), string(role))
	}
	assert.False(t, Role("").Valid())
	assert.False(t, Role("SUPERUSER").Valid())
}
