package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/log"
	"github.com/freightwatch/freightwatch/internal/replay"
)

// Broadcaster is the slice of the connection registry the dispatcher uses.
type Broadcaster interface {
	Broadcast(event domain.Event, targets []string)
}

// Dispatcher combines the target resolver with the registry: one event in,
// delivery to exactly the authorized, currently-connected subscribers.
type Dispatcher struct {
	resolver *Resolver
	broker   Broadcaster
	buffer   replay.Buffer
	logger   zerolog.Logger
}

// NewDispatcher wires a dispatcher. buffer may be nil to disable the
// reconnect catch-up tail.
func NewDispatcher(resolver *Resolver, broker Broadcaster, buffer replay.Buffer) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		broker:   broker,
		buffer:   buffer,
		logger:   log.WithComponent("dispatch"),
	}
}

// DispatchIncident resolves the incident's audience and broadcasts it. An
// empty audience is a successful no-op. Resolver failures are logged, never
// escalated: the incident is already persisted, delivery is best-effort.
func (d *Dispatcher) DispatchIncident(ctx context.Context, inc domain.Incident) {
	targets, err := d.resolver.Targets(ctx, inc)
	if err != nil {
		d.logger.Error().
			Err(err).
			Str(log.FieldEvent, "dispatch.resolve_failed").
			Str(log.FieldIncidentID, inc.ID).
			Str(log.FieldPlanID, inc.PlanID).
			Msg("could not resolve incident audience")
		return
	}
	if len(targets) == 0 {
		return
	}
	event := domain.NewIncidentEvent(inc)
	d.broker.Broadcast(event, targets)
	d.record(ctx, event, targets)
}

// DispatchDeliveryStatus broadcasts a synthetic plan-status event to an
// audience the caller already resolved.
func (d *Dispatcher) DispatchDeliveryStatus(ctx context.Context, event domain.Event, targets []string) {
	if len(targets) == 0 {
		return
	}
	d.broker.Broadcast(event, targets)
	d.record(ctx, event, targets)
}

// record appends the emission to the replay tail. Best-effort only.
func (d *Dispatcher) record(ctx context.Context, event domain.Event, targets []string) {
	if d.buffer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	entry := replay.Entry{
		ID:      event.ID,
		Name:    event.SSEName(),
		Data:    data,
		Targets: targets,
	}
	if err := d.buffer.Append(ctx, entry); err != nil {
		d.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "dispatch.replay_append_failed").
			Str(log.FieldEventID, event.ID).
			Msg("event not recorded for replay")
	}
}
