// Package poller implements the pre-arrival scan: a periodic job that
// notifies destination staff shortly before an in-transit plan is due.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/log"
	"github.com/freightwatch/freightwatch/internal/metrics"
)

// StatusApproaching is the synthetic delivery status emitted for plans
// inside the pre-arrival window.
const StatusApproaching = "APPROACHING"

// Defaults for the scan cadence and the forward window.
const (
	DefaultInterval    = 5 * time.Minute
	DefaultWindowStart = 25 * time.Minute
	DefaultWindowEnd   = 35 * time.Minute
)

// PlanSource selects candidate plans and records the notified flag.
type PlanSource interface {
	PlansNearingArrival(ctx context.Context, from, to time.Time) ([]domain.Plan, error)
	SetArrivalNotified(ctx context.Context, planID string) error
}

// Recipients resolves who gets told about an approaching delivery.
type Recipients interface {
	DeliveryTargets(ctx context.Context, plan domain.Plan) ([]string, error)
}

// Sender pushes the synthetic event to its audience.
type Sender interface {
	DispatchDeliveryStatus(ctx context.Context, event domain.Event, targets []string)
}

// Config tunes the scan cadence and window.
type Config struct {
	Interval    time.Duration
	WindowStart time.Duration
	WindowEnd   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.WindowStart <= 0 {
		c.WindowStart = DefaultWindowStart
	}
	if c.WindowEnd <= c.WindowStart {
		c.WindowEnd = c.WindowStart + (DefaultWindowEnd - DefaultWindowStart)
	}
}

// Poller runs the pre-arrival scan on a fixed interval.
type Poller struct {
	plans      PlanSource
	recipients Recipients
	sender     Sender
	cfg        Config
	logger     zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New constructs a poller.
func New(plans PlanSource, recipients Recipients, sender Sender, cfg Config) *Poller {
	cfg.applyDefaults()
	return &Poller{
		plans:      plans,
		recipients: recipients,
		sender:     sender,
		cfg:        cfg,
		logger:     log.WithComponent("poller"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run scans on the configured interval until ctx is cancelled. A failed run
// is logged and never stops the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info().
		Str(log.FieldEvent, "poller.start").
		Dur("interval", p.cfg.Interval).
		Msg("pre-arrival poller started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().
				Str(log.FieldEvent, "poller.stop").
				Msg("pre-arrival poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				metrics.PollerRunsTotal.WithLabelValues("error").Inc()
				p.logger.Error().
					Err(err).
					Str(log.FieldEvent, "poller.run_failed").
					Msg("pre-arrival scan failed")
				continue
			}
			metrics.PollerRunsTotal.WithLabelValues("ok").Inc()
		}
	}
}

// RunOnce performs a single scan. A failure on one plan is logged and does
// not block the remaining plans in the same run.
func (p *Poller) RunOnce(ctx context.Context) error {
	now := p.now()
	from := now.Add(p.cfg.WindowStart)
	to := now.Add(p.cfg.WindowEnd)

	plans, err := p.plans.PlansNearingArrival(ctx, from, to)
	if err != nil {
		return fmt.Errorf("poller: select plans: %w", err)
	}

	for _, plan := range plans {
		if err := p.notifyPlan(ctx, plan); err != nil {
			p.logger.Error().
				Err(err).
				Str(log.FieldEvent, "poller.plan_failed").
				Str(log.FieldPlanID, plan.ID).
				Msg("could not notify approaching delivery")
		}
	}
	return nil
}

func (p *Poller) notifyPlan(ctx context.Context, plan domain.Plan) error {
	targets, err := p.recipients.DeliveryTargets(ctx, plan)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}

	event := domain.NewDeliveryStatusEvent(plan.ID, StatusApproaching, plan.EstimatedDeliveryTime)
	p.sender.DispatchDeliveryStatus(ctx, event, targets)

	// Flag after the send: a crash between send and flag re-notifies on the
	// next run, which beats silently skipping a delivery.
	if err := p.plans.SetArrivalNotified(ctx, plan.ID); err != nil {
		return fmt.Errorf("set notified flag: %w", err)
	}
	metrics.PollerNotifiedTotal.Inc()

	p.logger.Info().
		Str(log.FieldEvent, "poller.notified").
		Str(log.FieldPlanID, plan.ID).
		Time("eta", plan.EstimatedDeliveryTime).
		Int(log.FieldTargets, len(targets)).
		Msg("approaching delivery announced")
	return nil
}
