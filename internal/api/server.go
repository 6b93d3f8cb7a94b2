// Package api exposes the HTTP surface of the service: the subscriber event
// streams, the operational trigger endpoints and the introspection and
// probe routes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/freightwatch/freightwatch/internal/broker"
	"github.com/freightwatch/freightwatch/internal/config"
	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/health"
	"github.com/freightwatch/freightwatch/internal/incident"
	"github.com/freightwatch/freightwatch/internal/log"
	"github.com/freightwatch/freightwatch/internal/replay"
)

// PlanReader is the plan lookup the trigger endpoints need.
type PlanReader interface {
	FindPlan(ctx context.Context, id string) (domain.Plan, error)
}

// Server carries the wired dependencies of the HTTP layer.
type Server struct {
	cfg      config.Config
	registry *broker.Registry
	replays  replay.Buffer
	incident *incident.Service
	plans    PlanReader
	healthMgr *health.Manager
	logger   zerolog.Logger
}

// New wires the HTTP server. replays may be nil to disable reconnect
// catch-up.
func New(cfg config.Config, registry *broker.Registry, replays replay.Buffer,
	incidents *incident.Service, plans PlanReader, healthMgr *health.Manager) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		replays:   replays,
		incident:  incidents,
		plans:     plans,
		healthMgr: healthMgr,
		logger:    log.WithComponent("api"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			if s.cfg.SubscribeRateLimit > 0 {
				r.Use(httprate.LimitByIP(s.cfg.SubscribeRateLimit, time.Minute))
			}
			r.Get("/incidents", s.handleIncidentStream)
			r.Get("/deliveries", s.handleDeliveryStream)
		})

		r.Post("/trips/{tripID}/refusal", s.handleRefuseTrip)
		r.Post("/plans/{planID}/receiving", s.handleReceiving)
		r.Post("/plans/{planID}/delay-check", s.handleDelayCheck)

		r.Get("/admin/subscribers", s.handleSubscribers)
	})

	return r
}
