package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IncidentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightwatch_incidents_created_total",
		Help: "Total number of incidents created, by type",
	}, []string{"type"})

	IncidentsDedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightwatch_incidents_deduped_total",
		Help: "Total number of incident creations skipped because an open incident already existed",
	}, []string{"type"})

	PollerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightwatch_poller_runs_total",
		Help: "Total number of pre-arrival poller runs by outcome",
	}, []string{"outcome"})

	PollerNotifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "freightwatch_poller_plans_notified_total",
		Help: "Total number of plans flagged as approaching by the pre-arrival poller",
	})
)
