// Package health provides liveness and readiness checks for container
// probes, with per-component status detail.
package health

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the body served on the health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checks.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a health check manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component check.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Health reports liveness: healthy as long as the process runs, with
// component detail attached.
func (m *Manager) Health(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	if len(m.checkers) > 0 {
		resp.Checks = m.run(ctx)
	}
	return resp
}

// Ready reports readiness: unhealthy when any component check fails.
func (m *Manager) Ready(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    m.run(ctx),
	}
	for _, res := range resp.Checks {
		switch res.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
			return resp
		case StatusDegraded:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func (m *Manager) run(ctx context.Context) map[string]CheckResult {
	out := make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		out[c.Name()] = c.Check(ctx)
	}
	return out
}

// DatabaseChecker pings the relational store.
type DatabaseChecker struct {
	DB *sql.DB
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.DB.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// BrokerChecker reports the registry state; a running broker is always
// healthy, the message carries the live subscriber count.
type BrokerChecker struct {
	Counter interface{ SubscriberCount() int }
}

func (c *BrokerChecker) Name() string { return "broker" }

func (c *BrokerChecker) Check(context.Context) CheckResult {
	if c.Counter == nil {
		return CheckResult{Status: StatusDegraded, Message: "broker not wired"}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "subscribers: " + strconv.Itoa(c.Counter.SubscriberCount()),
	}
}
