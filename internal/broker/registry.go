// Package broker implements the connection registry: every open subscriber
// stream, its keep-alive timer and the authorization-aware broadcast path.
// The registry is the only shared mutable structure in the notification
// core; subscribe, disconnect and broadcast may interleave freely.
package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freightwatch/freightwatch/internal/domain"
	"github.com/freightwatch/freightwatch/internal/log"
	"github.com/freightwatch/freightwatch/internal/metrics"
)

// DefaultKeepAliveInterval is how often a comment frame is written to each
// idle subscriber stream.
const DefaultKeepAliveInterval = 30 * time.Second

// ErrShutdown is returned by Subscribe after the registry has been shut down.
var ErrShutdown = errors.New("broker: registry is shut down")

// Subscription is one open subscriber stream. Identity and role are a
// snapshot taken at connect time; revocation takes effect on reconnect.
type Subscription struct {
	ID          string
	UserID      string
	Role        domain.Role
	ConnectedAt time.Time

	transport Transport

	// writeMu serializes all frame writes to the transport so that two
	// concurrent broadcasts cannot interleave bytes on one stream.
	writeMu sync.Mutex

	// stop ends the keep-alive goroutine. Closed exactly once, by the
	// registry, while holding the registry lock.
	stop chan struct{}
}

func (s *Subscription) writeFrame(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.WriteFrame(p)
}

// Registry tracks every open subscriber and fans events out to them.
// Construct with New and inject; tests build independent instances.
type Registry struct {
	keepAlive time.Duration
	logger    zerolog.Logger

	mu     sync.RWMutex
	byID   map[string]*Subscription
	byUser map[string]map[string]*Subscription
	closed bool

	// wg tracks keep-alive goroutines so Shutdown can wait for them.
	wg sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithKeepAliveInterval overrides the keep-alive tick interval.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.keepAlive = d
		}
	}
}

// New constructs an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		keepAlive: DefaultKeepAliveInterval,
		logger:    log.WithComponent("broker"),
		byID:      make(map[string]*Subscription),
		byUser:    make(map[string]map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a transport for the given identity, writes the stream
// preamble and an immediate keep-alive comment, and starts the periodic
// keep-alive timer. It returns the subscription id used for Disconnect.
func (r *Registry) Subscribe(userID string, role domain.Role, transport Transport) (string, error) {
	if err := transport.WritePreamble(); err != nil {
		return "", err
	}
	if err := transport.WriteFrame(keepAliveFrame); err != nil {
		return "", err
	}

	sub := &Subscription{
		ID:          uuid.NewString(),
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now().UTC(),
		transport:   transport,
		stop:        make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = transport.Close()
		return "", ErrShutdown
	}
	r.byID[sub.ID] = sub
	userSubs := r.byUser[userID]
	if userSubs == nil {
		userSubs = make(map[string]*Subscription)
		r.byUser[userID] = userSubs
	}
	userSubs[sub.ID] = sub
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.SubscribersActive.Inc()
	go r.keepAliveLoop(sub)

	r.logger.Info().
		Str(log.FieldEvent, "broker.subscribe").
		Str(log.FieldSubscriptionID, sub.ID).
		Str(log.FieldUserID, userID).
		Str(log.FieldRole, string(role)).
		Msg("subscriber connected")

	return sub.ID, nil
}

// Disconnect removes the subscription, stops its keep-alive timer and ends
// the transport. Idempotent: unknown ids are a no-op, so the transport close
// callback and an explicit call may both fire.
func (r *Registry) Disconnect(subscriptionID string) {
	r.mu.Lock()
	sub, ok := r.byID[subscriptionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, subscriptionID)
	if userSubs := r.byUser[sub.UserID]; userSubs != nil {
		delete(userSubs, subscriptionID)
		if len(userSubs) == 0 {
			delete(r.byUser, sub.UserID)
		}
	}
	close(sub.stop)
	r.mu.Unlock()

	_ = sub.transport.Close()
	metrics.SubscribersActive.Dec()

	r.logger.Info().
		Str(log.FieldEvent, "broker.disconnect").
		Str(log.FieldSubscriptionID, subscriptionID).
		Str(log.FieldUserID, sub.UserID).
		Msg("subscriber disconnected")
}

// Broadcast delivers one event to every live subscription whose user id is
// in targets. An empty target set is a successful no-op. A write failure on
// one subscription evicts it and never aborts delivery to the others.
func (r *Registry) Broadcast(event domain.Event, targets []string) {
	if len(targets) == 0 {
		return
	}

	frame, err := encodeFrame(event.SSEName(), event.ID, event)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str(log.FieldEvent, "broker.broadcast_encode_failed").
			Str(log.FieldEventID, event.ID).
			Msg("dropping undeliverable event")
		return
	}

	// Snapshot the recipients under the read lock so broadcast never sees a
	// half-removed entry and never misses one that existed at call start.
	r.mu.RLock()
	var recipients []*Subscription
	for _, userID := range targets {
		for _, sub := range r.byUser[userID] {
			recipients = append(recipients, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range recipients {
		if err := sub.writeFrame(frame); err != nil {
			metrics.WriteFailuresTotal.Inc()
			r.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "broker.write_failed").
				Str(log.FieldSubscriptionID, sub.ID).
				Str(log.FieldUserID, sub.UserID).
				Msg("evicting subscriber after failed write")
			r.Disconnect(sub.ID)
			continue
		}
		metrics.IncFramesSent(event.SSEName())
	}

	r.logger.Debug().
		Str(log.FieldEvent, "broker.broadcast").
		Str(log.FieldEventID, event.ID).
		Int(log.FieldTargets, len(targets)).
		Int("recipients", len(recipients)).
		Msg("event broadcast")
}

// SendFrame writes one named frame to a single live subscription, used for
// Last-Event-ID catch-up after a reconnect. An unknown id is a no-op. A
// failed write evicts the subscriber, as on broadcast.
func (r *Registry) SendFrame(subscriptionID, name, id string, payload any) error {
	r.mu.RLock()
	sub, ok := r.byID[subscriptionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	frame, err := encodeFrame(name, id, payload)
	if err != nil {
		return err
	}
	if err := sub.writeFrame(frame); err != nil {
		metrics.WriteFailuresTotal.Inc()
		r.Disconnect(sub.ID)
		return err
	}
	metrics.IncFramesSent(name)
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// SubscriberInfo is a read-only snapshot of one subscription, for the
// introspection surface and tests.
type SubscriberInfo struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Role        domain.Role `json:"role"`
	ConnectedAt time.Time   `json:"connectedAt"`
}

func snapshotInfo(sub *Subscription) SubscriberInfo {
	return SubscriberInfo{
		ID:          sub.ID,
		UserID:      sub.UserID,
		Role:        sub.Role,
		ConnectedAt: sub.ConnectedAt,
	}
}

// UserSubscribers returns a snapshot of the given user's live subscriptions.
func (r *Registry) UserSubscribers(userID string) []SubscriberInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.byUser[userID]
	out := make([]SubscriberInfo, 0, len(subs))
	for _, sub := range subs {
		out = append(out, snapshotInfo(sub))
	}
	return out
}

// Subscribers returns a snapshot of every live subscription.
func (r *Registry) Subscribers() []SubscriberInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SubscriberInfo, 0, len(r.byID))
	for _, sub := range r.byID {
		out = append(out, snapshotInfo(sub))
	}
	return out
}

// Shutdown disconnects every subscription and waits for all keep-alive
// timers to stop, so process teardown and tests leave no dangling
// goroutines. Subscribe fails with ErrShutdown afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Disconnect(id)
	}
	r.wg.Wait()

	r.logger.Info().
		Str(log.FieldEvent, "broker.shutdown").
		Int("disconnected", len(ids)).
		Msg("registry shut down")
}

// keepAliveLoop writes a comment frame on a fixed interval until the
// subscription is disconnected. A failed write evicts the subscriber.
func (r *Registry) keepAliveLoop(sub *Subscription) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			if err := sub.writeFrame(keepAliveFrame); err != nil {
				r.Disconnect(sub.ID)
				return
			}
			metrics.KeepAlivesTotal.Inc()
		}
	}
}
