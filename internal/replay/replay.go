// Package replay keeps a short, best-effort tail of recently broadcast
// events so a reconnecting subscriber can catch up via the Last-Event-ID
// hint. Nothing here survives a process restart with the memory buffer, and
// the redis buffer is bounded; exactly-once across restarts is explicitly
// not promised.
package replay

import (
	"context"
	"encoding/json"
)

// DefaultCapacity bounds how many events a buffer retains.
const DefaultCapacity = 256

// Entry is one recorded emission: the frame identity plus the user ids it
// was addressed to. Replay filters by target so a reconnect can never leak
// another tenant's events.
type Entry struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data"`
	Targets []string        `json:"targets"`
}

// TargetedAt reports whether the entry was addressed to the given user.
func (e Entry) TargetedAt(userID string) bool {
	for _, t := range e.Targets {
		if t == userID {
			return true
		}
	}
	return false
}

// Buffer records emissions and serves catch-up reads.
type Buffer interface {
	// Append records one emission. Best-effort: failures are logged by the
	// caller, never escalated into the broadcast path.
	Append(ctx context.Context, e Entry) error

	// Since returns the entries recorded after the entry with lastEventID
	// that were addressed to userID, oldest first. An unknown or empty
	// lastEventID returns nothing; the buffer cannot know how far back the
	// client is.
	Since(ctx context.Context, lastEventID, userID string) ([]Entry, error)
}
