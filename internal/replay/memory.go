package replay

import (
	"context"
	"sync"
)

// Memory is a bounded in-process ring buffer. The zero value is not usable;
// construct with NewMemory.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewMemory returns a ring buffer holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{cap: capacity}
}

// Append records the entry, evicting the oldest when full.
func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if len(m.entries) > m.cap {
		m.entries = m.entries[len(m.entries)-m.cap:]
	}
	return nil
}

// Since returns entries newer than lastEventID addressed to userID.
func (m *Memory) Since(_ context.Context, lastEventID, userID string) ([]Entry, error) {
	if lastEventID == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := -1
	for i, e := range m.entries {
		if e.ID == lastEventID {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, nil
	}
	var out []Entry
	for _, e := range m.entries[start:] {
		if e.TargetedAt(userID) {
			out = append(out, e)
		}
	}
	return out, nil
}
