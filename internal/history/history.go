package history

import (
	"context"
	"sync"

	"homeguard/internal/model"
)

// Ring keeps the most recent audit entries in memory. It backs the events
// API and learner training when persistent storage is disabled, and
// doubles as a fast cache in front of it when it is not.
type Ring struct {
	mu      sync.RWMutex
	entries []model.LogEntry
	next    int
	full    bool
	nextID  int64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{entries: make([]model.LogEntry, capacity), nextID: 1}
}

// Append stores one entry, assigning an id when the caller has none, and
// returns the id.
func (r *Ring) Append(e model.LogEntry) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == 0 {
		e.ID = r.nextID
	}
	if e.ID >= r.nextID {
		r.nextID = e.ID + 1
	}
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
	return e.ID
}

// Recent returns up to limit entries, oldest first.
func (r *Ring) Recent(limit int) []model.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]model.LogEntry, 0, limit)
	start := r.next - limit
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < limit; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}

// RecentEvents implements the learner's event source over the ring.
func (r *Ring) RecentEvents(_ context.Context, limit int) ([]model.LogEntry, error) {
	return r.Recent(limit), nil
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}
