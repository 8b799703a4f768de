// Package sched models the host's deferred-callback facility: cancellable
// single-shot timers. Everything that waits (correlation windows, entry and
// exit delays) goes through a Scheduler so tests can drive time by hand.
package sched

import (
	"sync"
	"time"
)

// Timer is a handle to one scheduled callback.
type Timer interface {
	// Cancel stops the callback if it has not fired yet.
	Cancel()
}

// Scheduler schedules a function to run once after a delay.
type Scheduler interface {
	CallLater(d time.Duration, fn func()) Timer
}

type systemScheduler struct{}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Cancel() { s.t.Stop() }

func (systemScheduler) CallLater(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

// System returns a Scheduler backed by time.AfterFunc.
func System() Scheduler {
	return systemScheduler{}
}

// Manual is a test scheduler. Callbacks fire only when Fire or Advance is
// called, from the caller's goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	nextID  int
	pending map[int]*manualEntry
}

type manualEntry struct {
	at time.Duration
	fn func()
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{pending: make(map[int]*manualEntry)}
}

type manualTimer struct {
	s  *Manual
	id int
}

func (t manualTimer) Cancel() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	delete(t.s.pending, t.id)
}

func (s *Manual) CallLater(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.pending[id] = &manualEntry{at: s.now + d, fn: fn}
	return manualTimer{s: s, id: id}
}

// Pending reports how many callbacks are still scheduled.
func (s *Manual) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Advance moves the virtual clock forward, firing every callback whose
// deadline passed, in deadline order.
func (s *Manual) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []func()
	for {
		bestID := 0
		var best *manualEntry
		for id, e := range s.pending {
			if e.at <= s.now && (best == nil || e.at < best.at) {
				bestID, best = id, e
			}
		}
		if best == nil {
			break
		}
		delete(s.pending, bestID)
		due = append(due, best.fn)
	}
	s.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}
