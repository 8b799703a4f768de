package escalation

import (
	"sync"
	"time"
)

// alertLimiter suppresses repeat advisory notifications per key until the
// interval elapses. Battery and offline warnings go through this so a
// flapping sensor does not page the owner all night.
type alertLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

func newAlertLimiter(interval time.Duration) *alertLimiter {
	return &alertLimiter{
		interval: interval,
		last:     map[string]time.Time{},
		now:      time.Now,
	}
}

// Allow reports whether an alert for the key may be sent, recording the
// send time when it is.
func (l *alertLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if prev, ok := l.last[key]; ok && now.Sub(prev) < l.interval {
		return false
	}
	l.last[key] = now
	return true
}

// Reset clears the key so the next alert goes through, used when the
// underlying condition resolves.
func (l *alertLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.last, key)
	l.mu.Unlock()
}
