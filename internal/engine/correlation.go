package engine

import (
	"log/slog"
	"sync"
	"time"

	"homeguard/internal/model"
	"homeguard/internal/sched"
	"homeguard/internal/scoring"
)

// WindowFunc resolves the correlation window for the event that opens a
// zone window. The zone kind lets callers shorten perimeter windows and
// stretch upper-floor ones.
type WindowFunc func(ev model.TriggerEvent, zoneKind string) time.Duration

// zoneCorrelation tracks one zone's open correlation window: the events
// seen so far, their accumulated score and the expiry timer. The
// generation counter guards against a timer that fires after the window
// it belonged to was already closed.
type zoneCorrelation struct {
	id        string
	name      string
	profile   string
	zoneKind  string
	threshold int

	mu        sync.Mutex
	active    bool
	score     int
	events    []model.TriggerEvent
	typeCount map[model.SensorType]int
	timer     sched.Timer
	gen       uint64

	scheduler sched.Scheduler
	windowFn  WindowFunc
	onExpire  func(z *zoneCorrelation, events []model.TriggerEvent)
	logger    *slog.Logger
}

func newZoneCorrelation(id, name, profile, zoneKind string, threshold int, scheduler sched.Scheduler, windowFn WindowFunc, logger *slog.Logger) *zoneCorrelation {
	return &zoneCorrelation{
		id:        id,
		name:      name,
		profile:   profile,
		zoneKind:  zoneKind,
		threshold: threshold,
		typeCount: map[model.SensorType]int{},
		scheduler: scheduler,
		windowFn:  windowFn,
		logger:    logger,
	}
}

// add records an event, opening the window if none is active, and reports
// whether the zone's profile rule is now satisfied.
func (z *zoneCorrelation) add(ev model.TriggerEvent) bool {
	z.mu.Lock()
	defer z.mu.Unlock()

	if !z.active {
		window := z.windowFn(ev, z.zoneKind)
		z.active = true
		gen := z.gen
		z.timer = z.scheduler.CallLater(window, func() { z.expire(gen) })
		z.logger.Debug("correlation window opened",
			"zone", z.name, "window", window.String(), "trigger", ev.EntityID)
	}

	z.events = append(z.events, ev)
	z.typeCount[ev.SensorType]++
	z.score += ev.Score
	return z.satisfiedLocked()
}

// satisfiedLocked applies the zone profile rule to the current window.
func (z *zoneCorrelation) satisfiedLocked() bool {
	if z.score < z.threshold {
		return false
	}
	switch z.profile {
	case scoring.ProfilePerimeterOnly:
		return z.typeCount[model.SensorContact] >= 2
	case scoring.ProfilePerimeterPlus:
		return z.typeCount[model.SensorContact] >= 1 && z.volumetricCountLocked() >= 1
	case scoring.ProfileRich:
		return z.typeCount[model.SensorContact] >= 1 || z.typeCount[model.SensorPerson] >= 1
	case scoring.ProfileVolumetricDiverse:
		return z.distinctVolumetricLocked() >= 2
	default:
		// Unknown profile degrades to score-only so a misconfigured zone
		// still raises rather than going silent.
		z.logger.Warn("unknown zone profile, confirming on score alone",
			"zone", z.name, "profile", z.profile)
		return true
	}
}

func (z *zoneCorrelation) volumetricCountLocked() int {
	n := 0
	for t, c := range z.typeCount {
		if scoring.IsVolumetric(t) {
			n += c
		}
	}
	return n
}

func (z *zoneCorrelation) distinctVolumetricLocked() int {
	n := 0
	for t, c := range z.typeCount {
		if scoring.IsVolumetric(t) && c > 0 {
			n++
		}
	}
	return n
}

// expire closes the window when its timer fires. A stale generation means
// the window was reset or confirmed before the timer ran.
func (z *zoneCorrelation) expire(gen uint64) {
	z.mu.Lock()
	if !z.active || gen != z.gen {
		z.mu.Unlock()
		return
	}
	events := z.events
	z.resetLocked()
	onExpire := z.onExpire
	z.mu.Unlock()

	z.logger.Debug("correlation window expired", "zone", z.name, "events", len(events))
	if onExpire != nil {
		onExpire(z, events)
	}
}

func (z *zoneCorrelation) currentEvents() []model.TriggerEvent {
	z.mu.Lock()
	defer z.mu.Unlock()
	out := make([]model.TriggerEvent, len(z.events))
	copy(out, z.events)
	return out
}

// freeze cancels the expiry timer while keeping the window contents, so
// confirmation snapshots stay intact until the next reset.
func (z *zoneCorrelation) freeze() {
	z.mu.Lock()
	z.gen++
	if z.timer != nil {
		z.timer.Cancel()
		z.timer = nil
	}
	z.mu.Unlock()
}

func (z *zoneCorrelation) reset() {
	z.mu.Lock()
	z.resetLocked()
	z.mu.Unlock()
}

func (z *zoneCorrelation) resetLocked() {
	z.gen++
	if z.timer != nil {
		z.timer.Cancel()
		z.timer = nil
	}
	z.active = false
	z.score = 0
	z.events = nil
	z.typeCount = map[model.SensorType]int{}
}

func (z *zoneCorrelation) snapshot() model.ZoneSnapshot {
	z.mu.Lock()
	defer z.mu.Unlock()
	return model.ZoneSnapshot{
		ZoneID:     z.id,
		ZoneName:   z.name,
		Profile:    z.profile,
		Active:     z.active,
		TotalScore: z.score,
		Threshold:  z.threshold,
		Events:     breakdown(z.events),
	}
}

// breakdown converts window events into the form handed to notification
// formatting and API snapshots.
func breakdown(events []model.TriggerEvent) []model.EventBreakdown {
	out := make([]model.EventBreakdown, 0, len(events))
	for _, ev := range events {
		out = append(out, model.EventBreakdown{
			EntityID: ev.EntityID,
			Type:     ev.SensorType,
			Name:     ev.EntityName,
			Score:    ev.Score,
			Zone:     ev.ZoneName,
		})
	}
	return out
}
