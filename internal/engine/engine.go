package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"homeguard/internal/config"
	"homeguard/internal/model"
	"homeguard/internal/sched"
	"homeguard/internal/scoring"
)

// NoScore tells ProcessSensorEvent to use the classifier's base score
// instead of a learner-adjusted one.
const NoScore = -1

// route binds one entity to its zone plus the armed modes it is active in.
type route struct {
	zone      *zoneCorrelation
	perimeter bool
	modes     map[model.AlarmState]bool
}

// Params configures a ZoneEngine. Zones is required; everything else has
// a working default.
type Params struct {
	Zones     []config.Zone
	Scoring   *scoring.Model
	Scheduler sched.Scheduler
	Window    WindowFunc
	// ZoneKinds maps zone id to the adaptive zone kind, when known.
	ZoneKinds map[string]string
	Logger    *slog.Logger

	// OnConfirmed fires exactly once per episode, outside engine locks.
	OnConfirmed func(model.ConfirmationDetail)
	// OnTimeout fires when a zone window expires unconfirmed, outside
	// engine locks, with the expired events.
	OnTimeout func(zoneName string, events []model.TriggerEvent)
}

// ZoneEngine routes scored events into per-zone correlation windows and
// confirms an intrusion on either of two paths: the zone's own profile
// rule, or the cross-zone global score threshold. The global path is
// checked first and short-circuits.
type ZoneEngine struct {
	logger    *slog.Logger
	scoring   *scoring.Model
	scheduler sched.Scheduler

	mu           sync.Mutex
	zones        []*zoneCorrelation
	sensorRoutes map[string]*route
	cameraRoutes map[string]*route
	globalScore  float64
	anchorZone   string
	confirmed    bool

	onConfirmed func(model.ConfirmationDetail)
	onTimeout   func(zoneName string, events []model.TriggerEvent)
}

func New(p Params) (*ZoneEngine, error) {
	if len(p.Zones) == 0 {
		return nil, fmt.Errorf("engine needs at least one zone")
	}
	if p.Scoring == nil {
		p.Scoring = scoring.Default()
	}
	if p.Scheduler == nil {
		p.Scheduler = sched.System()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Window == nil {
		p.Window = func(model.TriggerEvent, string) time.Duration { return 60 * time.Second }
	}

	e := &ZoneEngine{
		logger:       p.Logger,
		scoring:      p.Scoring,
		scheduler:    p.Scheduler,
		sensorRoutes: map[string]*route{},
		cameraRoutes: map[string]*route{},
		onConfirmed:  p.OnConfirmed,
		onTimeout:    p.OnTimeout,
	}

	for _, zc := range p.Zones {
		kind := p.ZoneKinds[zc.ID]
		z := newZoneCorrelation(zc.ID, zc.Name, zc.Profile, kind,
			p.Scoring.Threshold(zc.Profile), e.scheduler, p.Window, e.logger)
		z.onExpire = e.zoneExpired
		e.zones = append(e.zones, z)

		zoneModes := map[model.AlarmState]bool{}
		for _, m := range zc.ArmedModes {
			zoneModes[model.AlarmState(m)] = true
		}
		addRoute := func(table map[string]*route, ids []string, perimeter bool, modes map[model.AlarmState]bool) error {
			for _, id := range ids {
				if prev, dup := table[id]; dup {
					return fmt.Errorf("entity %s belongs to both zone %q and zone %q", id, prev.zone.name, zc.Name)
				}
				table[id] = &route{zone: z, perimeter: perimeter, modes: modes}
			}
			return nil
		}
		intersect := func(only model.AlarmState) map[model.AlarmState]bool {
			out := map[model.AlarmState]bool{}
			if zoneModes[only] {
				out[only] = true
			}
			return out
		}
		if err := addRoute(e.sensorRoutes, zc.PerimeterSensors, true, zoneModes); err != nil {
			return nil, err
		}
		if err := addRoute(e.sensorRoutes, zc.InteriorBoth, false, zoneModes); err != nil {
			return nil, err
		}
		if err := addRoute(e.sensorRoutes, zc.InteriorAway, false, intersect(model.StateArmedAway)); err != nil {
			return nil, err
		}
		if err := addRoute(e.sensorRoutes, zc.InteriorHome, false, intersect(model.StateArmedHome)); err != nil {
			return nil, err
		}
		if err := addRoute(e.cameraRoutes, zc.CamerasBoth, false, zoneModes); err != nil {
			return nil, err
		}
		if err := addRoute(e.cameraRoutes, zc.CamerasAway, false, intersect(model.StateArmedAway)); err != nil {
			return nil, err
		}
		if err := addRoute(e.cameraRoutes, zc.CamerasHome, false, intersect(model.StateArmedHome)); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ProcessSensorEvent scores and routes one sensor activation. adjustedScore
// overrides the classifier's base score unless it is NoScore. It returns
// true when this event confirmed the intrusion.
func (e *ZoneEngine) ProcessSensorEvent(entityID, entityName string, mode model.AlarmState, adjustedScore int) bool {
	e.mu.Lock()
	r := e.sensorRoutes[entityID]
	e.mu.Unlock()
	if r == nil {
		e.logger.Debug("event from unconfigured sensor", "entity", entityID)
		return false
	}
	if !r.modes[mode] {
		e.logger.Debug("sensor not active in current mode", "entity", entityID, "mode", string(mode))
		return false
	}
	sensorType, base := e.scoring.Classify(entityID, r.perimeter)
	score := base
	if adjustedScore != NoScore {
		score = adjustedScore
	}
	ev := model.TriggerEvent{
		EntityID:   entityID,
		EntityName: entityName,
		SensorType: sensorType,
		Score:      score,
		ZoneID:     r.zone.id,
		ZoneName:   r.zone.name,
		Timestamp:  time.Now(),
	}
	return e.ingest(r.zone, ev)
}

// ProcessPersonDetection routes a camera person event. Cameras always
// classify as person.
func (e *ZoneEngine) ProcessPersonDetection(camera string, mode model.AlarmState, adjustedScore int) bool {
	e.mu.Lock()
	r := e.cameraRoutes[camera]
	e.mu.Unlock()
	if r == nil {
		e.logger.Debug("detection from unconfigured camera", "camera", camera)
		return false
	}
	if !r.modes[mode] {
		return false
	}
	score := e.scoring.Person
	if adjustedScore != NoScore {
		score = adjustedScore
	}
	ev := model.TriggerEvent{
		EntityID:   camera,
		EntityName: camera,
		SensorType: model.SensorPerson,
		Score:      score,
		ZoneID:     r.zone.id,
		ZoneName:   r.zone.name,
		Timestamp:  time.Now(),
	}
	return e.ingest(r.zone, ev)
}

// ingest applies one scored event. The global path is evaluated first:
// when the cross-zone total clears the threshold the event never enters
// a zone window. Only otherwise does the zone's profile rule run.
func (e *ZoneEngine) ingest(z *zoneCorrelation, ev model.TriggerEvent) bool {
	e.mu.Lock()
	if e.confirmed {
		e.mu.Unlock()
		e.logger.Debug("event after confirmation ignored", "entity", ev.EntityID)
		return false
	}

	if e.anchorZone == "" {
		e.anchorZone = z.name
	}
	mult := 1.0
	if z.name != e.anchorZone {
		mult = e.scoring.CrossZoneMult
	}
	e.globalScore += float64(ev.Score) * mult

	if e.globalScore >= float64(e.scoring.GlobalThreshold) {
		e.confirmed = true
		detail := e.detailLocked("global", ev, append(e.allEventsLocked(), ev))
		e.mu.Unlock()
		e.confirm(detail)
		return true
	}
	e.mu.Unlock()

	if !z.add(ev) {
		return false
	}

	e.mu.Lock()
	if e.confirmed {
		e.mu.Unlock()
		return false
	}
	e.confirmed = true
	detail := e.detailLocked("local", ev, z.currentEvents())
	e.mu.Unlock()
	e.confirm(detail)
	return true
}

// confirm cancels every window timer and fires the confirmation callback.
// Windows keep their contents so snapshots stay readable until Reset.
func (e *ZoneEngine) confirm(detail model.ConfirmationDetail) {
	for _, z := range e.zones {
		z.freeze()
	}
	e.logger.Info("intrusion confirmed",
		"zone", detail.ZoneName, "via", detail.ConfirmedVia,
		"trigger", detail.TriggerSensor, "global_score", detail.GlobalScore)
	if e.onConfirmed != nil {
		e.onConfirmed(detail)
	}
}

func (e *ZoneEngine) detailLocked(via string, trigger model.TriggerEvent, events []model.TriggerEvent) model.ConfirmationDetail {
	return model.ConfirmationDetail{
		ZoneName:      trigger.ZoneName,
		ConfirmedVia:  via,
		TriggerSensor: trigger.EntityID,
		TriggerName:   trigger.EntityName,
		GlobalScore:   e.globalScore,
		Events:        breakdown(events),
	}
}

func (e *ZoneEngine) allEventsLocked() []model.TriggerEvent {
	var out []model.TriggerEvent
	for _, z := range e.zones {
		out = append(out, z.currentEvents()...)
	}
	return out
}

// zoneExpired runs when a zone window times out. The global score and
// anchor survive the timeout: an intruder lingering past one window still
// accumulates toward the cross-zone threshold. Only disarm, confirmation
// or an explicit reset end the episode.
func (e *ZoneEngine) zoneExpired(z *zoneCorrelation, events []model.TriggerEvent) {
	e.mu.Lock()
	if e.confirmed {
		e.mu.Unlock()
		return
	}
	onTimeout := e.onTimeout
	e.mu.Unlock()

	if onTimeout != nil {
		onTimeout(z.name, events)
	}
}

// ReplaceSensor rewires an entity to a new id in place, keeping its zone
// and mode bindings. Used when a paired dual-technology sensor is
// substituted by its combined virtual entity.
func (e *ZoneEngine) ReplaceSensor(oldID, newID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.sensorRoutes[oldID]
	if !ok {
		return fmt.Errorf("sensor %s not configured", oldID)
	}
	if _, dup := e.sensorRoutes[newID]; dup {
		return fmt.Errorf("sensor %s already configured", newID)
	}
	delete(e.sensorRoutes, oldID)
	e.sensorRoutes[newID] = r
	return nil
}

// Reset clears every window, the global accumulator and the confirmed
// latch. Safe to call at any time, including repeatedly.
func (e *ZoneEngine) Reset() {
	e.mu.Lock()
	e.globalScore = 0
	e.anchorZone = ""
	e.confirmed = false
	zones := e.zones
	e.mu.Unlock()

	for _, z := range zones {
		z.reset()
	}
	e.logger.Debug("engine reset")
}

// Confirmed reports whether the current episode has latched.
func (e *ZoneEngine) Confirmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed
}

// Snapshot returns a read-only view of the engine for the status API.
func (e *ZoneEngine) Snapshot() model.EngineSnapshot {
	e.mu.Lock()
	snap := model.EngineSnapshot{
		GlobalScore:     e.globalScore,
		GlobalThreshold: e.scoring.GlobalThreshold,
		FirstZone:       e.anchorZone,
		Confirmed:       e.confirmed,
	}
	zones := e.zones
	e.mu.Unlock()

	for _, z := range zones {
		snap.Zones = append(snap.Zones, z.snapshot())
	}
	return snap
}

// KnownSensor reports whether the entity is routed to any zone.
func (e *ZoneEngine) KnownSensor(entityID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sensorRoutes[entityID]
	return ok
}

// SensorZone returns the zone name an entity is routed to, with perimeter
// membership, for classification by callers.
func (e *ZoneEngine) SensorZone(entityID string) (zoneName string, perimeter bool, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.sensorRoutes[entityID]
	if !ok {
		return "", false, false
	}
	return r.zone.name, r.perimeter, true
}
