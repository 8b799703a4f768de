package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"homeguard/internal/adaptive"
	"homeguard/internal/config"
	"homeguard/internal/engine"
	"homeguard/internal/escalation"
	"homeguard/internal/health"
	"homeguard/internal/history"
	"homeguard/internal/ingest"
	"homeguard/internal/learning"
	"homeguard/internal/metrics"
	"homeguard/internal/model"
	"homeguard/internal/sched"
	"homeguard/internal/scoring"
	"homeguard/internal/statemachine"
	"homeguard/internal/storage"
)

var allStates = []string{
	string(model.StateDisarmed), string(model.StateArming),
	string(model.StateArmedAway), string(model.StateArmedHome),
	string(model.StatePending), string(model.StatePreAlarm),
	string(model.StateConfirmed), string(model.StateFault),
}

// Params wires a Guardian. Config and Logger are required; the host
// interfaces and Store are optional and disable their features when nil.
type Params struct {
	Config    *config.Config
	Logger    *slog.Logger
	Scheduler sched.Scheduler
	Store     storage.Store
	Host      escalation.ServiceCaller
	States    health.StateReader
	Registry  prometheus.Registerer
}

// Guardian composes the alarm: state machine, correlation engine, learner,
// escalation, health monitoring and the audit trail. It is the ingest
// sink and the facade the status API reads from.
type Guardian struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler sched.Scheduler

	machine   *statemachine.Machine
	engine    *engine.ZoneEngine
	learner   *learning.Learner
	scoring   *scoring.Model
	calc      *adaptive.Calculator
	escalator *escalation.Escalator
	monitor   *health.Monitor
	store     storage.Store
	ring      *history.Ring
	metrics   *metrics.Metrics

	// pairs maps dual-technology sub-entities to their combined id.
	pairs map[string]string

	mu          sync.Mutex
	pendingObs  *model.Observation
	lastHealth  model.HealthReport
	prevOffline map[string]bool
}

func New(p Params) (*Guardian, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("guardian requires a config")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Scheduler == nil {
		p.Scheduler = sched.System()
	}

	g := &Guardian{
		cfg:         p.Config,
		logger:      p.Logger,
		scheduler:   p.Scheduler,
		store:       p.Store,
		ring:        history.NewRing(p.Config.Learner.HistoryLimit),
		metrics:     metrics.New(p.Registry),
		prevOffline: map[string]bool{},
	}

	g.scoring = scoringFromConfig(p.Config.Scoring)
	g.learner = learning.New(p.Logger)
	g.learner.SetEnabled(p.Config.Learner.Enabled)

	windowFn := g.fixedWindow
	if p.Config.Timing.AdaptiveWindow {
		g.calc = adaptive.NewCalculator()
		windowFn = g.adaptiveWindow
	}

	eng, err := engine.New(engine.Params{
		Zones:       p.Config.Zones,
		Scoring:     g.scoring,
		Scheduler:   p.Scheduler,
		Window:      windowFn,
		ZoneKinds:   zoneKinds(p.Config.Zones),
		Logger:      p.Logger,
		OnConfirmed: g.onConfirmed,
		OnTimeout:   g.onTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	g.engine = eng

	g.machine = statemachine.New(
		p.Config.Timing.EntryDelay, p.Config.Timing.ExitDelay,
		p.Scheduler, p.Logger, statemachine.Callbacks{
			OnTransition:        g.onTransition,
			OnEntryDelayExpired: g.onEntryDelayExpired,
		})

	caller, err := escalation.NewCallPlacer(p.Config.Notify.VoIP, p.Host, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("build voip provider: %w", err)
	}
	recorder := &meteredRecorder{metrics: g.metrics}
	if p.Store != nil {
		recorder.next = p.Store
	}
	g.escalator = escalation.New(escalation.Params{
		Webhook:         escalation.NewWebhookNotifier(p.Config.Notify.Webhook, p.Logger),
		Caller:          caller,
		Siren:           escalation.NewHostSiren(p.Config.Notify, p.Host),
		Recorder:        recorder,
		Scheduler:       p.Scheduler,
		Logger:          p.Logger,
		CallDelay:       p.Config.Notify.CallDelay,
		PrimaryNumber:   p.Config.Notify.VoIP.PrimaryNumber,
		SecondaryNumber: p.Config.Notify.VoIP.SecondaryNumber,
	})

	if p.States != nil {
		g.monitor = health.NewMonitor(p.States, allSensorIDs(p.Config.Zones), p.Config.Health, p.Logger)
		g.monitor.OnReport = g.onHealthReport
	}

	g.pairs = pairDualTech(p.Config.Zones)
	for old, combined := range g.pairs {
		if strings.Contains(strings.ToLower(old), "_pir_detection") {
			if err := g.engine.ReplaceSensor(old, combined); err != nil {
				p.Logger.Warn("dual-tech pairing skipped", "entity", old, "error", err)
			}
		}
	}

	g.metrics.SetState(allStates, string(model.StateDisarmed))
	return g, nil
}

// Start trains the learner from history and launches the configured
// background loops on the group.
func (g *Guardian) Start(ctx context.Context, group *errgroup.Group) error {
	src := learning.EventSource(g.ring)
	if g.store != nil {
		src = g.store
	}
	if err := g.learner.Train(ctx, src, g.cfg.Learner.HistoryLimit); err != nil {
		g.logger.Warn("learner training failed, starting cold", "error", err)
	}

	if g.monitor != nil {
		group.Go(func() error {
			g.monitor.Run(ctx)
			return nil
		})
	}
	if g.cfg.Ingest.Kafka.Enabled {
		consumer := ingest.NewKafkaConsumer(g.cfg.Ingest.Kafka, g, g.logger)
		group.Go(func() error { return consumer.Run(ctx) })
	}
	if g.cfg.Ingest.REST.Enabled {
		receiver := ingest.NewRESTReceiver(g.cfg.Ingest.REST.Addr, g, g.logger)
		group.Go(func() error { return receiver.Run(ctx) })
	}
	g.notify(ctx, "system_online", map[string]any{"zones": len(g.cfg.Zones)})
	return nil
}

// Arm starts the arming sequence toward the requested mode.
func (g *Guardian) Arm(mode model.AlarmState) error {
	if err := g.machine.Arm(mode); err != nil {
		return err
	}
	g.logEvent(model.LogEntry{
		EventType: model.EventArm,
		StateTo:   string(mode),
		Notes:     "arming requested",
	})
	g.notify(context.Background(), "arming", map[string]any{
		"mode":       string(mode),
		"exit_delay": g.cfg.Timing.ExitDelay.Seconds(),
	})
	return nil
}

// Disarm stops everything: pending delays, open windows, sirens and
// scheduled calls. A disarm during pre-alarm records the episode as a
// false alarm for the learner.
func (g *Guardian) Disarm(by string) {
	prev := g.machine.State()
	if prev == model.StatePreAlarm || prev == model.StatePending {
		now := time.Now()
		for _, z := range g.engine.Snapshot().Zones {
			for _, ev := range z.Events {
				g.learner.LearnOutcome(ev.EntityID, true, now)
			}
		}
	}
	g.machine.Disarm("disarmed by " + by)
	g.engine.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g.escalator.Abort(ctx, "disarmed")
	g.mu.Lock()
	g.pendingObs = nil
	g.mu.Unlock()

	g.logEvent(model.LogEntry{
		EventType: model.EventDisarm,
		StateFrom: string(prev),
		StateTo:   string(model.StateDisarmed),
		Notes:     "by " + by,
	})
	g.notify(ctx, "disarmed", map[string]any{"by": by, "previous_state": string(prev)})
}

// SyncPanelState adopts a state change made directly on the host's alarm
// panel.
func (g *Guardian) SyncPanelState(state model.AlarmState) {
	if state == model.StateDisarmed {
		g.Disarm("panel")
		return
	}
	g.machine.SyncExternal(state)
}

// HandleObservation is the ingest sink for sensor events.
func (g *Guardian) HandleObservation(obs model.Observation) {
	if !obs.IsOn {
		return
	}
	if !obs.Timestamp.IsZero() {
		g.metrics.IngestLag.Observe(time.Since(obs.Timestamp).Seconds())
	}
	entityID := g.canonical(obs.EntityID)
	obs.EntityID = entityID

	state := g.machine.State()
	switch {
	case state.IsArmedMode():
		g.firstTrigger(obs, state)
	case state == model.StatePreAlarm:
		g.process(obs, g.machine.ArmedMode())
	default:
		g.metrics.EventsIgnored.Inc()
		g.logger.Debug("event outside accepting states", "entity", entityID, "state", string(state))
	}
}

// firstTrigger handles an event arriving in a quiet armed state. A
// perimeter sensor opens the entry grace instead of scoring immediately,
// giving the owner time to disarm; anything else goes straight to
// pre-alarm processing.
func (g *Guardian) firstTrigger(obs model.Observation, mode model.AlarmState) {
	_, perimeter, known := g.engine.SensorZone(obs.EntityID)
	if !known {
		g.metrics.EventsIgnored.Inc()
		return
	}
	if perimeter && g.cfg.Timing.EntryDelay > 0 {
		g.mu.Lock()
		g.pendingObs = &obs
		g.mu.Unlock()
		if err := g.machine.StartEntryDelay(); err != nil {
			g.logger.Warn("entry delay start failed", "error", err)
			return
		}
		g.logEvent(model.LogEntry{
			EventType:  model.EventEntryDelay,
			SensorID:   obs.EntityID,
			SensorName: obs.Name,
			Notes:      "perimeter trigger, entry grace started",
		})
		g.notify(context.Background(), "entry_delay", map[string]any{
			"sensor":  obs.Name,
			"seconds": g.cfg.Timing.EntryDelay.Seconds(),
		})
		return
	}
	if err := g.machine.TriggerPreAlarm(); err != nil {
		g.logger.Warn("pre-alarm transition failed", "error", err)
		return
	}
	g.process(obs, mode)
}

// onEntryDelayExpired releases the buffered perimeter event into the
// engine once the grace elapses without a disarm.
func (g *Guardian) onEntryDelayExpired() {
	g.mu.Lock()
	obs := g.pendingObs
	g.pendingObs = nil
	g.mu.Unlock()
	if obs == nil {
		return
	}
	g.process(*obs, g.machine.ArmedMode())
}

// process scores one observation and feeds the correlation engine.
func (g *Guardian) process(obs model.Observation, mode model.AlarmState) {
	if !mode.IsArmedMode() {
		g.metrics.EventsIgnored.Inc()
		return
	}
	zoneName, perimeter, known := g.engine.SensorZone(obs.EntityID)
	if !known {
		g.metrics.EventsIgnored.Inc()
		return
	}
	now := time.Now()
	sensorType, base := g.scoring.Classify(obs.EntityID, perimeter)
	g.learner.RecordTrigger(obs.EntityID, now)
	adjusted := g.learner.AdjustScore(obs.EntityID, sensorType, base, now)

	g.metrics.EventsProcessed.WithLabelValues(string(sensorType), zoneName).Inc()
	g.logEvent(model.LogEntry{
		EventType:  model.EventTrigger,
		SensorID:   obs.EntityID,
		SensorName: obs.Name,
		Score:      adjusted,
		Notes:      "zone " + zoneName,
	})

	g.engine.ProcessSensorEvent(obs.EntityID, obs.Name, mode, adjusted)
	g.metrics.GlobalScore.Set(g.engine.Snapshot().GlobalScore)
}

// HandlePersonDetection is the ingest sink for camera person events.
func (g *Guardian) HandlePersonDetection(det model.PersonDetection) {
	state := g.machine.State()
	var mode model.AlarmState
	switch {
	case state.IsArmedMode():
		mode = state
		if err := g.machine.TriggerPreAlarm(); err != nil {
			g.logger.Warn("pre-alarm transition failed", "error", err)
			return
		}
	case state == model.StatePreAlarm:
		mode = g.machine.ArmedMode()
	default:
		g.metrics.EventsIgnored.Inc()
		return
	}

	now := time.Now()
	g.learner.RecordTrigger(det.Camera, now)
	adjusted := g.learner.AdjustScore(det.Camera, model.SensorPerson, g.scoring.Person, now)

	g.logEvent(model.LogEntry{
		EventType:  model.EventTrigger,
		SensorID:   det.Camera,
		SensorName: det.Camera,
		Score:      adjusted,
		Notes:      fmt.Sprintf("person detection, confidence %.2f", det.Confidence),
	})
	g.escalator.NoteDetection(det.Camera, det.EventID)
	g.engine.ProcessPersonDetection(det.Camera, mode, adjusted)
	g.metrics.GlobalScore.Set(g.engine.Snapshot().GlobalScore)
}

// onConfirmed runs when the engine latches an intrusion.
func (g *Guardian) onConfirmed(detail model.ConfirmationDetail) {
	if err := g.machine.Confirm(); err != nil {
		g.logger.Warn("confirm transition failed", "error", err)
	}
	now := time.Now()
	for _, ev := range detail.Events {
		g.learner.LearnOutcome(ev.EntityID, false, now)
	}
	g.metrics.Confirmations.WithLabelValues(detail.ConfirmedVia).Inc()

	eventID := g.logEvent(model.LogEntry{
		EventType:  model.EventConfirm,
		StateTo:    string(model.StateConfirmed),
		SensorID:   detail.TriggerSensor,
		SensorName: detail.TriggerName,
		Score:      int(detail.GlobalScore),
		Notes:      fmt.Sprintf("zone %s via %s", detail.ZoneName, detail.ConfirmedVia),
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		g.escalator.StartConfirmed(ctx, eventID, detail)
	}()
}

// onTimeout runs when a zone window expires without confirmation. Every
// sensor in the window learns a false alarm.
func (g *Guardian) onTimeout(zoneName string, events []model.TriggerEvent) {
	now := time.Now()
	for _, ev := range events {
		g.learner.LearnOutcome(ev.EntityID, true, now)
	}
	g.metrics.Timeouts.Inc()
	g.logEvent(model.LogEntry{
		EventType: model.EventTimeout,
		Notes:     fmt.Sprintf("zone %s, %d events expired", zoneName, len(events)),
	})

	state := g.machine.State()
	if state == model.StatePreAlarm || state == model.StatePending {
		if err := g.machine.ResetToArmed("correlation timeout"); err != nil {
			g.logger.Warn("reset to armed failed", "error", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g.escalator.NotifyTimeout(ctx, zoneName, events)
}

func (g *Guardian) onTransition(from, to model.AlarmState, reason string) {
	g.metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	g.metrics.SetState(allStates, string(to))
	if to == model.StateFault {
		g.logEvent(model.LogEntry{
			EventType: model.EventFault,
			StateFrom: string(from),
			StateTo:   string(to),
			Notes:     reason,
		})
	}
}

func (g *Guardian) onHealthReport(report model.HealthReport) {
	g.metrics.SensorsOffline.Set(float64(len(report.SensorsOffline)))
	if report.Jamming {
		g.metrics.JammingSuspected.Set(1)
	} else {
		g.metrics.JammingSuspected.Set(0)
	}

	g.mu.Lock()
	prevJamming := g.lastHealth.Jamming
	prevOffline := g.prevOffline
	g.lastHealth = report
	offlineNow := map[string]bool{}
	for _, id := range report.SensorsOffline {
		offlineNow[id] = true
	}
	g.prevOffline = offlineNow
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if report.Jamming && !prevJamming {
		g.logEvent(model.LogEntry{EventType: model.EventJamming, Notes: report.JammingReason})
		g.notify(ctx, "jamming_suspected", map[string]any{
			"reason":  report.JammingReason,
			"offline": report.SensorsOffline,
		})
	}
	var recovered []string
	for id := range prevOffline {
		if !offlineNow[id] {
			recovered = append(recovered, id)
		}
	}
	g.escalator.NotifyOffline(ctx, report.SensorsOffline, recovered)
	g.escalator.NotifyLowBattery(ctx, report.LowBattery)
}

// ResetEpisode clears the correlation state and, when pre-alarm is
// active, returns to the armed mode. Exposed on the status API.
func (g *Guardian) ResetEpisode() {
	g.engine.Reset()
	state := g.machine.State()
	if state == model.StatePreAlarm || state == model.StatePending {
		g.machine.ResetToArmed("manual reset")
	}
	g.logEvent(model.LogEntry{EventType: model.EventReset, Notes: "manual"})
	g.metrics.GlobalScore.Set(0)
}

// Status is the aggregate view the API serves.
type Status struct {
	State      model.AlarmState     `json:"state"`
	ArmedMode  model.AlarmState     `json:"armed_mode,omitempty"`
	Engine     model.EngineSnapshot `json:"engine"`
	Learning   learning.Stats       `json:"learning"`
	Health     model.HealthReport   `json:"health"`
	ZonesTotal int                  `json:"zones_total"`
}

func (g *Guardian) Status() Status {
	g.mu.Lock()
	healthReport := g.lastHealth
	g.mu.Unlock()
	return Status{
		State:      g.machine.State(),
		ArmedMode:  g.machine.ArmedMode(),
		Engine:     g.engine.Snapshot(),
		Learning:   g.learner.Statistics(),
		Health:     healthReport,
		ZonesTotal: len(g.cfg.Zones),
	}
}

// RecentEvents serves the events API: storage when enabled, the in-memory
// ring otherwise.
func (g *Guardian) RecentEvents(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if g.store != nil {
		return g.store.RecentEvents(ctx, limit)
	}
	return g.ring.Recent(limit), nil
}

// SensorReliability exposes the learner's per-sensor view.
func (g *Guardian) SensorReliability(sensorID string) learning.Reliability {
	return g.learner.SensorReliability(sensorID)
}

// logEvent writes the audit row to the ring and, when enabled, storage.
// The returned id comes from storage when available.
func (g *Guardian) logEvent(e model.LogEntry) int64 {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if g.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		id, err := g.store.LogEvent(ctx, e)
		cancel()
		if err != nil {
			g.logger.Error("audit write failed", "error", err)
		} else {
			e.ID = id
		}
	}
	return g.ring.Append(e)
}

func (g *Guardian) notify(ctx context.Context, kind string, fields map[string]any) {
	g.escalator.Notify(ctx, kind, fields)
}

// meteredRecorder counts and times escalation deliveries before handing
// the record to the store, if one is configured.
type meteredRecorder struct {
	next    escalation.Recorder
	metrics *metrics.Metrics
}

func (r *meteredRecorder) LogEscalation(ctx context.Context, rec model.EscalationRecord) error {
	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	r.metrics.Escalations.WithLabelValues(rec.Channel, outcome).Inc()
	r.metrics.EscalationTime.WithLabelValues(rec.Channel).Observe(rec.ResponseTime)
	if r.next == nil {
		return nil
	}
	return r.next.LogEscalation(ctx, rec)
}

// canonical maps dual-tech sub-entities to their combined id.
func (g *Guardian) canonical(entityID string) string {
	if combined, ok := g.pairs[entityID]; ok {
		return combined
	}
	return entityID
}

func (g *Guardian) fixedWindow(model.TriggerEvent, string) time.Duration {
	return g.cfg.Timing.CorrelationWindow
}

func (g *Guardian) adaptiveWindow(ev model.TriggerEvent, zoneKind string) time.Duration {
	return g.calc.Window(time.Now(), ev.SensorType, zoneKind, g.learner.FalseAlarmRate(ev.EntityID))
}

// scoringFromConfig overlays config tunables on the default model.
func scoringFromConfig(c config.ScoringConfig) *scoring.Model {
	m := scoring.Default()
	if c.ContactScore > 0 {
		m.Contact = c.ContactScore
	}
	if c.RadarScore > 0 {
		m.Radar = c.RadarScore
	}
	if c.MotionScore > 0 {
		m.Motion = c.MotionScore
	}
	if c.PersonScore > 0 {
		m.Person = c.PersonScore
	}
	for profile, th := range c.ProfileThresholds {
		if th > 0 {
			m.ProfileThresholds[profile] = th
		}
	}
	if c.GlobalThreshold > 0 {
		m.GlobalThreshold = c.GlobalThreshold
	}
	if c.CrossZoneMult > 0 {
		m.CrossZoneMult = c.CrossZoneMult
	}
	return m
}

// zoneKinds derives each zone's adaptive kind by majority vote over its
// sensors.
func zoneKinds(zones []config.Zone) map[string]string {
	out := map[string]string{}
	for _, z := range zones {
		counts := map[string]int{}
		for _, id := range z.PerimeterSensors {
			counts[adaptive.DetectZoneKind(id)]++
		}
		for _, id := range z.InteriorBoth {
			counts[adaptive.DetectZoneKind(id)]++
		}
		for _, id := range z.InteriorAway {
			counts[adaptive.DetectZoneKind(id)]++
		}
		for _, id := range z.InteriorHome {
			counts[adaptive.DetectZoneKind(id)]++
		}
		best, bestN := adaptive.ZoneKindUnknown, 0
		for kind, n := range counts {
			if n > bestN {
				best, bestN = kind, n
			}
		}
		out[z.ID] = best
	}
	return out
}

func allSensorIDs(zones []config.Zone) []string {
	var out []string
	for _, z := range zones {
		out = append(out, z.AllSensors()...)
	}
	return out
}

// pairDualTech finds sensors configured as both halves of a dual-tech
// device and maps each half to the combined virtual entity, so the two
// streams cannot double count.
func pairDualTech(zones []config.Zone) map[string]string {
	suffixes := scoring.DualTechSuffixes()
	bases := map[string][]string{}
	for _, id := range flattenInterior(zones) {
		lower := strings.ToLower(id)
		for _, suffix := range suffixes {
			if strings.HasSuffix(lower, suffix) {
				base := id[:len(id)-len(suffix)]
				bases[base] = append(bases[base], id)
			}
		}
	}
	pairs := map[string]string{}
	for base, ids := range bases {
		if len(ids) < 2 {
			continue
		}
		combined := base + scoring.CombinedSuffix()
		for _, id := range ids {
			pairs[id] = combined
		}
	}
	return pairs
}

func flattenInterior(zones []config.Zone) []string {
	var out []string
	for _, z := range zones {
		out = append(out, z.InteriorBoth...)
		out = append(out, z.InteriorAway...)
		out = append(out, z.InteriorHome...)
	}
	return out
}
