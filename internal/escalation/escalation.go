package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"homeguard/internal/config"
	"homeguard/internal/model"
	"homeguard/internal/sched"
)

// SirenControl drives the configured siren entity through the host.
type SirenControl interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Recorder persists delivery attempts. Satisfied by storage.Store.
type Recorder interface {
	LogEscalation(ctx context.Context, r model.EscalationRecord) error
}

// batteryAlertInterval keeps low-battery advisories to one per sensor per
// day.
const batteryAlertInterval = 24 * time.Hour

// Params configures an Escalator. Nil channels are skipped.
type Params struct {
	Webhook   *WebhookNotifier
	Caller    CallPlacer
	Siren     SirenControl
	Recorder  Recorder
	Scheduler sched.Scheduler
	Logger    *slog.Logger

	CallDelay       time.Duration
	PrimaryNumber   string
	SecondaryNumber string
}

// Escalator runs the response to a confirmed intrusion: siren and webhook
// immediately and in parallel, then a voice call after the call delay
// unless the episode is aborted by a disarm first. It also delivers the
// advisory notifications around the alarm lifecycle.
type Escalator struct {
	logger    *slog.Logger
	webhook   *WebhookNotifier
	caller    CallPlacer
	siren     SirenControl
	recorder  Recorder
	scheduler sched.Scheduler

	callDelay time.Duration
	primary   string
	secondary string

	mu           sync.Mutex
	callTimer    sched.Timer
	gen          uint64
	aborted      bool
	detectionID  string
	detectionCam string

	limiter *alertLimiter
}

func New(p Params) *Escalator {
	if p.Scheduler == nil {
		p.Scheduler = sched.System()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Escalator{
		logger:    p.Logger,
		webhook:   p.Webhook,
		caller:    p.Caller,
		siren:     p.Siren,
		recorder:  p.Recorder,
		scheduler: p.Scheduler,
		callDelay: p.CallDelay,
		primary:   p.PrimaryNumber,
		secondary: p.SecondaryNumber,
		limiter:   newAlertLimiter(batteryAlertInterval),
	}
}

// NoteDetection remembers the camera event backing the latest person
// detection, so the confirmed response can attach its snapshot and, once
// the recording is closed, its video clip.
func (e *Escalator) NoteDetection(camera, eventID string) {
	if eventID == "" {
		return
	}
	e.mu.Lock()
	e.detectionID = eventID
	e.detectionCam = camera
	e.mu.Unlock()
}

// StartConfirmed launches the confirmed-intrusion response. eventID links
// delivery records back to the audit row for the confirmation.
func (e *Escalator) StartConfirmed(ctx context.Context, eventID int64, detail model.ConfirmationDetail) error {
	e.mu.Lock()
	e.aborted = false
	e.gen++
	gen := e.gen
	detectionID, detectionCam := e.detectionID, e.detectionCam
	e.mu.Unlock()

	payload := map[string]any{
		"type":          "alarm_confirmed",
		"zone":          detail.ZoneName,
		"confirmed_via": detail.ConfirmedVia,
		"trigger":       detail.TriggerName,
		"global_score":  detail.GlobalScore,
		"events":        detail.Events,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.siren != nil {
		g.Go(func() error {
			start := time.Now()
			err := e.siren.TurnOn(gctx)
			e.record(gctx, eventID, "siren", err == nil, 0, time.Since(start))
			if err != nil {
				return fmt.Errorf("siren on: %w", err)
			}
			return nil
		})
	}
	if e.webhook != nil {
		g.Go(func() error {
			start := time.Now()
			retries, err := e.webhook.Send(gctx, payload)
			e.record(gctx, eventID, "webhook", err == nil, retries, time.Since(start))
			return err
		})
	}
	if e.webhook != nil && detectionID != "" {
		g.Go(func() error {
			start := time.Now()
			retries, err := e.webhook.Send(gctx, map[string]any{
				"type":         "camera_snapshot",
				"camera":       detectionCam,
				"detection_id": detectionID,
				"zone":         detail.ZoneName,
				"timestamp":    time.Now().UTC().Format(time.RFC3339),
			})
			e.record(gctx, eventID, "snapshot", err == nil, retries, time.Since(start))
			return err
		})
	}

	wantCalls := e.caller != nil && e.primary != ""
	wantClip := e.webhook != nil && detectionID != ""
	if wantCalls || wantClip {
		e.mu.Lock()
		if e.callTimer != nil {
			e.callTimer.Cancel()
		}
		e.callTimer = e.scheduler.CallLater(e.callDelay, func() {
			e.delayedResponse(gen, eventID, detail)
		})
		e.mu.Unlock()
	}

	err := g.Wait()
	if err != nil {
		e.logger.Error("escalation channel failed", "error", err)
	}
	return err
}

// delayedResponse runs after the call delay: the video clip first, which
// needed the recording to close, then the voice calls.
func (e *Escalator) delayedResponse(gen uint64, eventID int64, detail model.ConfirmationDetail) {
	e.mu.Lock()
	stale := gen != e.gen || e.aborted
	detectionID, detectionCam := e.detectionID, e.detectionCam
	e.mu.Unlock()
	if stale {
		e.logger.Info("delayed escalation skipped, episode aborted")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if e.webhook != nil && detectionID != "" {
		start := time.Now()
		retries, err := e.webhook.Send(ctx, map[string]any{
			"type":         "camera_clip",
			"camera":       detectionCam,
			"detection_id": detectionID,
			"zone":         detail.ZoneName,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
		e.record(ctx, eventID, "clip", err == nil, retries, time.Since(start))
		if err != nil {
			e.logger.Error("clip delivery failed", "detection_id", detectionID, "error", err)
		}
	}

	if e.caller == nil || e.primary == "" {
		return
	}
	message := fmt.Sprintf("Allarme confermato in zona %s, sensore %s", detail.ZoneName, detail.TriggerName)

	start := time.Now()
	err := e.caller.Call(ctx, e.primary, message)
	e.record(ctx, eventID, "voip_primary", err == nil, 0, time.Since(start))
	if err == nil {
		return
	}
	e.logger.Error("primary call failed", "number", e.primary, "error", err)
	if e.secondary == "" {
		return
	}
	start = time.Now()
	err = e.caller.Call(ctx, e.secondary, message)
	e.record(ctx, eventID, "voip_secondary", err == nil, 0, time.Since(start))
	if err != nil {
		e.logger.Error("secondary call failed", "number", e.secondary, "error", err)
	}
}

// Abort stops the pending voice call and turns the siren off. Called on
// disarm during or after a confirmed episode.
func (e *Escalator) Abort(ctx context.Context, reason string) {
	e.mu.Lock()
	e.aborted = true
	e.gen++
	e.detectionID = ""
	e.detectionCam = ""
	if e.callTimer != nil {
		e.callTimer.Cancel()
		e.callTimer = nil
	}
	e.mu.Unlock()

	e.logger.Info("escalation aborted", "reason", reason)
	if e.siren != nil {
		if err := e.siren.TurnOff(ctx); err != nil {
			e.logger.Error("siren off failed", "error", err)
		}
	}
}

func (e *Escalator) record(ctx context.Context, eventID int64, channel string, success bool, retries int, elapsed time.Duration) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.LogEscalation(ctx, model.EscalationRecord{
		EventID:      eventID,
		Timestamp:    time.Now().UTC(),
		Channel:      channel,
		Success:      success,
		RetryCount:   retries,
		ResponseTime: elapsed.Seconds(),
	})
	if err != nil {
		e.logger.Error("escalation record write failed", "channel", channel, "error", err)
	}
}

// Notify delivers an advisory webhook. Failures are logged, never fatal.
func (e *Escalator) Notify(ctx context.Context, kind string, fields map[string]any) {
	if e.webhook == nil {
		return
	}
	payload := map[string]any{
		"type":      kind,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}
	if _, err := e.webhook.Send(ctx, payload); err != nil {
		e.logger.Error("advisory notification failed", "kind", kind, "error", err)
	}
}

// NotifyTimeout reports an unconfirmed episode that expired.
func (e *Escalator) NotifyTimeout(ctx context.Context, zone string, events []model.TriggerEvent) {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.EntityName)
	}
	e.Notify(ctx, "correlation_timeout", map[string]any{"zone": zone, "sensors": names})
}

// NotifyLowBattery sends one advisory per sensor per day.
func (e *Escalator) NotifyLowBattery(ctx context.Context, sensors []model.LowBattery) {
	for _, s := range sensors {
		if !e.limiter.Allow("battery:" + s.EntityID) {
			continue
		}
		e.Notify(ctx, "low_battery", map[string]any{
			"entity":  s.EntityID,
			"name":    s.Name,
			"battery": s.Battery,
		})
	}
}

// NotifyOffline sends one advisory per offline sensor per day and clears
// the limiter for sensors that came back.
func (e *Escalator) NotifyOffline(ctx context.Context, offline []string, recovered []string) {
	for _, id := range recovered {
		e.limiter.Reset("offline:" + id)
	}
	for _, id := range offline {
		if !e.limiter.Allow("offline:" + id) {
			continue
		}
		e.Notify(ctx, "sensor_offline", map[string]any{"entity": id})
	}
}

// SirenConfig wires the configured siren entity through a host service
// caller, the common case where the siren is a host switch entity.
type hostSiren struct {
	host     ServiceCaller
	entityID string
}

// NewHostSiren returns a SirenControl backed by the host's switch
// services, or nil when no siren is configured.
func NewHostSiren(cfg config.NotifyConfig, host ServiceCaller) SirenControl {
	if cfg.SirenID == "" || host == nil {
		return nil
	}
	return &hostSiren{host: host, entityID: cfg.SirenID}
}

func (s *hostSiren) TurnOn(ctx context.Context) error {
	return s.host.CallService(ctx, "switch.turn_on", map[string]any{"entity_id": s.entityID})
}

func (s *hostSiren) TurnOff(ctx context.Context) error {
	return s.host.CallService(ctx, "switch.turn_off", map[string]any{"entity_id": s.entityID})
}
