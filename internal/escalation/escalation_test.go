package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"homeguard/internal/config"
	"homeguard/internal/logging"
	"homeguard/internal/model"
	"homeguard/internal/sched"
)

type fakeSiren struct {
	mu  sync.Mutex
	on  int
	off int
}

func (s *fakeSiren) TurnOn(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on++
	return nil
}

func (s *fakeSiren) TurnOff(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.off++
	return nil
}

type fakeCaller struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]bool
}

func (c *fakeCaller) Call(_ context.Context, number, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, number)
	if c.failFor[number] {
		return errors.New("busy")
	}
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []model.EscalationRecord
}

func (r *fakeRecorder) LogEscalation(_ context.Context, rec model.EscalationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Channel)
	}
	return out
}

func detail() model.ConfirmationDetail {
	return model.ConfirmationDetail{
		ZoneName:      "Ingresso",
		ConfirmedVia:  "local",
		TriggerSensor: "binary_sensor.motion_ingresso",
		TriggerName:   "Motion Ingresso",
		GlobalScore:   110,
	}
}

func TestSnapshotAndClipFollowDetection(t *testing.T) {
	var mu sync.Mutex
	var kinds []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		kinds = append(kinds, payload["type"].(string))
		if payload["type"] == "camera_snapshot" || payload["type"] == "camera_clip" {
			if payload["detection_id"] != "1700000000.123-abcd" || payload["camera"] != "camera.giardino" {
				t.Errorf("payload = %v", payload)
			}
		}
		mu.Unlock()
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	clock := sched.NewManual()
	e := New(Params{
		Webhook:   NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL, Method: "POST"}, logging.Nop()),
		Recorder:  rec,
		Scheduler: clock,
		Logger:    logging.Nop(),
		CallDelay: 90 * time.Second,
	})

	e.NoteDetection("camera.giardino", "1700000000.123-abcd")
	if err := e.StartConfirmed(context.Background(), 3, detail()); err != nil {
		t.Fatalf("StartConfirmed: %v", err)
	}

	mu.Lock()
	immediate := append([]string(nil), kinds...)
	mu.Unlock()
	if len(immediate) != 2 {
		t.Fatalf("immediate deliveries = %v, want alarm and snapshot", immediate)
	}

	// The clip needs the recording to close, so it rides the delayed phase.
	clock.Advance(90 * time.Second)
	mu.Lock()
	all := append([]string(nil), kinds...)
	mu.Unlock()
	if len(all) != 3 || all[2] != "camera_clip" {
		t.Fatalf("deliveries = %v, want trailing camera_clip", all)
	}

	got := map[string]bool{}
	for _, ch := range rec.channels() {
		got[ch] = true
	}
	for _, want := range []string{"webhook", "snapshot", "clip"} {
		if !got[want] {
			t.Errorf("missing %q delivery record in %v", want, rec.channels())
		}
	}
}

func TestAbortDropsPendingClip(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	clock := sched.NewManual()
	e := New(Params{
		Webhook:   NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL, Method: "POST"}, logging.Nop()),
		Scheduler: clock,
		Logger:    logging.Nop(),
		CallDelay: 90 * time.Second,
	})

	e.NoteDetection("camera.giardino", "1700000000.123-abcd")
	e.StartConfirmed(context.Background(), 3, detail())
	e.Abort(context.Background(), "disarmed")
	clock.Advance(90 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Fatalf("webhook hits = %d, want only the immediate pair", hits)
	}
}

func TestConfirmedRunsSirenAndWebhook(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	siren := &fakeSiren{}
	rec := &fakeRecorder{}
	e := New(Params{
		Webhook:  NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL, Method: "POST"}, logging.Nop()),
		Siren:    siren,
		Recorder: rec,
		Logger:   logging.Nop(),
	})

	if err := e.StartConfirmed(context.Background(), 7, detail()); err != nil {
		t.Fatalf("StartConfirmed: %v", err)
	}
	if siren.on != 1 {
		t.Errorf("siren on = %d, want 1", siren.on)
	}
	if received["type"] != "alarm_confirmed" || received["zone"] != "Ingresso" {
		t.Errorf("payload = %v", received)
	}
	chans := rec.channels()
	if len(chans) != 2 {
		t.Fatalf("records = %v", chans)
	}
	for _, r := range rec.records {
		if r.EventID != 7 || !r.Success {
			t.Errorf("record = %+v", r)
		}
	}
}

func TestDelayedCallWithSecondaryFallback(t *testing.T) {
	clock := sched.NewManual()
	caller := &fakeCaller{failFor: map[string]bool{"+391111": true}}
	e := New(Params{
		Caller:          caller,
		Scheduler:       clock,
		Logger:          logging.Nop(),
		CallDelay:       90 * time.Second,
		PrimaryNumber:   "+391111",
		SecondaryNumber: "+392222",
	})

	e.StartConfirmed(context.Background(), 1, detail())
	if len(caller.calls) != 0 {
		t.Fatal("call must wait for the delay")
	}
	clock.Advance(90 * time.Second)
	caller.mu.Lock()
	calls := append([]string(nil), caller.calls...)
	caller.mu.Unlock()
	if len(calls) != 2 || calls[0] != "+391111" || calls[1] != "+392222" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestAbortCancelsCallAndSilencesSiren(t *testing.T) {
	clock := sched.NewManual()
	caller := &fakeCaller{}
	siren := &fakeSiren{}
	e := New(Params{
		Caller:        caller,
		Siren:         siren,
		Scheduler:     clock,
		Logger:        logging.Nop(),
		CallDelay:     90 * time.Second,
		PrimaryNumber: "+391111",
	})

	e.StartConfirmed(context.Background(), 1, detail())
	e.Abort(context.Background(), "disarmed")
	clock.Advance(5 * time.Minute)

	if len(caller.calls) != 0 {
		t.Fatalf("aborted episode placed calls: %v", caller.calls)
	}
	if siren.off != 1 {
		t.Errorf("siren off = %d, want 1", siren.off)
	}
}

func TestWebhookRetriesOnServerError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL, Method: "POST"}, logging.Nop())
	retries, err := w.Send(context.Background(), map[string]any{"type": "test"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if hits != 3 || retries != 2 {
		t.Errorf("hits = %d retries = %d", hits, retries)
	}
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL, Method: "POST"}, logging.Nop())
	if _, err := w.Send(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error on 4xx")
	}
	if hits != 1 {
		t.Errorf("4xx must not retry, hits = %d", hits)
	}
}

func TestBatteryAlertsRateLimited(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	e := New(Params{
		Webhook: NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL, Method: "POST"}, logging.Nop()),
		Logger:  logging.Nop(),
	})
	low := []model.LowBattery{{EntityID: "binary_sensor.porta", Name: "Porta", Battery: 8}}
	e.NotifyLowBattery(context.Background(), low)
	e.NotifyLowBattery(context.Background(), low)
	if hits != 1 {
		t.Fatalf("hits = %d, repeat within a day must be suppressed", hits)
	}
}

func TestAlertLimiterWindow(t *testing.T) {
	l := newAlertLimiter(24 * time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("k") {
		t.Fatal("first alert must pass")
	}
	now = now.Add(23 * time.Hour)
	if l.Allow("k") {
		t.Fatal("repeat inside the window must be suppressed")
	}
	now = now.Add(2 * time.Hour)
	if !l.Allow("k") {
		t.Fatal("alert after the window must pass")
	}
	l.Reset("k")
	if !l.Allow("k") {
		t.Fatal("reset must reopen the key")
	}
}

func TestVoIPProviderSelection(t *testing.T) {
	if c, err := NewCallPlacer(config.VoIPConfig{Provider: config.VoIPDisabled}, nil, logging.Nop()); err != nil || c != nil {
		t.Fatalf("disabled provider: %v %v", c, err)
	}
	if _, err := NewCallPlacer(config.VoIPConfig{Provider: config.VoIPShell}, nil, logging.Nop()); err == nil {
		t.Fatal("shell provider without command must error")
	}
	if _, err := NewCallPlacer(config.VoIPConfig{Provider: "carrier_pigeon"}, nil, logging.Nop()); err == nil {
		t.Fatal("unknown provider must error")
	}
	c, err := NewCallPlacer(config.VoIPConfig{Provider: config.VoIPShell, ShellCommand: "true {number}"}, nil, logging.Nop())
	if err != nil || c == nil {
		t.Fatalf("shell provider: %v %v", c, err)
	}
}
