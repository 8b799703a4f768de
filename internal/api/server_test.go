package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"homeguard/internal/config"
	"homeguard/internal/guardian"
	"homeguard/internal/logging"
	"homeguard/internal/model"
	"homeguard/internal/sched"
)

func newTestServer(t *testing.T) (*httptest.Server, *guardian.Guardian) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timing.EntryDelay = 0
	cfg.Timing.ExitDelay = 0
	cfg.Learner.Enabled = false
	cfg.Zones = []config.Zone{{
		ID:               "z1",
		Name:             "Ingresso",
		Profile:          "perimeter_plus",
		ArmedModes:       []string{"armed_away", "armed_home"},
		PerimeterSensors: []string{"binary_sensor.porta"},
		InteriorBoth:     []string{"binary_sensor.motion"},
	}}
	reg := prometheus.NewRegistry()
	g, err := guardian.New(guardian.Params{
		Config:    cfg,
		Logger:    logging.Nop(),
		Scheduler: sched.NewManual(),
		Registry:  reg,
	})
	if err != nil {
		t.Fatalf("guardian.New: %v", err)
	}
	s := NewServer(":0", g, reg, logging.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, g
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	srv, g := newTestServer(t)
	g.Arm(model.StateArmedAway)

	var status guardian.Status
	if code := getJSON(t, srv.URL+"/status", &status); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if status.State != model.StateArmedAway || status.ZonesTotal != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestZonesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var zones []model.ZoneSnapshot
	if code := getJSON(t, srv.URL+"/zones", &zones); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(zones) != 1 || zones[0].ZoneName != "Ingresso" {
		t.Errorf("zones = %+v", zones)
	}
}

func TestArmDisarmEndpoints(t *testing.T) {
	srv, g := newTestServer(t)

	resp, err := http.Post(srv.URL+"/arm", "application/json", strings.NewReader(`{"mode":"armed_home"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("arm code = %d", resp.StatusCode)
	}
	if g.Status().State != model.StateArmedHome {
		t.Fatalf("state = %q", g.Status().State)
	}

	// Arming twice conflicts.
	resp, _ = http.Post(srv.URL+"/arm", "application/json", strings.NewReader(`{"mode":"armed_away"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second arm code = %d", resp.StatusCode)
	}

	resp, _ = http.Post(srv.URL+"/disarm", "application/json", strings.NewReader(`{"by":"test"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || g.Status().State != model.StateDisarmed {
		t.Fatalf("disarm code = %d state = %q", resp.StatusCode, g.Status().State)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, g := newTestServer(t)
	g.Arm(model.StateArmedAway)
	g.HandleObservation(model.Observation{
		EntityID: "binary_sensor.motion", Name: "Motion", IsOn: true, Timestamp: time.Now(),
	})

	var events []model.LogEntry
	if code := getJSON(t, srv.URL+"/events?limit=10", &events); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(events) < 2 {
		t.Fatalf("events = %+v", events)
	}

	resp, _ := http.Get(srv.URL + "/events?limit=bogus")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d", resp.StatusCode)
	}
}

func TestResetEndpoint(t *testing.T) {
	srv, g := newTestServer(t)
	g.Arm(model.StateArmedAway)
	g.HandleObservation(model.Observation{
		EntityID: "binary_sensor.motion", Name: "Motion", IsOn: true, Timestamp: time.Now(),
	})

	resp, err := http.Post(srv.URL+"/reset", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("code = %d", resp.StatusCode)
	}
	if g.Status().Engine.GlobalScore != 0 {
		t.Error("engine not reset")
	}
}

func TestReliabilityEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var rel map[string]any
	if code := getJSON(t, srv.URL+"/reliability/binary_sensor.motion", &rel); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}
}
