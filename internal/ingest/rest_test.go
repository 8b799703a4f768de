package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"homeguard/internal/logging"
	"homeguard/internal/model"
)

type fakeSink struct {
	mu         sync.Mutex
	obs        []model.Observation
	detections []model.PersonDetection
}

func (s *fakeSink) HandleObservation(o model.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, o)
}

func (s *fakeSink) HandlePersonDetection(d model.PersonDetection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = append(s.detections, d)
}

func TestRESTEvent(t *testing.T) {
	sink := &fakeSink{}
	r := NewRESTReceiver(":0", sink, logging.Nop())
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/event", "application/json",
		strings.NewReader(`{"entity_id":"binary_sensor.porta","name":"Porta","is_on":true}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(sink.obs) != 1 || sink.obs[0].EntityID != "binary_sensor.porta" {
		t.Fatalf("obs = %+v", sink.obs)
	}
	if sink.obs[0].Timestamp.IsZero() {
		t.Error("timestamp should default to now")
	}
}

func TestRESTDetection(t *testing.T) {
	sink := &fakeSink{}
	r := NewRESTReceiver(":0", sink, logging.Nop())
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/detection", "application/json",
		strings.NewReader(`{"camera":"camera.giardino","confidence":0.92}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(sink.detections) != 1 || sink.detections[0].Confidence != 0.92 {
		t.Fatalf("detections = %+v", sink.detections)
	}
}

func TestRESTRejectsBadInput(t *testing.T) {
	sink := &fakeSink{}
	r := NewRESTReceiver(":0", sink, logging.Nop())
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	cases := []struct {
		path, body string
	}{
		{"/event", `not json`},
		{"/event", `{"name":"missing id"}`},
		{"/detection", `{"confidence":0.5}`},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+tc.path, "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s %q: status = %d", tc.path, tc.body, resp.StatusCode)
		}
	}
	if len(sink.obs) != 0 || len(sink.detections) != 0 {
		t.Error("rejected input must not reach the sink")
	}
}
