package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"homeguard/internal/model"
)

func tempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite("file:" + path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogAndRecentEvents(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 22, 15, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.LogEvent(ctx, model.LogEntry{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			EventType:  model.EventTrigger,
			SensorID:   "binary_sensor.porta",
			SensorName: "Porta Ingresso",
			Score:      70,
		})
		if err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}

	events, err := s.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	if !events[0].Timestamp.Before(events[2].Timestamp) {
		t.Error("events should be oldest first")
	}
	if events[0].SensorID != "binary_sensor.porta" || events[0].Score != 70 {
		t.Errorf("row round-trip: %+v", events[0])
	}
}

func TestEventsSince(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.LogEvent(ctx, model.LogEntry{Timestamp: old, EventType: model.EventArm})
	s.LogEvent(ctx, model.LogEntry{Timestamp: recent, EventType: model.EventDisarm})

	events, err := s.EventsSince(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 || events[0].EventType != model.EventDisarm {
		t.Fatalf("events = %+v", events)
	}
}

func TestEscalationRoundTrip(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	id, err := s.LogEvent(ctx, model.LogEntry{EventType: model.EventConfirm, Notes: "zone Ingresso"})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	rec := model.EscalationRecord{
		EventID:      id,
		Channel:      "webhook",
		Success:      true,
		RetryCount:   2,
		ResponseTime: 0.42,
	}
	if err := s.LogEscalation(ctx, rec); err != nil {
		t.Fatalf("LogEscalation: %v", err)
	}

	got, err := s.EscalationsForEvent(ctx, id)
	if err != nil {
		t.Fatalf("EscalationsForEvent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Channel != "webhook" || !got[0].Success || got[0].RetryCount != 2 {
		t.Errorf("round-trip: %+v", got[0])
	}
}

func TestPrune(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	s.LogEvent(ctx, model.LogEntry{Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EventType: model.EventArm})
	s.LogEvent(ctx, model.LogEntry{Timestamp: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), EventType: model.EventArm})

	n, err := s.Prune(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	events, _ := s.RecentEvents(ctx, 10)
	if len(events) != 1 {
		t.Fatalf("remaining = %d", len(events))
	}
}

func TestOpenDispatch(t *testing.T) {
	if _, err := Open("mysql", ""); err == nil {
		t.Fatal("unsupported driver should error")
	}
	path := filepath.Join(t.TempDir(), "d.db")
	s, err := Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	s.Close()
}
