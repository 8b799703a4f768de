package history

import (
	"testing"

	"homeguard/internal/model"
)

func TestAppendAndRecent(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Append(model.LogEntry{EventType: model.EventTrigger, Notes: string(rune('a' + i))})
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	got := r.Recent(10)
	if len(got) != 3 {
		t.Fatalf("recent = %d", len(got))
	}
	if got[0].Notes != "c" || got[2].Notes != "e" {
		t.Errorf("order wrong: %q %q", got[0].Notes, got[2].Notes)
	}
	if got[0].ID != 3 || got[2].ID != 5 {
		t.Errorf("ids = %d %d", got[0].ID, got[2].ID)
	}
}

func TestRecentLimit(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 4; i++ {
		r.Append(model.LogEntry{})
	}
	if got := r.Recent(2); len(got) != 2 {
		t.Fatalf("limit = %d", len(got))
	}
	if got := r.Recent(0); len(got) != 4 {
		t.Fatalf("zero limit should return all, got %d", len(got))
	}
}

func TestExternalIDsPreserved(t *testing.T) {
	r := NewRing(5)
	r.Append(model.LogEntry{ID: 42})
	id := r.Append(model.LogEntry{})
	if id != 43 {
		t.Fatalf("next id = %d, want 43", id)
	}
}
