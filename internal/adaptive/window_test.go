package adaptive

import (
	"testing"
	"time"

	"homeguard/internal/model"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func TestBaseWindowBands(t *testing.T) {
	c := NewCalculator()
	cases := []struct {
		hour, minute int
		want         time.Duration
	}{
		{23, 0, 30 * time.Second},
		{2, 30, 30 * time.Second},
		{7, 0, 45 * time.Second},
		{12, 0, 60 * time.Second},
		{19, 45, 50 * time.Second},
	}
	for _, tc := range cases {
		got := c.Window(at(tc.hour, tc.minute), model.SensorContact, ZoneKindUnknown, -1)
		if got != tc.want {
			t.Fatalf("%02d:%02d: window %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestBandBoundaries(t *testing.T) {
	c := NewCalculator()
	if got := c.Window(at(5, 59), model.SensorContact, ZoneKindUnknown, -1); got != 30*time.Second {
		t.Fatalf("05:59 should still be night, got %v", got)
	}
	if got := c.Window(at(6, 0), model.SensorContact, ZoneKindUnknown, -1); got != 45*time.Second {
		t.Fatalf("exactly 06:00 should switch to morning, got %v", got)
	}
	if got := c.Window(at(21, 59), model.SensorContact, ZoneKindUnknown, -1); got != 50*time.Second {
		t.Fatalf("21:59 should still be evening, got %v", got)
	}
	if got := c.Window(at(22, 0), model.SensorContact, ZoneKindUnknown, -1); got != 30*time.Second {
		t.Fatalf("exactly 22:00 should switch to night, got %v", got)
	}
}

func TestMultipliersCompound(t *testing.T) {
	c := NewCalculator()
	// day 60s x motion 1.5 x upper 1.2 = 108s
	got := c.Window(at(12, 0), model.SensorMotion, ZoneKindUpperFloor, -1)
	if got != 108*time.Second {
		t.Fatalf("compound window %v, want 108s", got)
	}
	// day 60s x motion 1.5 x upper 1.2 x rate>80 2.0 = 216s
	got = c.Window(at(12, 0), model.SensorMotion, ZoneKindUpperFloor, 85)
	if got != 216*time.Second {
		t.Fatalf("rate-adjusted window %v, want 216s", got)
	}
}

func TestRateMultiplierBuckets(t *testing.T) {
	cases := []struct {
		rate float64
		want float64
	}{
		{95, 2.0}, {70, 1.5}, {50, 1.2}, {30, 1.0}, {15, 0.9}, {5, 0.8},
	}
	for _, tc := range cases {
		if got := rateMultiplier(tc.rate); got != tc.want {
			t.Fatalf("rate %.0f: mult %v, want %v", tc.rate, got, tc.want)
		}
	}
}

func TestClampBounds(t *testing.T) {
	c := NewCalculator()
	// night 30s x person 0.8 x perimeter 0.7 x 0.8 = 13.44s, above floor
	got := c.Window(at(23, 0), model.SensorPerson, ZoneKindPerimeter, 5)
	if got < minWindow || got > maxWindow {
		t.Fatalf("window %v out of bounds", got)
	}
	c.Night = 5 * time.Second
	if got := c.Window(at(23, 0), model.SensorPerson, ZoneKindPerimeter, 5); got != minWindow {
		t.Fatalf("floor clamp: %v", got)
	}
	c.Day = 400 * time.Second
	if got := c.Window(at(12, 0), model.SensorMotion, ZoneKindUpperFloor, 95); got != maxWindow {
		t.Fatalf("ceiling clamp: %v", got)
	}
}

func TestDetectZoneKind(t *testing.T) {
	cases := map[string]string{
		"binary_sensor.porta_ingresso":          ZoneKindPerimeter,
		"binary_sensor.finestra_cucina":         ZoneKindPerimeter,
		"binary_sensor.motion_soggiorno":        ZoneKindGroundFloor,
		"binary_sensor.motion_piano_superiore":  ZoneKindUpperFloor,
		"binary_sensor.camera_da_letto_motion":  ZoneKindUpperFloor,
		"binary_sensor.qualcosa_di_indefinito":  ZoneKindUnknown,
	}
	for id, want := range cases {
		if got := DetectZoneKind(id); got != want {
			t.Fatalf("%s: kind %q, want %q", id, got, want)
		}
	}
}
