package adaptive

import (
	"strings"
	"time"

	"homeguard/internal/model"
)

// Zone kinds used for the window multiplier. Derived heuristically from
// entity naming when the configuration does not say.
const (
	ZoneKindPerimeter     = "perimeter"
	ZoneKindGroundFloor   = "interior_ground"
	ZoneKindUpperFloor    = "interior_upper"
	ZoneKindUnknown       = ""
	minWindow             = 10 * time.Second
	maxWindow             = 300 * time.Second
)

// Calculator computes the correlation-window length from time of day,
// sensor type, zone kind and a learned false-alarm rate. Pure: no clock,
// no side effects, every input explicit.
type Calculator struct {
	Night   time.Duration // 22:00-06:00
	Morning time.Duration // 06:00-09:00
	Day     time.Duration // 09:00-18:00
	Evening time.Duration // 18:00-22:00

	SensorMult map[model.SensorType]float64
	ZoneMult   map[string]float64
}

func NewCalculator() *Calculator {
	return &Calculator{
		Night:   30 * time.Second,
		Morning: 45 * time.Second,
		Day:     60 * time.Second,
		Evening: 50 * time.Second,
		SensorMult: map[model.SensorType]float64{
			model.SensorContact: 1.0,
			model.SensorRadar:   1.1,
			model.SensorMotion:  1.5,
			model.SensorPerson:  0.8,
		},
		ZoneMult: map[string]float64{
			ZoneKindPerimeter:   0.7,
			ZoneKindGroundFloor: 1.0,
			ZoneKindUpperFloor:  1.2,
		},
	}
}

// Window computes the adaptive window. falseAlarmRate is a percentage
// 0-100; pass a negative value when no learned rate is available.
func (c *Calculator) Window(at time.Time, sensorType model.SensorType, zoneKind string, falseAlarmRate float64) time.Duration {
	w := float64(c.baseWindow(at))

	if m, ok := c.SensorMult[sensorType]; ok {
		w *= m
	}
	if zoneKind != ZoneKindUnknown {
		if m, ok := c.ZoneMult[zoneKind]; ok {
			w *= m
		}
	}
	if falseAlarmRate >= 0 {
		w *= rateMultiplier(falseAlarmRate)
	}

	d := time.Duration(w)
	if d < minWindow {
		return minWindow
	}
	if d > maxWindow {
		return maxWindow
	}
	return d
}

func (c *Calculator) baseWindow(at time.Time) time.Duration {
	hm := at.Hour()*60 + at.Minute()
	switch {
	case hm >= 6*60 && hm < 9*60:
		return c.Morning
	case hm >= 9*60 && hm < 18*60:
		return c.Day
	case hm >= 18*60 && hm < 22*60:
		return c.Evening
	default:
		return c.Night
	}
}

// High false-alarm rate widens the window (more tolerance before timing
// out); a reliable sensor gets a shorter one.
func rateMultiplier(rate float64) float64 {
	switch {
	case rate > 80:
		return 2.0
	case rate > 60:
		return 1.5
	case rate > 40:
		return 1.2
	case rate < 10:
		return 0.8
	case rate < 20:
		return 0.9
	default:
		return 1.0
	}
}

// DetectZoneKind guesses the zone kind from entity naming. The heuristic
// is intentionally name-based; zone configuration can override it upstream.
func DetectZoneKind(entityID string) string {
	lower := strings.ToLower(entityID)
	for _, kw := range []string{"porta", "door", "finestra", "window", "ingresso", "entrance"} {
		if strings.Contains(lower, kw) {
			return ZoneKindPerimeter
		}
	}
	for _, kw := range []string{"motion", "movimento", "camera", "bagno", "cucina"} {
		if strings.Contains(lower, kw) {
			for _, up := range []string{"piano", "upper", "superiore", "camera_da_letto"} {
				if strings.Contains(lower, up) {
					return ZoneKindUpperFloor
				}
			}
			return ZoneKindGroundFloor
		}
	}
	return ZoneKindUnknown
}
