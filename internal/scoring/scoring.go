package scoring

import (
	"strings"

	"homeguard/internal/model"
)

// Confirmation profile names. A zone's profile decides which event-type
// combinations confirm once the score threshold is met.
const (
	ProfilePerimeterOnly     = "perimeter_only"
	ProfilePerimeterPlus     = "perimeter_plus"
	ProfileRich              = "rich"
	ProfileVolumetricDiverse = "volumetric_diverse"
)

// Profiles lists every known profile name, for config validation.
var Profiles = []string{
	ProfilePerimeterOnly,
	ProfilePerimeterPlus,
	ProfileRich,
	ProfileVolumetricDiverse,
}

// Dual-technology sensor naming suffixes. Entities matching one of these
// (or the combined virtual sensor suffix) classify as radar.
var dualTechSuffixes = []string{"_pir_detection", "_presence"}

const combinedSuffix = "_dualtech_combined"

// Model holds every scoring tunable the correlation engine consumes.
// All values are design-visible and overridable from configuration.
type Model struct {
	Contact int
	Radar   int
	Motion  int
	Person  int

	ProfileThresholds map[string]int
	GlobalThreshold   int
	CrossZoneMult     float64
}

// Default returns the production scoring model.
func Default() *Model {
	return &Model{
		Contact: 70,
		Radar:   60,
		Motion:  40,
		Person:  30,
		ProfileThresholds: map[string]int{
			ProfilePerimeterOnly:     140,
			ProfilePerimeterPlus:     100,
			ProfileRich:              100,
			ProfileVolumetricDiverse: 100,
		},
		GlobalThreshold: 200,
		CrossZoneMult:   1.5,
	}
}

// BaseScore returns the base score for a sensor type.
func (m *Model) BaseScore(t model.SensorType) int {
	switch t {
	case model.SensorContact:
		return m.Contact
	case model.SensorRadar:
		return m.Radar
	case model.SensorPerson:
		return m.Person
	default:
		return m.Motion
	}
}

// Threshold returns the local confirmation threshold for a profile. Unknown
// profiles get the lowest standard threshold; the permissive rule fallback
// is handled by the correlation layer.
func (m *Model) Threshold(profile string) int {
	if th, ok := m.ProfileThresholds[profile]; ok {
		return th
	}
	return m.ProfileThresholds[ProfilePerimeterPlus]
}

// KnownProfile reports whether the profile name is one of the four policies.
func KnownProfile(profile string) bool {
	for _, p := range Profiles {
		if p == profile {
			return true
		}
	}
	return false
}

// IsVolumetric reports membership in the volumetric set. Contact is never
// volumetric.
func IsVolumetric(t model.SensorType) bool {
	switch t {
	case model.SensorRadar, model.SensorMotion, model.SensorPerson:
		return true
	}
	return false
}

// Classify derives a sensor's type and base score. Perimeter membership wins,
// then the dual-technology naming pattern, then plain motion. Camera events
// never pass through here; they are always person-typed.
func (m *Model) Classify(entityID string, isPerimeter bool) (model.SensorType, int) {
	if isPerimeter {
		return model.SensorContact, m.Contact
	}
	lower := strings.ToLower(entityID)
	if strings.Contains(lower, combinedSuffix) {
		return model.SensorRadar, m.Radar
	}
	for _, s := range dualTechSuffixes {
		if strings.Contains(lower, s) {
			return model.SensorRadar, m.Radar
		}
	}
	return model.SensorMotion, m.Motion
}

// DualTechSuffixes exposes the naming pattern for the sensor-pairing step.
func DualTechSuffixes() []string {
	out := make([]string, len(dualTechSuffixes))
	copy(out, dualTechSuffixes)
	return out
}

// CombinedSuffix is the suffix given to a combined virtual dual-tech sensor.
func CombinedSuffix() string {
	return combinedSuffix
}
