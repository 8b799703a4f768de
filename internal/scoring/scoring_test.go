package scoring

import (
	"testing"

	"homeguard/internal/model"
)

func TestClassifyPerimeterWins(t *testing.T) {
	m := Default()
	typ, score := m.Classify("binary_sensor.hallway_pir_detection", true)
	if typ != model.SensorContact || score != 70 {
		t.Fatalf("perimeter membership must classify contact, got %s/%d", typ, score)
	}
}

func TestClassifyDualTech(t *testing.T) {
	m := Default()
	for _, id := range []string{
		"binary_sensor.corridoio_pir_detection",
		"binary_sensor.living_presence",
		"binary_sensor.living_dualtech_combined",
	} {
		typ, score := m.Classify(id, false)
		if typ != model.SensorRadar || score != 60 {
			t.Fatalf("%s: expected radar/60, got %s/%d", id, typ, score)
		}
	}
}

func TestClassifyDefaultMotion(t *testing.T) {
	m := Default()
	typ, score := m.Classify("binary_sensor.kitchen_motion", false)
	if typ != model.SensorMotion || score != 40 {
		t.Fatalf("expected motion/40, got %s/%d", typ, score)
	}
}

func TestVolumetricSet(t *testing.T) {
	if IsVolumetric(model.SensorContact) {
		t.Fatal("contact must never be volumetric")
	}
	for _, typ := range []model.SensorType{model.SensorRadar, model.SensorMotion, model.SensorPerson} {
		if !IsVolumetric(typ) {
			t.Fatalf("%s should be volumetric", typ)
		}
	}
}

func TestThresholds(t *testing.T) {
	m := Default()
	if m.Threshold(ProfilePerimeterOnly) != 140 {
		t.Fatalf("perimeter_only threshold: %d", m.Threshold(ProfilePerimeterOnly))
	}
	for _, p := range []string{ProfilePerimeterPlus, ProfileRich, ProfileVolumetricDiverse} {
		if m.Threshold(p) != 100 {
			t.Fatalf("%s threshold: %d", p, m.Threshold(p))
		}
	}
	if m.Threshold("bogus") != 100 {
		t.Fatalf("unknown profile should fall back to 100, got %d", m.Threshold("bogus"))
	}
	if m.GlobalThreshold != 200 || m.CrossZoneMult != 1.5 {
		t.Fatalf("global tunables: %d %v", m.GlobalThreshold, m.CrossZoneMult)
	}
}

func TestKnownProfile(t *testing.T) {
	for _, p := range Profiles {
		if !KnownProfile(p) {
			t.Fatalf("%s should be known", p)
		}
	}
	if KnownProfile("open_door_policy") {
		t.Fatal("unexpected profile accepted")
	}
}
