package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"homeguard/internal/scoring"
)

const sampleYAML = `
log_level: debug
zones:
  - zone_name: Ingresso
    profile: perimeter_plus
    armed_modes: [armed_away, armed_home]
    perimeter_sensors:
      - binary_sensor.porta_ingresso
    interior_sensors_both:
      - binary_sensor.motion_ingresso
  - zone_name: Giardino
    profile: rich
    armed_modes: [armed_away]
    perimeter_sensors:
      - binary_sensor.cancello
    cameras_both:
      - camera.giardino
timing:
  entry_delay: 45s
  exit_delay: 60s
ingest:
  rest:
    enabled: true
    addr: ":9090"
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if len(cfg.Zones) != 2 {
		t.Fatalf("zones = %d, want 2", len(cfg.Zones))
	}
	z := cfg.Zones[0]
	if z.Name != "Ingresso" || z.Profile != scoring.ProfilePerimeterPlus {
		t.Errorf("zone[0] = %q/%q", z.Name, z.Profile)
	}
	if z.ID == "" {
		t.Error("zone id should be generated when omitted")
	}
	if cfg.Timing.EntryDelay != 45*time.Second {
		t.Errorf("entry_delay = %v", cfg.Timing.EntryDelay)
	}
	if !cfg.Ingest.REST.Enabled || cfg.Ingest.REST.Addr != ":9090" {
		t.Errorf("rest config = %+v", cfg.Ingest.REST)
	}
}

func TestParseJSON(t *testing.T) {
	content := `{"zones":[{"zone_name":"Casa","profile":"perimeter_only","perimeter_sensors":["binary_sensor.porta"]}]}`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Zones[0].Profile != scoring.ProfilePerimeterOnly {
		t.Errorf("profile = %q", cfg.Zones[0].Profile)
	}
	if len(cfg.Zones[0].ArmedModes) == 0 {
		t.Error("armed_modes default not applied")
	}
}

func TestLegacyMigration(t *testing.T) {
	content := `
perimeter_sensors:
  - binary_sensor.porta_ingresso
motion_sensors:
  - binary_sensor.motion_soggiorno
cameras:
  - camera.soggiorno
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Zones) != 1 {
		t.Fatalf("zones = %d, want 1 migrated zone", len(cfg.Zones))
	}
	z := cfg.Zones[0]
	if z.Name != "Casa" {
		t.Errorf("migrated zone name = %q, want Casa", z.Name)
	}
	if z.Profile != scoring.ProfileRich {
		t.Errorf("profile with cameras = %q, want rich", z.Profile)
	}
	if len(z.ArmedModes) != 2 {
		t.Errorf("migrated zone should cover both modes, got %v", z.ArmedModes)
	}
	if z.ID == "" {
		t.Error("migrated zone needs a generated id")
	}
}

func TestLegacyMigrationWithoutCameras(t *testing.T) {
	content := `
contact_sensors:
  - binary_sensor.porta
interior_sensors:
  - binary_sensor.motion
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Zones[0].Profile != scoring.ProfilePerimeterPlus {
		t.Errorf("profile = %q, want perimeter_plus", cfg.Zones[0].Profile)
	}
}

func TestValidateRejectsOverlap(t *testing.T) {
	content := `
zones:
  - zone_name: A
    perimeter_sensors: [binary_sensor.porta]
  - zone_name: B
    interior_sensors_both: [binary_sensor.porta]
`
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("expected overlap error")
	}
	if !strings.Contains(err.Error(), "binary_sensor.porta") {
		t.Errorf("error should name the sensor: %v", err)
	}
}

func TestValidateRejectsUnknownProfile(t *testing.T) {
	content := `
zones:
  - zone_name: A
    profile: fortress
    perimeter_sensors: [binary_sensor.porta]
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Fatal("expected unknown profile error")
	}
}

func TestValidateRejectsKafkaWithoutBrokers(t *testing.T) {
	content := `
zones:
  - zone_name: A
    perimeter_sensors: [binary_sensor.porta]
ingest:
  kafka:
    enabled: true
    sensor_topic: sensors
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Fatal("expected kafka validation error")
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.Get(); len(got.Zones) != 2 {
		t.Fatalf("initial zones = %d", len(got.Zones))
	}

	updated := strings.Replace(sampleYAML, "log_level: debug", "log_level: warn", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	needs, err := m.NeedsReload()
	if err != nil {
		t.Fatalf("NeedsReload: %v", err)
	}
	if !needs {
		t.Fatal("expected NeedsReload after file change")
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("reloaded log_level = %q", cfg.LogLevel)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HOMEGUARD_LOG_LEVEL", "error")
	t.Setenv("HOMEGUARD_ENTRY_DELAY", "15s")
	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Timing.EntryDelay != 15*time.Second {
		t.Errorf("entry_delay = %v", cfg.Timing.EntryDelay)
	}
}
