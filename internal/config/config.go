package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"homeguard/internal/scoring"
)

type Config struct {
	LogLevel  string        `json:"log_level" yaml:"log_level"`
	LogFormat string        `json:"log_format" yaml:"log_format"`
	Zones     []Zone        `json:"zones" yaml:"zones"`
	Timing    TimingConfig  `json:"timing" yaml:"timing"`
	Scoring   ScoringConfig `json:"scoring" yaml:"scoring"`
	Learner   LearnerConfig `json:"learner" yaml:"learner"`
	Storage   StorageConfig `json:"storage" yaml:"storage"`
	Ingest    IngestConfig  `json:"ingest" yaml:"ingest"`
	Notify    NotifyConfig  `json:"notify" yaml:"notify"`
	Health    HealthConfig  `json:"health" yaml:"health"`
	API       APIConfig     `json:"api" yaml:"api"`

	// Legacy flat keys, pre-zone installations. Migrated into a single
	// synthetic zone at load time.
	LegacyPerimeterSensors []string `json:"perimeter_sensors,omitempty" yaml:"perimeter_sensors,omitempty"`
	LegacyContactSensors   []string `json:"contact_sensors,omitempty" yaml:"contact_sensors,omitempty"`
	LegacyInteriorSensors  []string `json:"interior_sensors,omitempty" yaml:"interior_sensors,omitempty"`
	LegacyMotionSensors    []string `json:"motion_sensors,omitempty" yaml:"motion_sensors,omitempty"`
	LegacyCameras          []string `json:"cameras,omitempty" yaml:"cameras,omitempty"`
}

// Zone is one configured partition of the building. Interior sensors and
// cameras are split by the arming modes they are active in; perimeter
// sensors are always active once the zone is in scope.
type Zone struct {
	ID         string   `json:"zone_id" yaml:"zone_id"`
	Name       string   `json:"zone_name" yaml:"zone_name"`
	Profile    string   `json:"profile" yaml:"profile"`
	ArmedModes []string `json:"armed_modes" yaml:"armed_modes"`

	PerimeterSensors []string `json:"perimeter_sensors" yaml:"perimeter_sensors"`
	InteriorBoth     []string `json:"interior_sensors_both" yaml:"interior_sensors_both"`
	InteriorAway     []string `json:"interior_sensors_away" yaml:"interior_sensors_away"`
	InteriorHome     []string `json:"interior_sensors_home" yaml:"interior_sensors_home"`
	CamerasBoth      []string `json:"cameras_both" yaml:"cameras_both"`
	CamerasAway      []string `json:"cameras_away" yaml:"cameras_away"`
	CamerasHome      []string `json:"cameras_home" yaml:"cameras_home"`

	// Legacy per-zone keys, treated as the "both" sets.
	LegacyInterior []string `json:"interior_sensors,omitempty" yaml:"interior_sensors,omitempty"`
	LegacyCameras  []string `json:"cameras,omitempty" yaml:"cameras,omitempty"`
}

type TimingConfig struct {
	EntryDelay        time.Duration `json:"entry_delay" yaml:"entry_delay"`
	ExitDelay         time.Duration `json:"exit_delay" yaml:"exit_delay"`
	CorrelationWindow time.Duration `json:"correlation_window" yaml:"correlation_window"`
	AdaptiveWindow    bool          `json:"adaptive_window" yaml:"adaptive_window"`
}

// ScoringConfig overrides the scoring model. Zero values mean "use the
// default"; these are design-visible tunables, not magic numbers.
type ScoringConfig struct {
	ContactScore       int            `json:"contact_score" yaml:"contact_score"`
	RadarScore         int            `json:"radar_score" yaml:"radar_score"`
	MotionScore        int            `json:"motion_score" yaml:"motion_score"`
	PersonScore        int            `json:"person_score" yaml:"person_score"`
	ProfileThresholds  map[string]int `json:"profile_thresholds" yaml:"profile_thresholds"`
	GlobalThreshold    int            `json:"global_threshold" yaml:"global_threshold"`
	CrossZoneMult      float64        `json:"cross_zone_multiplier" yaml:"cross_zone_multiplier"`
}

type LearnerConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	HistoryLimit int  `json:"history_limit" yaml:"history_limit"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
}

type KafkaConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	Brokers         []string `json:"brokers" yaml:"brokers"`
	SensorTopic     string   `json:"sensor_topic" yaml:"sensor_topic"`
	DetectionTopic  string   `json:"detection_topic" yaml:"detection_topic"`
	GroupID         string   `json:"group_id" yaml:"group_id"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type NotifyConfig struct {
	Webhook   WebhookConfig `json:"webhook" yaml:"webhook"`
	VoIP      VoIPConfig    `json:"voip" yaml:"voip"`
	SirenID   string        `json:"siren_entity" yaml:"siren_entity"`
	CallDelay time.Duration `json:"call_delay" yaml:"call_delay"`
}

type WebhookConfig struct {
	Enabled bool              `json:"enabled" yaml:"enabled"`
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method" yaml:"method"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// VoIP provider types.
const (
	VoIPShell    = "shell_command"
	VoIPNotify   = "notify_service"
	VoIPRest     = "rest_api"
	VoIPDisabled = "disabled"
)

type VoIPConfig struct {
	Provider        string            `json:"provider" yaml:"provider"`
	PrimaryNumber   string            `json:"primary_number" yaml:"primary_number"`
	SecondaryNumber string            `json:"secondary_number" yaml:"secondary_number"`
	ShellCommand    string            `json:"shell_command" yaml:"shell_command"`
	NotifyService   string            `json:"notify_service" yaml:"notify_service"`
	RestURL         string            `json:"rest_url" yaml:"rest_url"`
	RestMethod      string            `json:"rest_method" yaml:"rest_method"`
	RestHeaders     map[string]string `json:"rest_headers" yaml:"rest_headers"`
	RestBody        string            `json:"rest_body" yaml:"rest_body"`
}

type HealthConfig struct {
	PollInterval      time.Duration `json:"poll_interval" yaml:"poll_interval"`
	BootGrace         time.Duration `json:"boot_grace" yaml:"boot_grace"`
	BatteryThreshold  float64       `json:"battery_threshold" yaml:"battery_threshold"`
	JammingMinDevices int           `json:"jamming_min_devices" yaml:"jamming_min_devices"`
	JammingMinPercent float64       `json:"jamming_min_percent" yaml:"jamming_min_percent"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Timing: TimingConfig{
			EntryDelay:        30 * time.Second,
			ExitDelay:         30 * time.Second,
			CorrelationWindow: 60 * time.Second,
			AdaptiveWindow:    true,
		},
		Learner: LearnerConfig{Enabled: true, HistoryLimit: 10000},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:homeguard.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			Kafka:         KafkaConfig{Enabled: false},
			REST:          RESTConfig{Enabled: false, Addr: ":8088"},
		},
		Notify: NotifyConfig{
			Webhook:   WebhookConfig{Enabled: false, Method: "POST"},
			VoIP:      VoIPConfig{Provider: VoIPDisabled, RestMethod: "POST"},
			CallDelay: 90 * time.Second,
		},
		Health: HealthConfig{
			PollInterval:      30 * time.Second,
			BootGrace:         5 * time.Minute,
			BatteryThreshold:  15,
			JammingMinDevices: 2,
			JammingMinPercent: 50,
		},
		API: APIConfig{Enabled: false, Addr: ":8089"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes YAML or JSON config, applies defaults, migrates legacy
// flat installations and validates.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Timing.CorrelationWindow <= 0 {
		cfg.Timing.CorrelationWindow = 60 * time.Second
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Learner.HistoryLimit <= 0 {
		cfg.Learner.HistoryLimit = 10000
	}
	if cfg.Notify.Webhook.Method == "" {
		cfg.Notify.Webhook.Method = "POST"
	}
	if cfg.Notify.VoIP.Provider == "" {
		cfg.Notify.VoIP.Provider = VoIPDisabled
	}
	if cfg.Health.PollInterval <= 0 {
		cfg.Health.PollInterval = 30 * time.Second
	}
	if cfg.Health.JammingMinDevices <= 0 {
		cfg.Health.JammingMinDevices = 2
	}
	if cfg.Health.JammingMinPercent <= 0 {
		cfg.Health.JammingMinPercent = 50
	}

	if len(cfg.Zones) == 0 {
		cfg.Zones = MigrateLegacy(cfg)
	}
	for i := range cfg.Zones {
		z := &cfg.Zones[i]
		if z.ID == "" {
			z.ID = uuid.NewString()
		}
		if z.Profile == "" {
			z.Profile = scoring.ProfilePerimeterPlus
		}
		if len(z.ArmedModes) == 0 {
			z.ArmedModes = []string{"armed_away"}
		}
		// Legacy per-zone keys become the both-modes sets.
		if len(z.InteriorBoth) == 0 && len(z.LegacyInterior) > 0 {
			z.InteriorBoth = z.LegacyInterior
		}
		if len(z.CamerasBoth) == 0 && len(z.LegacyCameras) > 0 {
			z.CamerasBoth = z.LegacyCameras
		}
		z.LegacyInterior = nil
		z.LegacyCameras = nil
	}
}

// MigrateLegacy builds the single synthetic "Casa" zone from a flat
// pre-zone configuration: profile rich if cameras are present, otherwise
// perimeter_plus, armed in both modes.
func MigrateLegacy(cfg *Config) []Zone {
	perimeter := cfg.LegacyPerimeterSensors
	if len(perimeter) == 0 {
		perimeter = cfg.LegacyContactSensors
	}
	interior := cfg.LegacyInteriorSensors
	if len(interior) == 0 {
		interior = cfg.LegacyMotionSensors
	}
	cameras := cfg.LegacyCameras

	if len(perimeter) == 0 && len(interior) == 0 && len(cameras) == 0 {
		return nil
	}

	profile := scoring.ProfilePerimeterPlus
	if len(cameras) > 0 {
		profile = scoring.ProfileRich
	}
	return []Zone{{
		ID:               uuid.NewString(),
		Name:             "Casa",
		Profile:          profile,
		ArmedModes:       []string{"armed_away", "armed_home"},
		PerimeterSensors: perimeter,
		InteriorBoth:     interior,
		CamerasBoth:      cameras,
	}}
}

// Validate surfaces configuration errors at setup time rather than letting
// them turn into silently wrong zone routing.
func Validate(cfg *Config) error {
	seenSensor := map[string]string{}
	seenCamera := map[string]string{}
	for _, z := range cfg.Zones {
		if z.Name == "" {
			return fmt.Errorf("zone %q has no name", z.ID)
		}
		for _, id := range z.AllSensors() {
			if other, dup := seenSensor[id]; dup {
				return fmt.Errorf("sensor %s belongs to both zone %q and zone %q", id, other, z.Name)
			}
			seenSensor[id] = z.Name
		}
		for _, cam := range z.AllCameras() {
			if other, dup := seenCamera[cam]; dup {
				return fmt.Errorf("camera %s belongs to both zone %q and zone %q", cam, other, z.Name)
			}
			seenCamera[cam] = z.Name
		}
		for _, m := range z.ArmedModes {
			if m != "armed_away" && m != "armed_home" {
				return fmt.Errorf("zone %q: unknown armed mode %q", z.Name, m)
			}
		}
		// Unknown profile is a validation gap closed here at the boundary;
		// the correlation layer still falls back permissively if one leaks
		// through a live reload.
		if !scoring.KnownProfile(z.Profile) {
			return fmt.Errorf("zone %q: unknown profile %q", z.Name, z.Profile)
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q unsupported", cfg.Storage.Driver)
		}
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers and group_id")
		}
		if cfg.Ingest.Kafka.SensorTopic == "" && cfg.Ingest.Kafka.DetectionTopic == "" {
			return errors.New("ingest.kafka requires at least one topic")
		}
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL == "" {
		return errors.New("notify.webhook.url required when webhook is enabled")
	}
	if cfg.Timing.EntryDelay < 0 || cfg.Timing.ExitDelay < 0 {
		return errors.New("timing delays must be >= 0")
	}
	return nil
}

// AllSensors returns every sensor id in the zone, perimeter first.
func (z *Zone) AllSensors() []string {
	out := make([]string, 0, len(z.PerimeterSensors)+len(z.InteriorBoth)+len(z.InteriorAway)+len(z.InteriorHome))
	out = append(out, z.PerimeterSensors...)
	out = append(out, z.InteriorBoth...)
	out = append(out, z.InteriorAway...)
	out = append(out, z.InteriorHome...)
	return out
}

// AllCameras returns every camera name in the zone.
func (z *Zone) AllCameras() []string {
	out := make([]string, 0, len(z.CamerasBoth)+len(z.CamerasAway)+len(z.CamerasHome))
	out = append(out, z.CamerasBoth...)
	out = append(out, z.CamerasAway...)
	out = append(out, z.CamerasHome...)
	return out
}

// Manager holds the live config snapshot and supports reload-on-change.
type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config, for hosts that own the
// persisted-config UI and hand the plugin a parsed snapshot.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the config file and invokes onReload with fresh snapshots.
func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
