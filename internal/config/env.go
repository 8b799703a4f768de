package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides mirrors the deployment-level knobs that make sense to set
// from the process environment. Zone topology stays file-only.
type envOverrides struct {
	LogLevel     string        `env:"HOMEGUARD_LOG_LEVEL"`
	LogFormat    string        `env:"HOMEGUARD_LOG_FORMAT"`
	StorageDSN   string        `env:"HOMEGUARD_STORAGE_DSN"`
	KafkaBrokers []string      `env:"HOMEGUARD_KAFKA_BROKERS"`
	RESTAddr     string        `env:"HOMEGUARD_REST_ADDR"`
	APIAddr      string        `env:"HOMEGUARD_API_ADDR"`
	WebhookURL   string        `env:"HOMEGUARD_WEBHOOK_URL"`
	EntryDelay   time.Duration `env:"HOMEGUARD_ENTRY_DELAY"`
	ExitDelay    time.Duration `env:"HOMEGUARD_EXIT_DELAY"`
}

// ApplyEnv layers environment overrides on top of a loaded config.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if o.StorageDSN != "" {
		cfg.Storage.DSN = o.StorageDSN
	}
	if len(o.KafkaBrokers) > 0 {
		cfg.Ingest.Kafka.Brokers = o.KafkaBrokers
	}
	if o.RESTAddr != "" {
		cfg.Ingest.REST.Addr = o.RESTAddr
	}
	if o.APIAddr != "" {
		cfg.API.Addr = o.APIAddr
	}
	if o.WebhookURL != "" {
		cfg.Notify.Webhook.URL = o.WebhookURL
	}
	if o.EntryDelay > 0 {
		cfg.Timing.EntryDelay = o.EntryDelay
	}
	if o.ExitDelay > 0 {
		cfg.Timing.ExitDelay = o.ExitDelay
	}
	return nil
}
