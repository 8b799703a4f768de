package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homeguard/internal/model"
)

// Store persists the audit log and escalation delivery records. All
// implementations must be safe for concurrent use.
type Store interface {
	// LogEvent appends one audit row and returns its id.
	LogEvent(ctx context.Context, e model.LogEntry) (int64, error)
	// RecentEvents returns up to limit rows, oldest first, for learner
	// training and the events API.
	RecentEvents(ctx context.Context, limit int) ([]model.LogEntry, error)
	// EventsSince returns rows at or after the cutoff, oldest first.
	EventsSince(ctx context.Context, cutoff time.Time) ([]model.LogEntry, error)
	// LogEscalation records one notification delivery attempt.
	LogEscalation(ctx context.Context, r model.EscalationRecord) error
	// EscalationsForEvent lists delivery attempts for one audit row.
	EscalationsForEvent(ctx context.Context, eventID int64) ([]model.EscalationRecord, error)
	// Prune deletes audit rows older than the cutoff and returns the
	// number removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Open builds a Store from the configured driver.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		return OpenSQLite(dsn)
	case "postgres", "postgresql":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}
