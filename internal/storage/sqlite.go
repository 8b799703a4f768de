package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"homeguard/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alarm_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	event_type TEXT NOT NULL,
	state_from TEXT,
	state_to TEXT,
	sensor_id TEXT,
	sensor_name TEXT,
	correlation_score INTEGER DEFAULT 0,
	notes TEXT
);
CREATE INDEX IF NOT EXISTS idx_alarm_events_ts ON alarm_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_alarm_events_sensor ON alarm_events(sensor_id);

CREATE TABLE IF NOT EXISTS alarm_escalations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	channel TEXT NOT NULL,
	success INTEGER NOT NULL,
	retry_count INTEGER DEFAULT 0,
	response_time REAL
);
CREATE INDEX IF NOT EXISTS idx_alarm_escalations_event ON alarm_escalations(event_id);
`

// SQLiteStore persists the audit log in an embedded database.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "file:homeguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LogEvent(ctx context.Context, e model.LogEntry) (int64, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alarm_events (timestamp, event_type, state_from, state_to, sensor_id, sensor_name, correlation_score, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano), string(e.EventType), e.StateFrom, e.StateTo,
		e.SensorID, e.SensorName, e.Score, e.Notes)
	if err != nil {
		return 0, fmt.Errorf("insert alarm event: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, state_from, state_to, sensor_id, sensor_name, correlation_score, notes
		 FROM (SELECT * FROM alarm_events ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) EventsSince(ctx context.Context, cutoff time.Time) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, state_from, state_to, sensor_id, sensor_name, correlation_score, notes
		 FROM alarm_events WHERE timestamp >= ? ORDER BY id ASC`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) LogEscalation(ctx context.Context, r model.EscalationRecord) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarm_escalations (event_id, timestamp, channel, success, retry_count, response_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.EventID, ts.UTC().Format(time.RFC3339Nano), r.Channel, boolInt(r.Success), r.RetryCount, r.ResponseTime)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EscalationsForEvent(ctx context.Context, eventID int64) ([]model.EscalationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, timestamp, channel, success, retry_count, response_time
		 FROM alarm_escalations WHERE event_id = ? ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var out []model.EscalationRecord
	for rows.Next() {
		var r model.EscalationRecord
		var ts string
		var success int
		var responseTime sql.NullFloat64
		if err := rows.Scan(&r.EventID, &ts, &r.Channel, &success, &r.RetryCount, &responseTime); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.Success = success != 0
		r.ResponseTime = responseTime.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alarm_events WHERE timestamp < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]model.LogEntry, error) {
	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var ts string
		var stateFrom, stateTo, sensorID, sensorName, notes sql.NullString
		var eventType string
		if err := rows.Scan(&e.ID, &ts, &eventType, &stateFrom, &stateTo, &sensorID, &sensorName, &e.Score, &notes); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.EventType = model.EventKind(eventType)
		e.StateFrom = stateFrom.String
		e.StateTo = stateTo.String
		e.SensorID = sensorID.String
		e.SensorName = sensorName.String
		e.Notes = notes.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
