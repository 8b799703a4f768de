package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"homeguard/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS alarm_events (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
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
	id BIGSERIAL PRIMARY KEY,
	event_id BIGINT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	channel TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	retry_count INTEGER DEFAULT 0,
	response_time DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_alarm_escalations_event ON alarm_escalations(event_id);
`

// PostgresStore persists the audit log in a shared database, for
// installations that centralize event history.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres storage requires a dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) LogEvent(ctx context.Context, e model.LogEntry) (int64, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alarm_events (timestamp, event_type, state_from, state_to, sensor_id, sensor_name, correlation_score, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		ts, string(e.EventType), e.StateFrom, e.StateTo, e.SensorID, e.SensorName, e.Score, e.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alarm event: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, state_from, state_to, sensor_id, sensor_name, correlation_score, notes
		 FROM (SELECT * FROM alarm_events ORDER BY id DESC LIMIT $1) sub ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanPgEvents(rows)
}

func (s *PostgresStore) EventsSince(ctx context.Context, cutoff time.Time) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, state_from, state_to, sensor_id, sensor_name, correlation_score, notes
		 FROM alarm_events WHERE timestamp >= $1 ORDER BY id ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()
	return scanPgEvents(rows)
}

func (s *PostgresStore) LogEscalation(ctx context.Context, r model.EscalationRecord) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarm_escalations (event_id, timestamp, channel, success, retry_count, response_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.EventID, ts, r.Channel, r.Success, r.RetryCount, r.ResponseTime)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func (s *PostgresStore) EscalationsForEvent(ctx context.Context, eventID int64) ([]model.EscalationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, timestamp, channel, success, retry_count, response_time
		 FROM alarm_escalations WHERE event_id = $1 ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var out []model.EscalationRecord
	for rows.Next() {
		var r model.EscalationRecord
		var responseTime sql.NullFloat64
		if err := rows.Scan(&r.EventID, &r.Timestamp, &r.Channel, &r.Success, &r.RetryCount, &responseTime); err != nil {
			return nil, err
		}
		r.ResponseTime = responseTime.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alarm_events WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanPgEvents(rows *sql.Rows) ([]model.LogEntry, error) {
	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var stateFrom, stateTo, sensorID, sensorName, notes sql.NullString
		var eventType string
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &stateFrom, &stateTo, &sensorID, &sensorName, &e.Score, &notes); err != nil {
			return nil, err
		}
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
