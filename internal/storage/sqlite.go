package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fallguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:fallguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fall_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			detected_at INTEGER NOT NULL,
			device_id TEXT NOT NULL,
			elder_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			stats_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fall_events_device ON fall_events(device_id, detected_at)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			elder_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL,
			resolved_at TEXT NOT NULL,
			alert_outcome TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_detected ON incidents(detected_at)`,
		`CREATE TABLE IF NOT EXISTS flags (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveFallEvent(ctx context.Context, ev model.FallEvent, stats model.WindowStats) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fall_events (ts, detected_at, device_id, elder_id, origin, stats_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(nowUTC()),
		ev.DetectedAt,
		ev.DeviceID,
		ev.ElderID,
		string(ev.Origin),
		encodeJSON(stats),
	)
	return err
}

func (s *sqliteStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, elder_id, device_id, origin, detected_at, outcome, reason, resolved_at, alert_outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			reason = excluded.reason,
			resolved_at = excluded.resolved_at,
			alert_outcome = excluded.alert_outcome`,
		inc.ID,
		inc.ElderID,
		inc.DeviceID,
		string(inc.Origin),
		formatTime(inc.DetectedAt),
		string(inc.Outcome),
		string(inc.Reason),
		formatTime(inc.ResolvedAt),
		string(inc.AlertOutcome),
	)
	return err
}

func (s *sqliteStore) ListIncidents(ctx context.Context, limit int) ([]model.Incident, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, elder_id, device_id, origin, detected_at, outcome, reason, resolved_at, alert_outcome
		FROM incidents ORDER BY detected_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Incident, 0)
	for rows.Next() {
		var inc model.Incident
		var origin, outcome, reason, alertOutcome, detectedAt, resolvedAt string
		if err := rows.Scan(&inc.ID, &inc.ElderID, &inc.DeviceID, &origin, &detectedAt, &outcome, &reason, &resolvedAt, &alertOutcome); err != nil {
			return nil, err
		}
		inc.Origin = model.Origin(origin)
		inc.Outcome = model.Outcome(outcome)
		inc.Reason = model.EscalationReason(reason)
		inc.AlertOutcome = model.AlertOutcome(alertOutcome)
		inc.DetectedAt = parseTime(detectedAt)
		inc.ResolvedAt = parseTime(resolvedAt)
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LoadFlag(ctx context.Context, key string) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	var value int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value != 0, nil
}

func (s *sqliteStore) SaveFlag(ctx context.Context, key string, value bool) error {
	if s.db == nil {
		return nil
	}
	v := 0
	if value {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, v, formatTime(nowUTC()))
	return err
}

// sqlite has no time type; timestamps are stored as RFC3339 text so that
// lexical order matches time order.
func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
