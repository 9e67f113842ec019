package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fallguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/fallguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fall_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			detected_at BIGINT NOT NULL,
			device_id TEXT NOT NULL,
			elder_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			stats_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fall_events_device ON fall_events(device_id, detected_at)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			elder_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL,
			resolved_at TIMESTAMPTZ,
			alert_outcome TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_detected ON incidents(detected_at)`,
		`CREATE TABLE IF NOT EXISTS flags (
			key TEXT PRIMARY KEY,
			value BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveFallEvent(ctx context.Context, ev model.FallEvent, stats model.WindowStats) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fall_events (ts, detected_at, device_id, elder_id, origin, stats_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		nowUTC(),
		ev.DetectedAt,
		ev.DeviceID,
		ev.ElderID,
		string(ev.Origin),
		encodeJSON(stats),
	)
	return err
}

func (s *postgresStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, elder_id, device_id, origin, detected_at, outcome, reason, resolved_at, alert_outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			reason = EXCLUDED.reason,
			resolved_at = EXCLUDED.resolved_at,
			alert_outcome = EXCLUDED.alert_outcome`,
		inc.ID,
		inc.ElderID,
		inc.DeviceID,
		string(inc.Origin),
		inc.DetectedAt.UTC(),
		string(inc.Outcome),
		string(inc.Reason),
		nullTime(inc.ResolvedAt),
		string(inc.AlertOutcome),
	)
	return err
}

func (s *postgresStore) ListIncidents(ctx context.Context, limit int) ([]model.Incident, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, elder_id, device_id, origin, detected_at, outcome, reason, resolved_at, alert_outcome
		FROM incidents ORDER BY detected_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Incident, 0)
	for rows.Next() {
		var inc model.Incident
		var origin, outcome, reason, alertOutcome string
		var resolved sql.NullTime
		if err := rows.Scan(&inc.ID, &inc.ElderID, &inc.DeviceID, &origin, &inc.DetectedAt, &outcome, &reason, &resolved, &alertOutcome); err != nil {
			return nil, err
		}
		inc.Origin = model.Origin(origin)
		inc.Outcome = model.Outcome(outcome)
		inc.Reason = model.EscalationReason(reason)
		inc.AlertOutcome = model.AlertOutcome(alertOutcome)
		if resolved.Valid {
			inc.ResolvedAt = resolved.Time.UTC()
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *postgresStore) LoadFlag(ctx context.Context, key string) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	var value bool
	err := s.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return value, err
}

func (s *postgresStore) SaveFlag(ctx context.Context, key string, value bool) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, nowUTC())
	return err
}

func nullTime(ts time.Time) sql.NullTime {
	if ts.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts.UTC(), Valid: true}
}
