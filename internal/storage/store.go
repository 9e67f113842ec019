package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fallguard/internal/config"
	"fallguard/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveFallEvent(ctx context.Context, ev model.FallEvent, stats model.WindowStats) error
	SaveIncident(ctx context.Context, inc model.Incident) error
	ListIncidents(ctx context.Context, limit int) ([]model.Incident, error)
	// LoadFlag returns false for a key that was never written.
	LoadFlag(ctx context.Context, key string) (bool, error)
	SaveFlag(ctx context.Context, key string, value bool) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10000 {
		return 10000
	}
	return limit
}
