package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"fallguard/internal/storage"
)

// FlagStore persists the "monitoring enabled" flag outside process memory.
// A flag that was never written reads as false.
type FlagStore interface {
	Load(ctx context.Context) (bool, error)
	Save(ctx context.Context, enabled bool) error
}

type fileFlag struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileFlagStore keeps the flag in a small JSON file, replaced atomically.
type FileFlagStore struct {
	path string
	mu   sync.Mutex
}

func NewFileFlagStore(path string) *FileFlagStore {
	return &FileFlagStore{path: path}
}

func (s *FileFlagStore) Load(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var f fileFlag
	if err := json.Unmarshal(data, &f); err != nil {
		return false, err
	}
	return f.Enabled, nil
}

func (s *FileFlagStore) Save(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(fileFlag{Enabled: enabled, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "flag-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// StorageFlagStore keeps the flag in the durable store's flags table.
type StorageFlagStore struct {
	store storage.Store
	key   string
}

func NewStorageFlagStore(store storage.Store, key string) *StorageFlagStore {
	return &StorageFlagStore{store: store, key: key}
}

func (s *StorageFlagStore) Load(ctx context.Context) (bool, error) {
	return s.store.LoadFlag(ctx, s.key)
}

func (s *StorageFlagStore) Save(ctx context.Context, enabled bool) error {
	return s.store.SaveFlag(ctx, s.key, enabled)
}

type RedisFlagStore struct {
	client *redis.Client
	key    string
}

func NewRedisFlagStore(client *redis.Client, key string) *RedisFlagStore {
	return &RedisFlagStore{client: client, key: key}
}

func (s *RedisFlagStore) Load(ctx context.Context) (bool, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (s *RedisFlagStore) Save(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return s.client.Set(ctx, s.key, v, 0).Err()
}

// MemoryFlagStore does not survive a restart. It backs tests and the
// "memory" flag_store setting.
type MemoryFlagStore struct {
	mu      sync.Mutex
	enabled bool
	Saves   int
}

func (s *MemoryFlagStore) Load(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, nil
}

func (s *MemoryFlagStore) Save(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	s.Saves++
	return nil
}
