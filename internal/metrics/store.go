package metrics

import (
	"sort"
	"sync"
	"time"

	"fallguard/internal/model"
)

// Store keeps the latest detection window statistics per device.
type Store struct {
	mu        sync.RWMutex
	byDevice  map[string]model.WindowStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 256
	}
	return &Store{
		byDevice:  make(map[string]model.WindowStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(stats model.WindowStats) {
	if stats.DeviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice[stats.DeviceID] = stats
	s.updatedAt[stats.DeviceID] = time.Now().UTC()
	if len(s.byDevice) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(deviceID string) (model.WindowStats, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byDevice[deviceID]
	if !ok {
		return model.WindowStats{}, time.Time{}, false
	}
	return st, s.updatedAt[deviceID], true
}

func (s *Store) GetAll() []model.WindowStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WindowStats, 0, len(s.byDevice))
	for _, st := range s.byDevice {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (s *Store) evictOldest() {
	var oldestDevice string
	var oldest time.Time
	for device, ts := range s.updatedAt {
		if oldestDevice == "" || ts.Before(oldest) {
			oldestDevice = device
			oldest = ts
		}
	}
	if oldestDevice != "" {
		delete(s.byDevice, oldestDevice)
		delete(s.updatedAt, oldestDevice)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice = make(map[string]model.WindowStats)
	s.updatedAt = make(map[string]time.Time)
}
