package incidents

import (
	"sync"
	"time"

	"fallguard/internal/model"
)

// Store is a bounded in-memory log of incidents, oldest dropped first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Incident
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Add(inc model.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, inc)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = inc
}

// Update applies fn to the incident with the given id and returns the
// updated copy.
func (s *Store) Update(id string, fn func(*model.Incident)) (model.Incident, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].ID == id {
			fn(&s.buf[i])
			return s.buf[i], true
		}
	}
	return model.Incident{}, false
}

func (s *Store) Get(id string) (model.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].ID == id {
			return s.buf[i], true
		}
	}
	return model.Incident{}, false
}

func (s *Store) List(limit int) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Incident, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Incident, 0)
	for _, inc := range s.buf {
		if !inc.DetectedAt.Before(ts) {
			out = append(out, inc)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
