package escalate

import (
	"sync"
	"time"
)

// Dedupe remembers keys for a TTL.
type Dedupe struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
}

func NewDedupe(ttl time.Duration) *Dedupe {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Dedupe{ttl: ttl, items: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within the TTL, recording it if not.
func (d *Dedupe) Seen(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= d.ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now)
	}
	return false
}

func (d *Dedupe) compact(now time.Time) {
	for k, ts := range d.items {
		if now.Sub(ts) > d.ttl {
			delete(d.items, k)
		}
	}
}

func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
