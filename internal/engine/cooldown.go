package engine

import "sync"

// Cooldown enforces a per-key refractory period over millisecond
// timestamps.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]int64)}
}

// Allow reports whether key may fire at now and, if so, records it.
func (c *Cooldown) Allow(key string, now, graceMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && graceMs > 0 {
		if now-ts < graceMs {
			return false
		}
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]int64)
}
