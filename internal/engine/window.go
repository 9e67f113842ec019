package engine

import "fallguard/internal/model"

// Window holds the samples of the trailing retention period in timestamp
// order. Samples older than the newest accepted timestamp are rejected.
type Window struct {
	retentionMs int64
	samples     []model.MotionSample
	head        int
}

func NewWindow(retentionMs int64) *Window {
	return &Window{
		retentionMs: retentionMs,
		samples:     make([]model.MotionSample, 0, 64),
	}
}

// Add appends s and evicts everything older than s.Timestamp minus the
// retention. It reports false when s arrived out of order.
func (w *Window) Add(s model.MotionSample) bool {
	if n := len(w.samples); n > w.head && s.Timestamp < w.samples[n-1].Timestamp {
		return false
	}
	w.samples = append(w.samples, s)
	w.Evict(s.Timestamp - w.retentionMs)
	return true
}

// Evict drops samples with a timestamp before cutoff.
func (w *Window) Evict(cutoff int64) {
	for w.head < len(w.samples) {
		if w.samples[w.head].Timestamp >= cutoff {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.samples) {
		w.samples = append(w.samples[:0:0], w.samples[w.head:]...)
		w.head = 0
	}
}

// Samples returns the live samples. The slice is only valid until the next
// Add.
func (w *Window) Samples() []model.MotionSample {
	return w.samples[w.head:]
}

func (w *Window) Len() int {
	return len(w.samples) - w.head
}

func (w *Window) SetRetention(ms int64) {
	w.retentionMs = ms
}

func (w *Window) Reset() {
	w.samples = w.samples[:0]
	w.head = 0
}
