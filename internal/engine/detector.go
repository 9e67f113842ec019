package engine

import "fallguard/internal/model"

// Detector runs the fall heuristic over one device's sample stream. It is
// not safe for concurrent use.
type Detector struct {
	params   Params
	window   *Window
	lastFall int64
	hasFired bool
	fired    int
	last     Verdict
	lastTS   int64
}

func NewDetector(p Params) *Detector {
	return &Detector{params: p, window: NewWindow(p.RetentionMs)}
}

func (d *Detector) SetParams(p Params) {
	d.params = p
	d.window.SetRetention(p.RetentionMs)
}

// Observe feeds one sample. It returns a FallEvent when the heuristic fires
// outside the grace period of the previous event. Out-of-order samples are
// ignored.
func (d *Detector) Observe(s model.MotionSample) (model.FallEvent, bool) {
	if !d.window.Add(s) {
		return model.FallEvent{}, false
	}
	now := s.Timestamp
	d.lastTS = now
	if d.hasFired && now-d.lastFall < d.params.GraceMs {
		d.last = Verdict{}
		return model.FallEvent{}, false
	}
	d.last = Evaluate(d.window.Samples(), now, d.params)
	if !d.last.Fired() {
		return model.FallEvent{}, false
	}
	d.lastFall = now
	d.hasFired = true
	d.fired++
	return model.FallEvent{DetectedAt: now}, true
}

// Samples returns a copy of the current window.
func (d *Detector) Samples() []model.MotionSample {
	return append([]model.MotionSample(nil), d.window.Samples()...)
}

// ClearWindow drops buffered samples but keeps the grace period.
func (d *Detector) ClearWindow() {
	d.window.Reset()
}

func (d *Detector) Stats(deviceID string) model.WindowStats {
	st := model.WindowStats{
		DeviceID:     deviceID,
		Samples:      d.window.Len(),
		Evaluated:    d.last.Evaluated,
		Fired:        d.fired,
		LastSampleAt: d.lastTS,
	}
	if d.last.Evaluated {
		st.PeakAccelG = d.last.PeakAcc / model.StandardGravity
		st.MinAccelG = d.last.MinAcc / model.StandardGravity
		st.PeakRotation = d.last.PeakRot
	}
	return st
}
