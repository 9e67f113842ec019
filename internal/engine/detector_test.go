package engine

import (
	"testing"

	"fallguard/internal/model"
)

const g = model.StandardGravity

func sample(ts int64, accG, rot float64) model.MotionSample {
	return model.MotionSample{Timestamp: ts, AccelerationMagnitude: accG * g, RotationMagnitude: rot}
}

// resting returns n samples at 1 g spaced step ms apart, ending before end.
func resting(end int64, n int, step int64) []model.MotionSample {
	out := make([]model.MotionSample, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, sample(end-int64(i)*step, 1, 0))
	}
	return out
}

func feed(d *Detector, samples []model.MotionSample) []model.FallEvent {
	var events []model.FallEvent
	for _, s := range samples {
		if ev, ok := d.Observe(s); ok {
			events = append(events, ev)
		}
	}
	return events
}

func TestSpikeOnlyNeverFires(t *testing.T) {
	d := NewDetector(DefaultParams())
	seq := resting(1000, 10, 100)
	seq = append(seq, sample(1000, 2.6, 0.5), sample(1100, 1.0, 0.2), sample(1200, 2.4, 0.1), sample(1300, 1.0, 0))
	if events := feed(d, seq); len(events) != 0 {
		t.Fatalf("spike without free-fall must not fire, got %d events", len(events))
	}
}

func TestSpikeLowRotationFiresOnce(t *testing.T) {
	d := NewDetector(DefaultParams())
	seq := resting(1000, 10, 100)
	seq = append(seq, sample(1000, 0.2, 0.5), sample(1100, 2.5, 4.0), sample(1200, 1.0, 0.5), sample(1300, 1.0, 0))
	events := feed(d, seq)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].DetectedAt != 1100 {
		t.Fatalf("expected event at 1100, got %d", events[0].DetectedAt)
	}
}

func TestSpikeLowJerkWithoutRotationFires(t *testing.T) {
	d := NewDetector(DefaultParams())
	seq := resting(1000, 10, 100)
	seq = append(seq, sample(1000, 0.2, 0), sample(1100, 2.5, 0), sample(1200, 1.0, 0))
	events := feed(d, seq)
	if len(events) != 1 {
		t.Fatalf("expected one event from jerk path, got %d", len(events))
	}
}

func TestEvaluateVerdictFlags(t *testing.T) {
	seq := resting(1000, 10, 100)
	seq = append(seq, sample(1000, 0.2, 0), sample(1100, 2.5, 0))
	v := Evaluate(seq, 1100, DefaultParams())
	if !v.Evaluated || !v.Spike || !v.LowAcc || v.Rotation || !v.Jerk || !v.Fired() {
		t.Fatalf("unexpected verdict %+v", v)
	}
	slow := resting(1000, 10, 100)
	slow = append(slow, sample(1000, 1.0, 0), sample(1100, 1.05, 0))
	if v := Evaluate(slow, 1100, DefaultParams()); v.Jerk || v.Fired() {
		t.Fatalf("slow change must not count as jerk: %+v", v)
	}
}

func TestEvaluateSkipsThinWindows(t *testing.T) {
	p := DefaultParams()
	seq := []model.MotionSample{sample(0, 1, 0), sample(100, 2.5, 0), sample(200, 0.2, 0), sample(300, 0.25, 4)}
	if v := Evaluate(seq, 300, p); v.Evaluated {
		t.Fatalf("expected evaluation skipped with %d samples", len(seq))
	}
	// Enough samples overall but too few inside the trailing sub-window.
	sparse := []model.MotionSample{}
	for i := 0; i < 8; i++ {
		sparse = append(sparse, sample(int64(i)*250, 1, 0))
	}
	if v := Evaluate(sparse, 1750, p); v.Evaluated {
		t.Fatalf("expected evaluation skipped for a sparse sub-window")
	}
}

func TestEvaluateIgnoresZeroDelta(t *testing.T) {
	seq := resting(1000, 10, 100)
	seq = append(seq, sample(1000, 1.0, 0), sample(1000, 2.5, 0))
	v := Evaluate(seq, 1000, DefaultParams())
	if v.Jerk {
		t.Fatalf("jerk must skip pairs with equal timestamps")
	}
}

func TestRefractoryPeriod(t *testing.T) {
	d := NewDetector(DefaultParams())
	fall := func(at int64) []model.MotionSample {
		seq := resting(at, 10, 100)
		return append(seq, sample(at, 0.2, 0), sample(at+100, 2.5, 4.0), sample(at+200, 1.0, 0))
	}
	var events []model.FallEvent
	events = append(events, feed(d, fall(1000))...)
	events = append(events, feed(d, fall(6000))...)
	events = append(events, feed(d, fall(12000))...)
	if len(events) != 1 {
		t.Fatalf("expected one event within grace, got %d", len(events))
	}
	events = append(events, feed(d, fall(20000))...)
	if len(events) != 2 {
		t.Fatalf("expected a second event after grace, got %d", len(events))
	}
	if events[1].DetectedAt-events[0].DetectedAt < DefaultParams().GraceMs {
		t.Fatalf("events closer than grace: %+v", events)
	}
}

func TestWindowEviction(t *testing.T) {
	d := NewDetector(DefaultParams())
	for ts := int64(0); ts <= 5000; ts += 50 {
		d.Observe(sample(ts, 1, 0))
	}
	now := int64(5000)
	samples := d.Samples()
	if len(samples) == 0 {
		t.Fatalf("expected buffered samples")
	}
	for _, s := range samples {
		if s.Timestamp < now-2000 {
			t.Fatalf("sample at %d older than retention", s.Timestamp)
		}
	}
	if samples[0].Timestamp != 3000 {
		t.Fatalf("expected oldest retained sample at 3000, got %d", samples[0].Timestamp)
	}
}

func TestWindowRejectsOutOfOrder(t *testing.T) {
	w := NewWindow(2000)
	if !w.Add(sample(100, 1, 0)) || !w.Add(sample(100, 1, 0)) {
		t.Fatalf("expected in-order samples accepted")
	}
	if w.Add(sample(50, 1, 0)) {
		t.Fatalf("expected out-of-order sample rejected")
	}
	if w.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", w.Len())
	}
}

func TestCooldown(t *testing.T) {
	c := NewCooldown()
	if !c.Allow("phone", 0, 15000) {
		t.Fatalf("first call must be allowed")
	}
	if c.Allow("phone", 14999, 15000) {
		t.Fatalf("expected refractory block")
	}
	if !c.Allow("watch", 100, 15000) {
		t.Fatalf("keys must be independent")
	}
	if !c.Allow("phone", 15000, 15000) {
		t.Fatalf("expected allow after grace")
	}
}
