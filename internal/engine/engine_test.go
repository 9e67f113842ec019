package engine

import (
	"errors"
	"sync"
	"testing"

	"fallguard/internal/config"
	"fallguard/internal/metrics"
	"fallguard/internal/model"
	"fallguard/internal/motion"
)

type countingSource struct {
	feed          *motion.Feed
	mu            sync.Mutex
	subscribed    int
	unsubscribed  int
	failSubscribe bool
}

func newCountingSource() *countingSource {
	return &countingSource{feed: motion.NewFeed()}
}

func (c *countingSource) Subscribe(fn func(model.Reading)) (motion.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSubscribe {
		return nil, errors.New("sensor unavailable")
	}
	sub, err := c.feed.Subscribe(fn)
	if err != nil {
		return nil, err
	}
	c.subscribed++
	return &countingSub{src: c, inner: sub}, nil
}

type countingSub struct {
	src   *countingSource
	inner motion.Subscription
	once  sync.Once
}

func (s *countingSub) Unsubscribe() {
	s.once.Do(func() {
		s.inner.Unsubscribe()
		s.src.mu.Lock()
		s.src.unsubscribed++
		s.src.mu.Unlock()
	})
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Elder.ID = "grandma"
	cfg.Elder.Devices = []string{"phone"}
	return cfg
}

func newEngineForTest(cfg *config.Config, src motion.Source) *Engine {
	return NewEngine(cfg, nil, metrics.NewStore(100), nil, src)
}

func reading(ts int64, accG, rot float64) model.Reading {
	return model.Reading{DeviceID: "phone", Timestamp: ts, Az: accG * model.StandardGravity, Rx: rot}
}

// scenario is the canonical fall sequence preceded by four resting samples so
// that the buffer holds the eight samples evaluation requires.
func scenario() []model.Reading {
	return []model.Reading{
		reading(-400, 1, 0),
		reading(-300, 1, 0),
		reading(-200, 1, 0),
		reading(-100, 1, 0),
		reading(0, 1, 0),
		reading(100, 2.5, 0),
		reading(200, 0.2, 0),
		reading(300, 0.25, 4.0),
	}
}

func TestIdempotentEnableDisable(t *testing.T) {
	src := newCountingSource()
	eng := newEngineForTest(testConfig(), src)
	eng.Enable()
	eng.Enable()
	if !eng.Enabled() {
		t.Fatalf("expected enabled")
	}
	eng.Disable()
	eng.Disable()
	if eng.Enabled() {
		t.Fatalf("expected disabled")
	}
	if src.subscribed != 1 || src.unsubscribed != 1 {
		t.Fatalf("expected one subscription created and torn down, got %d/%d", src.subscribed, src.unsubscribed)
	}
	if src.feed.Subscribers() != 0 {
		t.Fatalf("expected no residual subscribers")
	}
}

func TestEndToEndScenarioFiresAt300(t *testing.T) {
	src := newCountingSource()
	eng := newEngineForTest(testConfig(), src)
	var events []model.FallEvent
	eng.OnFallDetected(func(ev model.FallEvent) { events = append(events, ev) })
	eng.Enable()
	for _, r := range scenario() {
		src.feed.Publish(r)
	}
	if len(events) != 1 {
		t.Fatalf("expected one fall event, got %d", len(events))
	}
	ev := events[0]
	if ev.DetectedAt != 300 || ev.DeviceID != "phone" || ev.ElderID != "grandma" || ev.Origin != model.OriginForeground {
		t.Fatalf("unexpected event %+v", ev)
	}
	stats, _, ok := eng.metrics.Get("phone")
	if !ok || stats.Fired != 1 || stats.Samples != 8 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDisabledEngineIgnoresSamples(t *testing.T) {
	src := newCountingSource()
	eng := newEngineForTest(testConfig(), src)
	fired := 0
	eng.OnFallDetected(func(model.FallEvent) { fired++ })
	eng.Enable()
	eng.Disable()
	for _, r := range scenario() {
		src.feed.Publish(r)
		if _, ok := eng.Process(r); ok {
			t.Fatalf("disabled engine must not emit")
		}
	}
	if fired != 0 {
		t.Fatalf("expected no callbacks, got %d", fired)
	}
}

func TestDisableFromCallbackStopsFurtherEvents(t *testing.T) {
	src := newCountingSource()
	cfg := testConfig()
	cfg.Detection.GraceMs = 0
	eng := newEngineForTest(cfg, src)
	fired := 0
	eng.OnFallDetected(func(model.FallEvent) {
		fired++
		eng.Disable()
	})
	eng.Enable()
	for _, r := range scenario() {
		src.feed.Publish(r)
	}
	src.feed.Publish(reading(400, 2.6, 4.0))
	if fired != 1 {
		t.Fatalf("expected a single callback, got %d", fired)
	}
}

func TestUnregisterListener(t *testing.T) {
	src := newCountingSource()
	eng := newEngineForTest(testConfig(), src)
	fired := 0
	unregister := eng.OnFallDetected(func(model.FallEvent) { fired++ })
	unregister()
	unregister()
	eng.Enable()
	for _, r := range scenario() {
		src.feed.Publish(r)
	}
	if fired != 0 {
		t.Fatalf("unregistered callback invoked")
	}
}

func TestSourceUnavailableIsSoft(t *testing.T) {
	src := newCountingSource()
	src.failSubscribe = true
	eng := newEngineForTest(testConfig(), src)
	eng.Enable()
	if eng.Enabled() {
		t.Fatalf("expected detection inactive when the source is unavailable")
	}
	eng.Disable()
}

func TestStrictDevicesFilter(t *testing.T) {
	src := newCountingSource()
	cfg := testConfig()
	cfg.Elder.StrictDevices = true
	eng := newEngineForTest(cfg, src)
	fired := 0
	eng.OnFallDetected(func(model.FallEvent) { fired++ })
	eng.Enable()
	for _, r := range scenario() {
		r.DeviceID = "stranger"
		src.feed.Publish(r)
	}
	if fired != 0 {
		t.Fatalf("unlinked device must be ignored")
	}
	if len(eng.Devices()) != 0 {
		t.Fatalf("no detector should be allocated for an unlinked device")
	}
}

func TestUpdateConfigAppliesThresholds(t *testing.T) {
	src := newCountingSource()
	eng := newEngineForTest(testConfig(), src)
	fired := 0
	eng.OnFallDetected(func(model.FallEvent) { fired++ })
	eng.Enable()
	cfg := testConfig()
	cfg.Detection.SpikeG = 3.0
	eng.UpdateConfig(cfg)
	for _, r := range scenario() {
		src.feed.Publish(r)
	}
	if fired != 0 {
		t.Fatalf("2.5 g must not count as a spike at a 3 g threshold")
	}
	eng.Reset()
	if len(eng.Devices()) != 0 {
		t.Fatalf("expected reset to drop detectors")
	}
}
