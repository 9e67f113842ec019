package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"fallguard/internal/config"
	"fallguard/internal/metrics"
	"fallguard/internal/model"
	"fallguard/internal/motion"
	"fallguard/internal/profile"
	"fallguard/internal/storage"
)

// Engine connects a motion Source to per-device Detectors and notifies
// listeners of fall events.
type Engine struct {
	logger   *slog.Logger
	metrics  *metrics.Store
	store    storage.Store
	source   motion.Source
	cfg      atomic.Value
	profiles atomic.Value

	enabled atomic.Bool
	// toggle serialises Enable and Disable.
	toggle sync.Mutex
	sub    motion.Subscription

	mu        sync.Mutex
	detectors map[string]*Detector

	lmu       sync.RWMutex
	nextID    int
	listeners map[int]func(model.FallEvent)
}

func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store, store storage.Store, source motion.Source) *Engine {
	e := &Engine{
		logger:    logger,
		metrics:   metricsStore,
		store:     store,
		source:    source,
		detectors: make(map[string]*Detector),
		listeners: make(map[int]func(model.FallEvent)),
	}
	e.cfg.Store(cfg)
	e.profiles.Store(profile.New(cfg))
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.profiles.Store(profile.New(cfg))
	p := ParamsFromConfig(cfg.Detection)
	e.mu.Lock()
	for _, d := range e.detectors {
		d.SetParams(p)
	}
	e.mu.Unlock()
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) directory() *profile.Directory {
	if v := e.profiles.Load(); v != nil {
		return v.(*profile.Directory)
	}
	return nil
}

// Enable subscribes to the motion source. Calling it while enabled is a
// no-op. A source that refuses the subscription leaves detection disabled.
func (e *Engine) Enable() {
	e.toggle.Lock()
	defer e.toggle.Unlock()
	if e.sub != nil {
		return
	}
	if e.source == nil {
		return
	}
	sub, err := e.source.Subscribe(func(r model.Reading) { e.Process(r) })
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("motion source unavailable, fall detection inactive", "error", err)
		}
		return
	}
	e.sub = sub
	e.enabled.Store(true)
	if e.logger != nil {
		e.logger.Info("fall detection enabled")
	}
}

// Disable unsubscribes from the motion source. No fall event is emitted
// after Disable returns.
func (e *Engine) Disable() {
	e.toggle.Lock()
	defer e.toggle.Unlock()
	e.enabled.Store(false)
	if e.sub == nil {
		return
	}
	e.sub.Unsubscribe()
	e.sub = nil
	e.mu.Lock()
	for _, d := range e.detectors {
		d.ClearWindow()
	}
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("fall detection disabled")
	}
}

func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// OnFallDetected registers cb and returns a function that removes it.
func (e *Engine) OnFallDetected(cb func(model.FallEvent)) func() {
	e.lmu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = cb
	e.lmu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.lmu.Lock()
			delete(e.listeners, id)
			e.lmu.Unlock()
		})
	}
}

// Process evaluates one reading. It is the subscription callback and is
// exported for replay.
func (e *Engine) Process(r model.Reading) (model.FallEvent, bool) {
	if !e.enabled.Load() {
		return model.FallEvent{}, false
	}
	dir := e.directory()
	deviceID := r.DeviceID
	if deviceID == "" {
		deviceID = e.config().Ingest.Parser.DefaultDeviceID
	}
	if !dir.Linked(deviceID) {
		return model.FallEvent{}, false
	}
	sample := model.SampleFromReading(r)

	e.mu.Lock()
	det := e.getDetector(deviceID)
	ev, fired := det.Observe(sample)
	stats := det.Stats(deviceID)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.Update(stats)
	}
	if !fired {
		return model.FallEvent{}, false
	}
	if !e.enabled.Load() {
		return model.FallEvent{}, false
	}
	ev.DeviceID = deviceID
	ev.ElderID = dir.ElderForDevice(deviceID)
	ev.Origin = model.OriginForeground
	if e.logger != nil {
		e.logger.Warn("possible fall detected",
			"device_id", ev.DeviceID,
			"elder_id", ev.ElderID,
			"detected_at", ev.DetectedAt,
			"peak_accel_g", stats.PeakAccelG,
			"min_accel_g", stats.MinAccelG,
			"peak_rotation", stats.PeakRotation,
		)
	}
	if e.store != nil {
		if err := e.store.SaveFallEvent(context.Background(), ev, stats); err != nil && e.logger != nil {
			e.logger.Warn("persist fall event failed", "error", err)
		}
	}
	e.emit(ev)
	return ev, true
}

func (e *Engine) emit(ev model.FallEvent) {
	e.lmu.RLock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	cbs := make([]func(model.FallEvent), 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, e.listeners[id])
	}
	e.lmu.RUnlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (e *Engine) getDetector(deviceID string) *Detector {
	if d, ok := e.detectors[deviceID]; ok {
		return d
	}
	d := NewDetector(ParamsFromConfig(e.config().Detection))
	e.detectors[deviceID] = d
	return d
}

// Window returns a copy of the samples buffered for deviceID.
func (e *Engine) Window(deviceID string) []model.MotionSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.detectors[deviceID]; ok {
		return d.Samples()
	}
	return nil
}

func (e *Engine) Devices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.detectors))
	for id := range e.detectors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.detectors = make(map[string]*Detector)
	e.mu.Unlock()
}
