package bridge

import (
	"context"
	"log/slog"
	"sync"

	"fallguard/internal/engine"
	"fallguard/internal/model"
	"fallguard/internal/motion"
)

const (
	HeuristicSpike = "spike"
	HeuristicFull  = "full"
)

type MonitorConfig struct {
	Heuristic string
	// SpikeG and GraceMs drive the spike heuristic.
	SpikeG  float64
	GraceMs int64
	// Params drive the full heuristic.
	Params engine.Params
}

// Monitor is the service half of the bridge: it watches motion readings and
// publishes a Signal for each detection. Publishing happens off the sample
// path.
type Monitor struct {
	cfg    MonitorConfig
	source motion.Source
	relay  Relay
	logger *slog.Logger

	mu        sync.Mutex
	sub       motion.Subscription
	out       chan Signal
	cancel    context.CancelFunc
	done      chan struct{}
	cooldown  *engine.Cooldown
	detectors map[string]*engine.Detector
}

func NewMonitor(cfg MonitorConfig, source motion.Source, relay Relay, logger *slog.Logger) *Monitor {
	if cfg.Heuristic == "" {
		cfg.Heuristic = HeuristicSpike
	}
	return &Monitor{cfg: cfg, source: source, relay: relay, logger: logger}
}

// Start is idempotent.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return nil
	}
	m.cooldown = engine.NewCooldown()
	m.detectors = make(map[string]*engine.Detector)
	m.out = make(chan Signal, 16)
	sub, err := m.source.Subscribe(m.observe)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithCancel(ctx)
	m.sub = sub
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.pump(pctx, m.out, m.done)
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	sub, cancel, done := m.sub, m.cancel, m.done
	m.sub, m.cancel, m.done = nil, nil, nil
	m.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Unsubscribe()
	cancel()
	<-done
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

func (m *Monitor) observe(r model.Reading) {
	m.mu.Lock()
	if m.sub == nil {
		m.mu.Unlock()
		return
	}
	sig, ok := m.detectLocked(r)
	out := m.out
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case out <- sig:
	default:
		if m.logger != nil {
			m.logger.Warn("bridge signal queue full, dropping", "device_id", sig.DeviceID)
		}
	}
}

func (m *Monitor) detectLocked(r model.Reading) (Signal, bool) {
	s := model.SampleFromReading(r)
	if m.cfg.Heuristic == HeuristicFull {
		d, ok := m.detectors[r.DeviceID]
		if !ok {
			d = engine.NewDetector(m.cfg.Params)
			m.detectors[r.DeviceID] = d
		}
		ev, fired := d.Observe(s)
		if !fired {
			return Signal{}, false
		}
		return Signal{DeviceID: r.DeviceID, DetectedAt: ev.DetectedAt}, true
	}
	if s.AccelerationMagnitude <= m.cfg.SpikeG*model.StandardGravity {
		return Signal{}, false
	}
	if !m.cooldown.Allow(r.DeviceID, s.Timestamp, m.cfg.GraceMs) {
		return Signal{}, false
	}
	return Signal{DeviceID: r.DeviceID, DetectedAt: s.Timestamp}, true
}

func (m *Monitor) pump(ctx context.Context, in <-chan Signal, done chan struct{}) {
	defer close(done)
	for {
		select {
		case sig := <-in:
			if err := m.relay.Publish(ctx, sig); err != nil && m.logger != nil {
				m.logger.Warn("bridge relay publish failed", "device_id", sig.DeviceID, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
