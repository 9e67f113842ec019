package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"fallguard/internal/bridge"
	"fallguard/internal/clock"
	"fallguard/internal/config"
	"fallguard/internal/engine"
	"fallguard/internal/motion"
)

var ErrBridgeRelayLocal = errors.New("standalone bridge needs bridge.relay redis")

// RunBridge runs only the service half of the bridge: sample ingest feeding
// a Monitor that publishes to the Redis relay, for a daemon whose
// application half runs in another process. The persisted flag decides
// whether monitoring starts; start forces it on.
func RunBridge(ctx context.Context, mgr *config.Manager, logger *slog.Logger, start, persist bool) error {
	cfg := mgr.Get()
	if cfg.Bridge.Relay != "redis" {
		return ErrBridgeRelayLocal
	}
	a := &App{cfg: mgr, logger: logger, opts: Options{Clock: clock.Real()}}
	a.buildDevices(cfg)
	if err := a.openStore(ctx, cfg); err != nil {
		return err
	}
	defer a.close()

	a.Feed = motion.NewFeed()
	if err := a.buildBridge(cfg); err != nil {
		return err
	}

	var wg sync.WaitGroup
	a.startIngest(ctx, cfg, func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	})

	running := a.Bridge.Boot(ctx)
	if !running && start {
		if err := a.Bridge.Start(ctx, persist); err != nil {
			if logger != nil {
				logger.Warn("background monitoring inactive", "err", err)
			}
		}
	}
	if logger != nil {
		logger.Info("bridge service running", "active", a.Bridge.Active(), "stream", cfg.Bridge.Stream, "heuristic", cfg.Bridge.Heuristic)
	}
	<-ctx.Done()
	// leave the persisted flag alone so the next boot resumes
	a.Monitor.Stop()
	wg.Wait()
	return nil
}

// MonitorConfigFrom maps the bridge section onto a Monitor configuration.
func MonitorConfigFrom(cfg *config.Config) bridge.MonitorConfig {
	return bridge.MonitorConfig{
		Heuristic: cfg.Bridge.Heuristic,
		SpikeG:    cfg.Bridge.SpikeG,
		GraceMs:   cfg.Bridge.GraceMs,
		Params:    engine.ParamsFromConfig(cfg.Detection),
	}
}
