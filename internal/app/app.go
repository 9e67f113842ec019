// Package app assembles the daemon from configuration: sample ingest,
// detection, the background bridge, the confirmation and alarm flows, the
// escalation transport and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"

	"fallguard/internal/api"
	"fallguard/internal/bridge"
	"fallguard/internal/broker"
	"fallguard/internal/clock"
	"fallguard/internal/config"
	"fallguard/internal/device"
	"fallguard/internal/engine"
	"fallguard/internal/escalate"
	"fallguard/internal/incidents"
	"fallguard/internal/ingest"
	"fallguard/internal/metrics"
	"fallguard/internal/model"
	"fallguard/internal/motion"
	"fallguard/internal/storage"
)

// Options overrides the pieces that are normally built from config.
type Options struct {
	Clock     clock.Clock
	Speaker   device.Speaker
	Vibrator  device.Vibrator
	Dialer    device.Dialer
	Indicator device.Indicator
	// Publisher and Subscriber replace the configured escalation transport.
	Publisher  escalate.Publisher
	Subscriber escalate.Subscriber
	Version    string
}

type App struct {
	cfg    *config.Manager
	logger *slog.Logger
	opts   Options

	Metrics     *metrics.Store
	Incidents   *incidents.Store
	Store       storage.Store
	Feed        *motion.Feed
	Engine      *engine.Engine
	Monitor     *bridge.Monitor
	Bridge      *bridge.Bridge
	Coordinator *Coordinator
	Responder   *Responder

	publisher  escalate.Publisher
	subscriber escalate.Subscriber
	hub        *escalate.Hub
	redis      *redis.Client
	mqtt       mqtt.Client
	unsubs     []func()
}

func hasElder(role string) bool     { return role == config.RoleElder || role == config.RoleBoth }
func hasCaregiver(role string) bool { return role == config.RoleCaregiver || role == config.RoleBoth }

// New builds every component the configured role needs. Nothing runs until
// Run is called.
func New(ctx context.Context, mgr *config.Manager, logger *slog.Logger, opts Options) (*App, error) {
	cfg := mgr.Get()
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	a := &App{
		cfg:       mgr,
		logger:    logger,
		opts:      opts,
		Metrics:   metrics.NewStore(cfg.Metrics.StoreLimit),
		Incidents: incidents.NewStore(cfg.Incidents.StoreLimit),
	}
	a.buildDevices(cfg)

	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	if err := a.buildTransport(cfg); err != nil {
		a.close()
		return nil, err
	}

	if hasElder(cfg.Role) {
		a.Feed = motion.NewFeed()
		a.Engine = engine.NewEngine(cfg, logger, a.Metrics, a.Store, a.Feed)
		a.Coordinator = NewCoordinator(CoordinatorOptions{
			Config:    cfg,
			Clock:     opts.Clock,
			Speaker:   a.opts.Speaker,
			Vibrator:  a.opts.Vibrator,
			Publisher: a.publisher,
			Incidents: a.Incidents,
			Store:     a.Store,
			Logger:    logger,
		})
		a.unsubs = append(a.unsubs, a.Engine.OnFallDetected(func(ev model.FallEvent) { a.Coordinator.HandleFall(ev) }))
		if cfg.Bridge.Enabled {
			if err := a.buildBridge(cfg); err != nil {
				a.close()
				return nil, err
			}
			a.unsubs = append(a.unsubs, a.Bridge.Subscribe(func(ev model.FallEvent) { a.Coordinator.HandleFall(ev) }))
		}
	}
	if hasCaregiver(cfg.Role) {
		a.Responder = NewResponder(ResponderOptions{
			Config:    cfg,
			Clock:     opts.Clock,
			Speaker:   a.opts.Speaker,
			Vibrator:  a.opts.Vibrator,
			Dialer:    a.opts.Dialer,
			Incidents: a.Incidents,
			Store:     a.Store,
			Logger:    logger,
		})
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) error {
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store == nil {
		return nil
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("init storage: %w", err)
	}
	a.Store = store
	a.restoreIncidents(ctx, cfg.Incidents.StoreLimit)
	return nil
}

// restoreIncidents reloads the most recent persisted incidents so history
// survives a restart.
func (a *App) restoreIncidents(ctx context.Context, limit int) {
	list, err := a.Store.ListIncidents(ctx, limit)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("incident history unavailable", "err", err)
		}
		return
	}
	for i := len(list) - 1; i >= 0; i-- {
		a.Incidents.Add(list[i])
	}
	if a.logger != nil && len(list) > 0 {
		a.logger.Info("incident history restored", "count", len(list))
	}
}

func (a *App) buildDevices(cfg *config.Config) {
	logDevice := device.NewLog(a.logger)
	if a.opts.Speaker == nil {
		a.opts.Speaker = logDevice
		if len(cfg.Device.SpeechCommand) > 0 {
			speaker, err := device.NewExecSpeaker(cfg.Device.SpeechCommand)
			if err != nil {
				if a.logger != nil {
					a.logger.Warn("speech command unavailable, logging speech instead", "err", err)
				}
			} else {
				a.opts.Speaker = speaker
			}
		}
	}
	if a.opts.Vibrator == nil {
		a.opts.Vibrator = logDevice
	}
	if a.opts.Dialer == nil {
		a.opts.Dialer = logDevice
	}
	if a.opts.Indicator == nil {
		a.opts.Indicator = logDevice
	}
}

func (a *App) redisClient(cfg *config.Config) *redis.Client {
	if a.redis == nil {
		a.redis = broker.NewRedisClient(cfg.Redis)
	}
	return a.redis
}

func (a *App) buildTransport(cfg *config.Config) error {
	if a.opts.Publisher != nil || a.opts.Subscriber != nil {
		a.publisher = a.opts.Publisher
		a.subscriber = a.opts.Subscriber
		return nil
	}
	topic := cfg.Escalation.Topic
	switch cfg.Escalation.Transport {
	case "local":
		local := escalate.NewLocal()
		a.publisher, a.subscriber = local, local
	case "websocket":
		if hasElder(cfg.Role) {
			a.hub = escalate.NewHub()
			a.publisher = a.hub
		}
		if hasCaregiver(cfg.Role) {
			url := cfg.Escalation.UpstreamURL
			if url == "" {
				url = loopbackWS(cfg.API.Addr)
			}
			a.subscriber = &escalate.WSSubscriber{URL: url, OnError: func(err error) {
				if a.logger != nil {
					a.logger.Warn("escalation websocket disconnected", "url", url, "err", err)
				}
			}}
		}
	case "redis":
		client := a.redisClient(cfg)
		a.publisher = escalate.NewRedisPublisher(client, topic)
		a.subscriber = escalate.NewRedisSubscriber(client, topic, a.logger)
	case "mqtt":
		client, err := broker.DialMQTT(cfg.MQTT, "escalate")
		if err != nil {
			return err
		}
		a.mqtt = client
		a.publisher = escalate.NewMQTTPublisher(client, topic)
		a.subscriber = escalate.NewMQTTSubscriber(client, topic, a.logger)
	case "kafka":
		a.publisher = escalate.NewKafkaPublisher(cfg.Escalation.Kafka)
		a.subscriber = escalate.NewKafkaSubscriber(cfg.Escalation.Kafka, a.logger)
	default:
		return fmt.Errorf("unsupported escalation transport %q", cfg.Escalation.Transport)
	}
	return nil
}

// loopbackWS points a caregiver running in the same process at its own hub.
func loopbackWS(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "ws://" + addr + "/ws"
}

func (a *App) buildBridge(cfg *config.Config) error {
	relay, flags, err := a.bridgeParts(cfg)
	if err != nil {
		return err
	}
	a.Monitor = bridge.NewMonitor(MonitorConfigFrom(cfg), a.Feed, relay, a.logger)
	a.Bridge = bridge.New(bridge.Options{
		Monitor:     a.Monitor,
		Relay:       relay,
		Flags:       flags,
		Permissions: bridge.StaticPermissions(cfg.Bridge.Permissions),
		Indicator:   a.opts.Indicator,
		Notice:      cfg.Bridge.Notice,
		Logger:      a.logger,
	})
	return nil
}

func (a *App) bridgeParts(cfg *config.Config) (bridge.Relay, bridge.FlagStore, error) {
	var relay bridge.Relay
	switch cfg.Bridge.Relay {
	case "redis":
		relay = bridge.NewRedisRelay(a.redisClient(cfg), cfg.Bridge.Stream, a.logger)
	default:
		relay = bridge.NewChanRelay(64)
	}
	var flags bridge.FlagStore
	switch cfg.Bridge.FlagStore {
	case "storage":
		if a.Store == nil {
			return nil, nil, errors.New("bridge flag store needs storage enabled")
		}
		flags = bridge.NewStorageFlagStore(a.Store, cfg.Bridge.FlagKey)
	case "redis":
		flags = bridge.NewRedisFlagStore(a.redisClient(cfg), cfg.Bridge.FlagKey)
	case "memory":
		flags = &bridge.MemoryFlagStore{}
	default:
		flags = bridge.NewFileFlagStore(config.ResolvePath(cfg.Bridge.FlagPath))
	}
	return relay, flags, nil
}

// Run starts every built component and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg.Get()
	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if a.hub != nil {
		goRun(func() { a.hub.Run(ctx) })
	}
	if a.Feed != nil {
		a.startIngest(ctx, cfg, goRun)
		if cfg.Detection.EnabledOnStart {
			a.Engine.Enable()
		}
	}
	if a.Bridge != nil {
		goRun(func() {
			if err := a.Bridge.Attach(ctx); err != nil && a.logger != nil {
				a.logger.Warn("bridge relay listener stopped", "err", err)
			}
		})
		if a.Bridge.Boot(ctx) && a.logger != nil {
			a.logger.Info("background monitoring restored from persisted flag")
		}
	}
	if a.Responder != nil && a.subscriber != nil {
		goRun(func() {
			if err := a.Responder.Run(ctx, a.subscriber); err != nil && a.logger != nil {
				a.logger.Warn("escalation subscriber stopped", "err", err)
			}
		})
	}

	api.Start(ctx, a.apiOptions())

	if a.cfg.Path() != "" {
		goRun(func() {
			a.cfg.Watch(3*time.Second, a.applyConfig, func(err error) {
				if a.logger != nil {
					a.logger.Warn("config reload failed", "err", err)
				}
			}, ctx.Done())
		})
	}

	<-ctx.Done()
	a.shutdown()
	wg.Wait()
	a.close()
	return nil
}

func (a *App) startIngest(ctx context.Context, cfg *config.Config, goRun func(func())) {
	out := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	parser := ingest.NewParser()
	ingest.StartREST(ctx, a.cfg, out, a.logger)
	ingest.StartUDP(ctx, a.cfg, parser, out, a.logger)
	ingest.StartTCPStream(ctx, a.cfg, parser, out, a.logger)
	ingest.StartFileTail(ctx, a.cfg, parser, out, a.logger)
	ingest.StartKafka(ctx, a.cfg, parser, out, a.logger)
	ingest.StartMQTT(ctx, a.cfg, parser, out, a.logger)
	goRun(func() { a.Feed.Run(ctx, out) })

	if syn := cfg.Ingest.Synthetic; syn.Enabled {
		sensor := motion.NewSyntheticSensor(syn.DeviceID, int64(syn.DemoFallEveryMs), a.opts.Clock)
		poller := motion.NewPoller(sensor, a.Feed, time.Duration(syn.IntervalMs)*time.Millisecond, a.logger)
		poller.Start(ctx)
		if a.logger != nil {
			a.logger.Info("synthetic sensor enabled", "device_id", syn.DeviceID, "demo_fall_every_ms", syn.DemoFallEveryMs)
		}
	}
}

func (a *App) apiOptions() api.Options {
	opts := api.Options{
		Config:    a.cfg,
		Metrics:   a.Metrics,
		Incidents: a.Incidents,
		Logger:    a.logger,
		Version:   a.opts.Version,
	}
	if a.Engine != nil {
		opts.Detection = a.Engine
	}
	if a.Bridge != nil {
		opts.Bridge = a.Bridge
	}
	if a.Coordinator != nil {
		opts.Confirmation = a.Coordinator
	}
	if a.Responder != nil {
		opts.Alarm = a.Responder
	}
	if a.hub != nil {
		opts.Hub = a.hub.Handler()
	}
	return opts
}

// Handler exposes the API without binding a listener.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.apiOptions()).Handler()
}

func (a *App) applyConfig(cfg *config.Config) {
	if a.Engine != nil {
		a.Engine.UpdateConfig(cfg)
	}
	if a.Coordinator != nil {
		a.Coordinator.UpdateConfig(cfg)
	}
	if a.logger != nil {
		a.logger.Info("config reloaded", "path", a.cfg.Path())
	}
}

// shutdown stops activity without touching the persisted bridge flag, so a
// restart resumes background monitoring.
func (a *App) shutdown() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	if a.Engine != nil {
		a.Engine.Disable()
	}
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.Coordinator != nil {
		a.Coordinator.Close()
	}
	if a.Responder != nil {
		a.Responder.Close()
	}
}

func (a *App) close() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
