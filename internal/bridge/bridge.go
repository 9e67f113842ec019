// Package bridge is the always-on background counterpart of the foreground
// detector. The service half (Monitor) runs a cheaper heuristic and sends
// signals over a Relay; the application half (Attach, Subscribe) turns
// them back into fall events.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"fallguard/internal/device"
	"fallguard/internal/model"
)

var (
	ErrPermissionDenied = errors.New("sensor permission denied")
	ErrRelayUnavailable = errors.New("bridge relay unavailable")
)

type Permissions interface {
	Granted() bool
}

type StaticPermissions bool

func (p StaticPermissions) Granted() bool { return bool(p) }

type Options struct {
	Monitor     *Monitor
	Relay       Relay
	Flags       FlagStore
	Permissions Permissions
	Indicator   device.Indicator
	Notice      string
	Logger      *slog.Logger
}

type Bridge struct {
	opts Options

	mu     sync.Mutex
	active bool

	lmu       sync.RWMutex
	nextID    int
	listeners map[int]func(model.FallEvent)
}

func New(opts Options) *Bridge {
	if opts.Permissions == nil {
		opts.Permissions = StaticPermissions(true)
	}
	if opts.Notice == "" {
		opts.Notice = "Fall monitoring is active"
	}
	return &Bridge{opts: opts, listeners: make(map[int]func(model.FallEvent))}
}

// Start begins background monitoring and records persistAcrossReboot as
// the flag Boot reads. Denied permission, an unreachable relay or a source
// that refuses the subscription make Start a no-op that leaves the flag
// untouched; the returned error says which.
func (b *Bridge) Start(ctx context.Context, persistAcrossReboot bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opts.Permissions.Granted() {
		b.warn("background monitoring not started", ErrPermissionDenied)
		return ErrPermissionDenied
	}
	if err := b.opts.Relay.Ping(ctx); err != nil {
		b.warn("background monitoring not started", err)
		return errors.Join(ErrRelayUnavailable, err)
	}
	started := false
	if !b.active {
		if b.opts.Monitor != nil {
			if err := b.opts.Monitor.Start(context.WithoutCancel(ctx)); err != nil {
				b.warn("background monitoring not started", err)
				return err
			}
		}
		device.SafeShow(b.opts.Indicator, b.opts.Notice, b.opts.Logger)
		b.active = true
		started = true
	}
	if b.opts.Flags != nil {
		if err := b.opts.Flags.Save(ctx, persistAcrossReboot); err != nil {
			b.warn("persist bridge flag failed", err)
		}
	}
	if started && b.opts.Logger != nil {
		b.opts.Logger.Info("background monitoring started", "persist", persistAcrossReboot)
	}
	return nil
}

// Stop halts monitoring and clears the persisted flag.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.opts.Flags != nil {
		err = b.opts.Flags.Save(ctx, false)
		if err != nil {
			b.warn("clear bridge flag failed", err)
		}
	}
	if !b.active {
		return err
	}
	if b.opts.Monitor != nil {
		b.opts.Monitor.Stop()
	}
	device.SafeHide(b.opts.Indicator, b.opts.Logger)
	b.active = false
	if b.opts.Logger != nil {
		b.opts.Logger.Info("background monitoring stopped")
	}
	return err
}

// Boot is the boot-time trigger: it restarts monitoring when the persisted
// flag is set and reports whether it did.
func (b *Bridge) Boot(ctx context.Context) bool {
	if b.opts.Flags == nil {
		return false
	}
	enabled, err := b.opts.Flags.Load(ctx)
	if err != nil {
		b.warn("read bridge flag failed", err)
		return false
	}
	if !enabled {
		return false
	}
	return b.Start(ctx, true) == nil
}

func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Subscribe registers cb for fall events arriving from the service and
// returns the unsubscribe handle.
func (b *Bridge) Subscribe(cb func(model.FallEvent)) func() {
	b.lmu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = cb
	b.lmu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.lmu.Lock()
			delete(b.listeners, id)
			b.lmu.Unlock()
		})
	}
}

// Attach runs the application half: it listens on the relay until ctx is
// done and dispatches each signal to subscribers.
func (b *Bridge) Attach(ctx context.Context) error {
	return b.opts.Relay.Listen(ctx, b.dispatch)
}

func (b *Bridge) dispatch(sig Signal) {
	ev := model.FallEvent{DetectedAt: sig.DetectedAt, DeviceID: sig.DeviceID, Origin: model.OriginBackground}
	b.lmu.RLock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	cbs := make([]func(model.FallEvent), 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, b.listeners[id])
	}
	b.lmu.RUnlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (b *Bridge) warn(msg string, err error) {
	if b.opts.Logger != nil {
		b.opts.Logger.Warn(msg, "err", err)
	}
}
