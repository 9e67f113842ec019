// Package confirm drives the on-device self-confirmation prompt shown after
// a possible fall: a spoken question, a vibration pulse and a one-second
// countdown that escalates when it runs out.
package confirm

import (
	"log/slog"
	"sync"
	"time"

	"fallguard/internal/clock"
	"fallguard/internal/device"
	"fallguard/internal/model"
)

const (
	DefaultCountdown = 12
	DefaultPrompt    = "Are you okay? Tap I'm OK if you do not need help."
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseAwaiting Phase = "awaiting_user_response"
	PhaseResolved Phase = "resolved"
)

type State struct {
	Phase     Phase                  `json:"phase"`
	Remaining int                    `json:"remaining_sec"`
	Outcome   model.Outcome          `json:"outcome,omitempty"`
	Reason    model.EscalationReason `json:"reason,omitempty"`
	Event     model.FallEvent        `json:"event"`
}

type Options struct {
	// Countdown is in whole seconds.
	Countdown        int
	Prompt           string
	VibrationPattern []int
	OnEscalate       func(ev model.FallEvent, reason model.EscalationReason)
	OnCancel         func(ev model.FallEvent)
	OnTick           func(remaining int)
}

type Flow struct {
	opts     Options
	clock    clock.Clock
	speaker  device.Speaker
	vibrator device.Vibrator
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	timer  clock.Timer
	gen    uint64
	closed bool
}

func New(opts Options, clk clock.Clock, speaker device.Speaker, vibrator device.Vibrator, logger *slog.Logger) *Flow {
	if opts.Countdown <= 0 {
		opts.Countdown = DefaultCountdown
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Flow{
		opts:     opts,
		clock:    clk,
		speaker:  speaker,
		vibrator: vibrator,
		logger:   logger,
		state:    State{Phase: PhaseIdle},
	}
}

// Present starts a confirmation for ev. It returns false, and does nothing,
// unless the flow is idle.
func (f *Flow) Present(ev model.FallEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.state.Phase != PhaseIdle {
		if f.logger != nil {
			f.logger.Info("confirmation busy, fall event dropped", "device_id", ev.DeviceID, "phase", f.state.Phase)
		}
		return false
	}
	f.state = State{Phase: PhaseAwaiting, Remaining: f.opts.Countdown, Event: ev}
	f.gen++
	f.armLocked(f.gen)
	device.SafeSpeak(f.speaker, f.opts.Prompt, f.logger)
	device.SafeVibrate(f.vibrator, f.opts.VibrationPattern, f.logger)
	if f.logger != nil {
		f.logger.Info("confirmation started", "device_id", ev.DeviceID, "countdown_sec", f.opts.Countdown)
	}
	return true
}

// ConfirmOK resolves the prompt as "I am OK". No escalation follows.
func (f *Flow) ConfirmOK() bool {
	f.mu.Lock()
	if f.state.Phase != PhaseAwaiting {
		f.mu.Unlock()
		return false
	}
	f.stopLocked()
	f.state.Phase = PhaseResolved
	f.state.Outcome = model.OutcomeOK
	ev := f.state.Event
	cb := f.opts.OnCancel
	f.mu.Unlock()
	if f.logger != nil {
		f.logger.Info("confirmation cancelled by user", "device_id", ev.DeviceID)
	}
	if cb != nil {
		cb(ev)
	}
	return true
}

// NeedHelp escalates immediately.
func (f *Flow) NeedHelp() bool {
	return f.escalate(model.ReasonUser, 0)
}

// Dismiss returns the flow to idle. It is the caller hiding the prompt, and
// tears down a countdown that is still running without invoking callbacks.
func (f *Flow) Dismiss() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	f.state = State{Phase: PhaseIdle}
}

// Close releases timers and speech. The flow accepts no further events.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.stopLocked()
	f.state = State{Phase: PhaseIdle}
}

func (f *Flow) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) armLocked(gen uint64) {
	f.timer = f.clock.AfterFunc(time.Second, func() { f.tick(gen) })
}

func (f *Flow) tick(gen uint64) {
	f.mu.Lock()
	if gen != f.gen || f.state.Phase != PhaseAwaiting {
		f.mu.Unlock()
		return
	}
	f.state.Remaining--
	if f.state.Remaining <= 0 {
		f.mu.Unlock()
		f.escalate(model.ReasonTimeout, gen)
		return
	}
	remaining := f.state.Remaining
	f.armLocked(gen)
	cb := f.opts.OnTick
	f.mu.Unlock()
	if cb != nil {
		cb(remaining)
	}
}

// escalate resolves as Escalated. A non-zero gen restricts it to that
// countdown.
func (f *Flow) escalate(reason model.EscalationReason, gen uint64) bool {
	f.mu.Lock()
	if f.state.Phase != PhaseAwaiting || (gen != 0 && gen != f.gen) {
		f.mu.Unlock()
		return false
	}
	f.stopLocked()
	f.state.Phase = PhaseResolved
	f.state.Outcome = model.OutcomeEscalated
	f.state.Reason = reason
	f.state.Remaining = 0
	ev := f.state.Event
	cb := f.opts.OnEscalate
	f.mu.Unlock()
	if f.logger != nil {
		f.logger.Warn("fall escalated", "device_id", ev.DeviceID, "reason", reason)
	}
	if cb != nil {
		cb(ev, reason)
	}
	return true
}

// stopLocked is the single teardown path out of the awaiting phase.
func (f *Flow) stopLocked() {
	f.gen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.state.Phase == PhaseAwaiting {
		device.SafeStopSpeech(f.speaker, f.logger)
		device.SafeCancelVibration(f.vibrator, f.logger)
	}
}
