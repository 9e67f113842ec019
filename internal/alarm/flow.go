// Package alarm rings the caregiver's device after an escalation. The alarm
// repeats until someone acknowledges it or calls the elder's emergency
// contact; it never resolves on its own.
package alarm

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"fallguard/internal/clock"
	"fallguard/internal/device"
	"fallguard/internal/model"
)

const DefaultInterval = 2000 * time.Millisecond

var ErrNoContact = errors.New("no emergency contact")

type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseRinging       Phase = "ringing"
	PhaseAcknowledged  Phase = "acknowledged"
	PhaseCallInitiated Phase = "call_initiated"
)

type State struct {
	Phase      Phase            `json:"phase"`
	Escalation model.Escalation `json:"escalation"`
	Rings      int              `json:"rings"`
}

type Options struct {
	Interval         time.Duration
	VibrationPattern []int
	OnAcknowledge    func(esc model.Escalation)
	// OnCall receives ErrNoContact when the escalation carries no number.
	OnCall func(esc model.Escalation, err error)
}

type Flow struct {
	opts     Options
	clock    clock.Clock
	speaker  device.Speaker
	vibrator device.Vibrator
	dialer   device.Dialer
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	timer  clock.Timer
	gen    uint64
	closed bool
}

func New(opts Options, clk clock.Clock, speaker device.Speaker, vibrator device.Vibrator, dialer device.Dialer, logger *slog.Logger) *Flow {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Flow{
		opts:     opts,
		clock:    clk,
		speaker:  speaker,
		vibrator: vibrator,
		dialer:   dialer,
		logger:   logger,
		state:    State{Phase: PhaseIdle},
	}
}

// Phrase is what the alarm says for esc.
func Phrase(esc model.Escalation) string {
	if esc.ElderName != "" {
		return "Fall alert. " + esc.ElderName + " may have fallen and needs help."
	}
	return "Fall alert. Your family member may have fallen and needs help."
}

// Ring starts the alarm loop. An alarm that is already ringing is left
// alone and Ring returns false.
func (f *Flow) Ring(esc model.Escalation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.state.Phase == PhaseRinging {
		return false
	}
	f.state = State{Phase: PhaseRinging, Escalation: esc}
	f.gen++
	f.ringLocked(f.gen)
	if f.logger != nil {
		f.logger.Warn("caregiver alarm ringing", "escalation_id", esc.ID, "elder_id", esc.ElderID)
	}
	return true
}

func (f *Flow) Acknowledge() bool {
	f.mu.Lock()
	if f.state.Phase != PhaseRinging {
		f.mu.Unlock()
		return false
	}
	f.stopLocked()
	f.state.Phase = PhaseAcknowledged
	esc := f.state.Escalation
	cb := f.opts.OnAcknowledge
	f.mu.Unlock()
	if f.logger != nil {
		f.logger.Info("caregiver alarm acknowledged", "escalation_id", esc.ID)
	}
	if cb != nil {
		cb(esc)
	}
	return true
}

// Call stops the alarm and dials the elder's emergency contact.
func (f *Flow) Call() bool {
	f.mu.Lock()
	if f.state.Phase != PhaseRinging {
		f.mu.Unlock()
		return false
	}
	f.stopLocked()
	f.state.Phase = PhaseCallInitiated
	esc := f.state.Escalation
	cb := f.opts.OnCall
	f.mu.Unlock()
	var err error
	if esc.EmergencyContact == "" {
		err = ErrNoContact
		if f.logger != nil {
			f.logger.Warn("no emergency contact to dial", "escalation_id", esc.ID, "elder_id", esc.ElderID)
		}
	} else {
		device.SafeDial(f.dialer, esc.EmergencyContact, f.logger)
		if f.logger != nil {
			f.logger.Info("calling emergency contact", "escalation_id", esc.ID)
		}
	}
	if cb != nil {
		cb(esc, err)
	}
	return true
}

// Dismiss hides the alert and returns to idle, silencing it if needed.
func (f *Flow) Dismiss() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	f.state = State{Phase: PhaseIdle}
}

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

func (f *Flow) ringLocked(gen uint64) {
	f.state.Rings++
	device.SafeSpeak(f.speaker, Phrase(f.state.Escalation), f.logger)
	device.SafeVibrate(f.vibrator, f.opts.VibrationPattern, f.logger)
	f.timer = f.clock.AfterFunc(f.opts.Interval, func() { f.loop(gen) })
}

func (f *Flow) loop(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || f.state.Phase != PhaseRinging {
		return
	}
	f.ringLocked(gen)
}

// stopLocked is the single teardown path out of the ringing phase.
func (f *Flow) stopLocked() {
	f.gen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.state.Phase == PhaseRinging {
		device.SafeStopSpeech(f.speaker, f.logger)
		device.SafeCancelVibration(f.vibrator, f.logger)
	}
}
