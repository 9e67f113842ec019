// Package device abstracts the handset capabilities the fall pipeline drives.
// Every call is best effort: callers go through the Safe helpers, which
// swallow errors and panics so a failing speaker never breaks a state
// transition.
package device

import (
	"fmt"
	"log/slog"
)

type Speaker interface {
	Speak(text string) error
	Stop() error
}

type Vibrator interface {
	// Vibrate plays pattern, alternating wait and vibrate durations in ms.
	Vibrate(pattern []int) error
	Cancel() error
}

type Dialer interface {
	Dial(number string) error
}

// Indicator is the persistent notice shown while background monitoring is
// active.
type Indicator interface {
	Show(text string) error
	Hide() error
}

func SafeSpeak(s Speaker, text string, logger *slog.Logger) {
	if s == nil {
		return
	}
	guard(logger, "speak", func() error { return s.Speak(text) })
}

func SafeStopSpeech(s Speaker, logger *slog.Logger) {
	if s == nil {
		return
	}
	guard(logger, "stop speech", s.Stop)
}

func SafeVibrate(v Vibrator, pattern []int, logger *slog.Logger) {
	if v == nil {
		return
	}
	guard(logger, "vibrate", func() error { return v.Vibrate(pattern) })
}

func SafeCancelVibration(v Vibrator, logger *slog.Logger) {
	if v == nil {
		return
	}
	guard(logger, "cancel vibration", v.Cancel)
}

func SafeDial(d Dialer, number string, logger *slog.Logger) {
	if d == nil {
		return
	}
	guard(logger, "dial", func() error { return d.Dial(number) })
}

func SafeShow(i Indicator, text string, logger *slog.Logger) {
	if i == nil {
		return
	}
	guard(logger, "show indicator", func() error { return i.Show(text) })
}

func SafeHide(i Indicator, logger *slog.Logger) {
	if i == nil {
		return
	}
	guard(logger, "hide indicator", i.Hide)
}

func guard(logger *slog.Logger, op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Warn("device call panicked", "op", op, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil && logger != nil {
		logger.Debug("device call failed", "op", op, "error", err)
	}
}
