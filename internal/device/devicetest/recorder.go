// Package devicetest records device side effects for assertions.
package devicetest

import (
	"errors"
	"sync"
)

// Recorder implements every device capability and counts calls. Set Fail to
// make every call return an error, or Panic to make it panic.
type Recorder struct {
	mu         sync.Mutex
	Fail       bool
	Panic      bool
	Spoken     []string
	SpeechStop int
	Vibrations int
	Cancels    int
	Dialed     []string
	Shown      []string
	Hidden     int
}

var errDevice = errors.New("device failure")

func (r *Recorder) record(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	if r.Panic {
		panic("device exploded")
	}
	if r.Fail {
		return errDevice
	}
	return nil
}

func (r *Recorder) Speak(text string) error {
	return r.record(func() { r.Spoken = append(r.Spoken, text) })
}

func (r *Recorder) Stop() error {
	return r.record(func() { r.SpeechStop++ })
}

func (r *Recorder) Vibrate([]int) error {
	return r.record(func() { r.Vibrations++ })
}

func (r *Recorder) Cancel() error {
	return r.record(func() { r.Cancels++ })
}

func (r *Recorder) Dial(number string) error {
	return r.record(func() { r.Dialed = append(r.Dialed, number) })
}

func (r *Recorder) Show(text string) error {
	return r.record(func() { r.Shown = append(r.Shown, text) })
}

func (r *Recorder) Hide() error {
	return r.record(func() { r.Hidden++ })
}

func (r *Recorder) SpeakCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Spoken)
}

func (r *Recorder) VibrateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Vibrations
}

func (r *Recorder) DialedNumbers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Dialed...)
}
