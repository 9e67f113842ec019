package device_test

import (
	"testing"

	"fallguard/internal/device"
	"fallguard/internal/device/devicetest"
)

func TestSafeHelpersSwallowErrors(t *testing.T) {
	rec := &devicetest.Recorder{Fail: true}
	device.SafeSpeak(rec, "hello", nil)
	device.SafeVibrate(rec, []int{0, 100}, nil)
	device.SafeDial(rec, "+1555", nil)
	device.SafeStopSpeech(rec, nil)
	device.SafeCancelVibration(rec, nil)
	if rec.SpeakCount() != 1 || rec.VibrateCount() != 1 || len(rec.DialedNumbers()) != 1 {
		t.Fatalf("expected calls recorded despite errors")
	}
}

func TestSafeHelpersRecoverPanics(t *testing.T) {
	rec := &devicetest.Recorder{Panic: true}
	device.SafeSpeak(rec, "hello", nil)
	device.SafeShow(rec, "monitoring", nil)
	device.SafeHide(rec, nil)
	if rec.SpeakCount() != 1 {
		t.Fatalf("expected speak attempted")
	}
}

func TestSafeHelpersAcceptNil(t *testing.T) {
	device.SafeSpeak(nil, "hello", nil)
	device.SafeVibrate(nil, nil, nil)
	device.SafeDial(nil, "", nil)
	device.SafeShow(nil, "", nil)
}

func TestLogDeviceWithoutLogger(t *testing.T) {
	l := device.NewLog(nil)
	if err := l.Speak("hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Dial("+1555"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecSpeakerRejectsEmptyCommand(t *testing.T) {
	if _, err := device.NewExecSpeaker(nil); err == nil {
		t.Fatalf("expected error for empty command")
	}
	if _, err := device.NewExecSpeaker([]string{"definitely-not-a-tts-binary"}); err == nil {
		t.Fatalf("expected lookup error")
	}
}
