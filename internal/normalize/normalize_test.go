package normalize

import (
	"errors"
	"math"
	"testing"
	"time"

	"fallguard/internal/config"
	"fallguard/internal/model"
)

func TestNormalizeConvertsUnits(t *testing.T) {
	cfg := config.DefaultConfig()
	r, err := Normalize(SampleFields{Timestamp: "1500", Ax: "0", Ay: "0", Az: "2", Rz: "90", Unit: "g", GyroUnit: "dps"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if math.Abs(r.Az-2*model.StandardGravity) > 1e-9 {
		t.Fatalf("az: %v", r.Az)
	}
	if math.Abs(r.Rz-math.Pi/2) > 1e-9 {
		t.Fatalf("rz: %v", r.Rz)
	}
	if r.Timestamp != 1500 {
		t.Fatalf("timestamp: %d", r.Timestamp)
	}
}

func TestNormalizeDefaultsDevice(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.DefaultDeviceID = "kitchen-phone"
	r, err := Normalize(SampleFields{Timestamp: "1", Acc: "9.8", Rot: "0.2"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.DeviceID != "kitchen-phone" {
		t.Fatalf("device: %q", r.DeviceID)
	}
	if r.Az != 9.8 || r.Rx != 0.2 {
		t.Fatalf("magnitudes not carried: %+v", r)
	}
}

func TestNormalizeRequiresAcceleration(t *testing.T) {
	_, err := Normalize(SampleFields{Timestamp: "1", Rx: "1"}, config.DefaultConfig())
	if !errors.Is(err, ErrNoAcceleration) {
		t.Fatalf("expected ErrNoAcceleration, got %v", err)
	}
}

func TestNormalizeRejectsBadNumbers(t *testing.T) {
	if _, err := Normalize(SampleFields{Timestamp: "1", Ax: "fast"}, config.DefaultConfig()); err == nil {
		t.Fatalf("expected error for non-numeric axis")
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]int64{
		"1700000000123":        1700000000123,
		"1.5":                  1500,
		"2026-02-23T12:34:56Z": time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC).UnixMilli(),
		"2026-02-23 12:34:56":  time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC).UnixMilli(),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %d want %d", in, got, want)
		}
	}
	if _, err := ParseTimestamp("yesterday", time.UTC); err == nil {
		t.Fatalf("expected error")
	}
}
