package profile

import (
	"testing"

	"fallguard/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Elder = config.ElderConfig{
		ID:               "grandma",
		Name:             "Grandma Rose",
		EmergencyContact: "+1 (555) 010-2000",
		Devices:          []string{"Phone", " watch "},
	}
	cfg.Linked = []config.ElderConfig{{ID: "grandpa", Devices: []string{"tablet"}}}
	return cfg
}

func TestDirectoryLookups(t *testing.T) {
	d := New(testConfig())
	if got := d.DisplayName("grandma"); got != "Grandma Rose" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := d.DisplayName("grandpa"); got != "" {
		t.Fatalf("expected empty name, got %q", got)
	}
	num, err := d.EmergencyContact("grandma")
	if err != nil || num != "+15550102000" {
		t.Fatalf("unexpected contact %q %v", num, err)
	}
	if _, err := d.EmergencyContact("grandpa"); err == nil {
		t.Fatalf("expected missing contact error")
	}
	if _, err := d.Lookup("nobody"); err != ErrUnknownElder {
		t.Fatalf("expected ErrUnknownElder, got %v", err)
	}
}

func TestDirectoryDevices(t *testing.T) {
	d := New(testConfig())
	if got := d.ElderForDevice("WATCH"); got != "grandma" {
		t.Fatalf("expected watch mapped to grandma, got %q", got)
	}
	if got := d.ElderForDevice("tablet"); got != "grandpa" {
		t.Fatalf("expected tablet mapped to grandpa, got %q", got)
	}
	if got := d.ElderForDevice("unknown"); got != "grandma" {
		t.Fatalf("expected fallback to self, got %q", got)
	}
	if !d.Linked("unknown") {
		t.Fatalf("expected permissive linking by default")
	}
	d.StrictDevices = true
	if d.Linked("unknown") || !d.Linked("phone") {
		t.Fatalf("strict device check failed")
	}
}
