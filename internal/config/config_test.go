package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseYAML(t *testing.T) {
	content := `
role: elder
elder:
  id: grandma
  name: Rosa
  emergency_contact: "+1 555 0100"
  devices: [phone, watch]
detection:
  spike_g: 2.5
confirmation:
  countdown_sec: 20
`
	cfg, err := Parse([]byte(content), ".yaml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Role != RoleElder || cfg.Elder.ID != "grandma" || len(cfg.Elder.Devices) != 2 {
		t.Fatalf("unexpected elder section: %+v", cfg.Elder)
	}
	if cfg.Detection.SpikeG != 2.5 {
		t.Fatalf("spike_g: %v", cfg.Detection.SpikeG)
	}
	// untouched keys keep their defaults
	if cfg.Detection.LowG != 0.35 || cfg.Detection.RetentionMs != 2000 {
		t.Fatalf("defaults lost: %+v", cfg.Detection)
	}
	if cfg.Confirmation.CountdownDuration() != 20*time.Second {
		t.Fatalf("countdown: %v", cfg.Confirmation.CountdownDuration())
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"role":"caregiver","escalation":{"transport":"redis"}}`), ".conf")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Role != RoleCaregiver || cfg.Escalation.Transport != "redis" {
		t.Fatalf("unexpected config: role=%s transport=%s", cfg.Role, cfg.Escalation.Transport)
	}
}

func TestParseTOML(t *testing.T) {
	content := `
role = "both"

[bridge]
heuristic = "full"
flag_store = "memory"

[alarm]
interval_ms = 1500
`
	cfg, err := Parse([]byte(content), ".toml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Bridge.Heuristic != "full" || cfg.Bridge.FlagStore != "memory" {
		t.Fatalf("bridge: %+v", cfg.Bridge)
	}
	if cfg.Alarm.IntervalMs != 1500 {
		t.Fatalf("alarm interval: %d", cfg.Alarm.IntervalMs)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse([]byte("  \n"), ".yaml"); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"role":            func(c *Config) { c.Role = "nurse" },
		"low above spike": func(c *Config) { c.Detection.LowG = 3 },
		"eval window":     func(c *Config) { c.Detection.EvalWindowMs = 5000 },
		"heuristic":       func(c *Config) { c.Bridge.Heuristic = "magic" },
		"relay":           func(c *Config) { c.Bridge.Relay = "carrier-pigeon" },
		"flag storage":    func(c *Config) { c.Bridge.FlagStore = "storage" },
		"transport":       func(c *Config) { c.Escalation.Transport = "sms" },
		"kafka":           func(c *Config) { c.Escalation.Transport = "kafka" },
		"file tail":       func(c *Config) { c.Ingest.FileTail.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fallguard.yaml")
	if err := os.WriteFile(path, []byte("role: elder\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Role != RoleElder {
		t.Fatalf("role: %s", m.Get().Role)
	}

	cfg := m.Get()
	cfg.Role = RoleCaregiver
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("needs reload: %v %v", needs, err)
	}
	reloaded, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Role != RoleCaregiver || m.Get().Role != RoleCaregiver {
		t.Fatalf("reload did not swap config")
	}
}

func TestSaveJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallguard.json")
	cfg := DefaultConfig()
	cfg.Elder.Name = "Rosa"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Fatalf("expected json output")
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Elder.Name != "Rosa" {
		t.Fatalf("name: %q", loaded.Elder.Name)
	}
}
