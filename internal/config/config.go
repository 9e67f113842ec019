package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	RoleElder     = "elder"
	RoleCaregiver = "caregiver"
	RoleBoth      = "both"
)

type Config struct {
	Role         string             `json:"role" yaml:"role" toml:"role"`
	LogLevel     string             `json:"log_level" yaml:"log_level" toml:"log_level"`
	Elder        ElderConfig        `json:"elder" yaml:"elder" toml:"elder"`
	Linked       []ElderConfig      `json:"linked" yaml:"linked" toml:"linked"`
	Ingest       IngestConfig       `json:"ingest" yaml:"ingest" toml:"ingest"`
	Detection    DetectionConfig    `json:"detection" yaml:"detection" toml:"detection"`
	Bridge       BridgeConfig       `json:"bridge" yaml:"bridge" toml:"bridge"`
	Confirmation ConfirmationConfig `json:"confirmation" yaml:"confirmation" toml:"confirmation"`
	Alarm        AlarmConfig        `json:"alarm" yaml:"alarm" toml:"alarm"`
	Escalation   EscalationConfig   `json:"escalation" yaml:"escalation" toml:"escalation"`
	Device       DeviceConfig       `json:"device" yaml:"device" toml:"device"`
	API          APIConfig          `json:"api" yaml:"api" toml:"api"`
	Storage      StorageConfig      `json:"storage" yaml:"storage" toml:"storage"`
	Redis        RedisConfig        `json:"redis" yaml:"redis" toml:"redis"`
	MQTT         MQTTConfig         `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics" toml:"metrics"`
	Incidents    IncidentsConfig    `json:"incidents" yaml:"incidents" toml:"incidents"`
}

type ElderConfig struct {
	ID               string   `json:"id" yaml:"id" toml:"id"`
	Name             string   `json:"name" yaml:"name" toml:"name"`
	EmergencyContact string   `json:"emergency_contact" yaml:"emergency_contact" toml:"emergency_contact"`
	Devices          []string `json:"devices" yaml:"devices" toml:"devices"`
	StrictDevices    bool     `json:"strict_devices" yaml:"strict_devices" toml:"strict_devices"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer" toml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest" toml:"rest"`
	UDP           UDPConfig       `json:"udp" yaml:"udp" toml:"udp"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream" toml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail" toml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka" toml:"kafka"`
	MQTT          MQTTIngest      `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	Synthetic     SyntheticConfig `json:"synthetic" yaml:"synthetic" toml:"synthetic"`
	Parser        ParserConfig    `json:"parser" yaml:"parser" toml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type TCPStreamConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	IdleTimeoutMs int64  `json:"idle_timeout_ms" yaml:"idle_timeout_ms" toml:"idle_timeout_ms"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end" toml:"start_at_end"`
	Files      []string `json:"files" yaml:"files" toml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" toml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic" toml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id" toml:"group_id"`
}

type MQTTIngest struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Topic   string `json:"topic" yaml:"topic" toml:"topic"`
	QoS     byte   `json:"qos" yaml:"qos" toml:"qos"`
}

type SyntheticConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	DeviceID        string `json:"device_id" yaml:"device_id" toml:"device_id"`
	IntervalMs      int    `json:"interval_ms" yaml:"interval_ms" toml:"interval_ms"`
	DemoFallEveryMs int    `json:"demo_fall_every_ms" yaml:"demo_fall_every_ms" toml:"demo_fall_every_ms"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone" toml:"timezone"`
	DefaultDeviceID string `json:"default_device_id" yaml:"default_device_id" toml:"default_device_id"`
	AccelUnit       string `json:"accel_unit" yaml:"accel_unit" toml:"accel_unit"`
	GyroUnit        string `json:"gyro_unit" yaml:"gyro_unit" toml:"gyro_unit"`
}

type DetectionConfig struct {
	EnabledOnStart   bool    `json:"enabled_on_start" yaml:"enabled_on_start" toml:"enabled_on_start"`
	SampleIntervalMs int     `json:"sample_interval_ms" yaml:"sample_interval_ms" toml:"sample_interval_ms"`
	RetentionMs      int64   `json:"retention_ms" yaml:"retention_ms" toml:"retention_ms"`
	EvalWindowMs     int64   `json:"eval_window_ms" yaml:"eval_window_ms" toml:"eval_window_ms"`
	MinEvalSamples   int     `json:"min_eval_samples" yaml:"min_eval_samples" toml:"min_eval_samples"`
	MinBufferSamples int     `json:"min_buffer_samples" yaml:"min_buffer_samples" toml:"min_buffer_samples"`
	SpikeG           float64 `json:"spike_g" yaml:"spike_g" toml:"spike_g"`
	LowG             float64 `json:"low_g" yaml:"low_g" toml:"low_g"`
	RotationRadS     float64 `json:"rotation_rad_s" yaml:"rotation_rad_s" toml:"rotation_rad_s"`
	JerkMS3          float64 `json:"jerk_m_s3" yaml:"jerk_m_s3" toml:"jerk_m_s3"`
	GraceMs          int64   `json:"grace_ms" yaml:"grace_ms" toml:"grace_ms"`
}

type BridgeConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Heuristic string  `json:"heuristic" yaml:"heuristic" toml:"heuristic"`
	SpikeG    float64 `json:"spike_g" yaml:"spike_g" toml:"spike_g"`
	GraceMs   int64   `json:"grace_ms" yaml:"grace_ms" toml:"grace_ms"`
	Relay     string  `json:"relay" yaml:"relay" toml:"relay"`
	Stream    string  `json:"stream" yaml:"stream" toml:"stream"`
	FlagStore string  `json:"flag_store" yaml:"flag_store" toml:"flag_store"`
	FlagPath  string  `json:"flag_path" yaml:"flag_path" toml:"flag_path"`
	FlagKey   string  `json:"flag_key" yaml:"flag_key" toml:"flag_key"`
	// Permissions models the platform grant for continuous sensor access.
	Permissions bool   `json:"permissions" yaml:"permissions" toml:"permissions"`
	Notice      string `json:"notice" yaml:"notice" toml:"notice"`
}

type ConfirmationConfig struct {
	CountdownSec     int    `json:"countdown_sec" yaml:"countdown_sec" toml:"countdown_sec"`
	Prompt           string `json:"prompt" yaml:"prompt" toml:"prompt"`
	VibrationPattern []int  `json:"vibration_pattern" yaml:"vibration_pattern" toml:"vibration_pattern"`
}

type AlarmConfig struct {
	IntervalMs       int   `json:"interval_ms" yaml:"interval_ms" toml:"interval_ms"`
	VibrationPattern []int `json:"vibration_pattern" yaml:"vibration_pattern" toml:"vibration_pattern"`
	DedupeWindowMs   int64 `json:"dedupe_window_ms" yaml:"dedupe_window_ms" toml:"dedupe_window_ms"`
}

type EscalationConfig struct {
	Transport string      `json:"transport" yaml:"transport" toml:"transport"`
	Topic     string      `json:"topic" yaml:"topic" toml:"topic"`
	Kafka     KafkaConfig `json:"kafka" yaml:"kafka" toml:"kafka"`
	// UpstreamURL is the elder daemon's websocket endpoint a caregiver
	// daemon dials when transport is websocket.
	UpstreamURL string `json:"upstream_url" yaml:"upstream_url" toml:"upstream_url"`
}

type DeviceConfig struct {
	SpeechCommand []string `json:"speech_command" yaml:"speech_command" toml:"speech_command"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Driver  string `json:"driver" yaml:"driver" toml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
}

type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker" toml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id" toml:"client_id"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
}

type IncidentsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		Role:     RoleBoth,
		LogLevel: "info",
		Elder: ElderConfig{
			ID:      "elder",
			Devices: []string{"phone"},
		},
		Ingest: IngestConfig{
			ChannelBuffer: 4096,
			REST:          RESTConfig{Enabled: true, Addr: ":8090"},
			UDP:           UDPConfig{Enabled: false, Addr: ":5600"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9600", IdleTimeoutMs: 30000},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTIngest{Enabled: false, Topic: "sensors/+/motion"},
			Synthetic:     SyntheticConfig{Enabled: false, DeviceID: "phone", IntervalMs: 50},
			Parser:        ParserConfig{Timezone: "UTC", DefaultDeviceID: "phone", AccelUnit: "m/s2", GyroUnit: "rad/s"},
		},
		Detection:    DefaultDetection(),
		Bridge:       BridgeConfig{Enabled: false, Heuristic: "spike", SpikeG: 2.5, GraceMs: 15000, Relay: "chan", Stream: "fallguard:bridge", FlagStore: "file", FlagPath: "fallguard-bridge.json", FlagKey: "bridge.enabled", Permissions: true, Notice: "Fall monitoring is active"},
		Confirmation: ConfirmationConfig{CountdownSec: 12, Prompt: "Are you okay? Tap I'm OK if you do not need help.", VibrationPattern: []int{0, 500, 300, 500}},
		Alarm:        AlarmConfig{IntervalMs: 2000, VibrationPattern: []int{0, 800, 400, 800}, DedupeWindowMs: 10 * 60 * 1000},
		Escalation:   EscalationConfig{Transport: "local", Topic: "fallguard/escalations"},
		API:          APIConfig{Enabled: true, Addr: ":8091"},
		Storage:      StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:fallguard.db?_pragma=busy_timeout(5000)"},
		Redis:        RedisConfig{Addr: "localhost:6379"},
		MQTT:         MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "fallguard"},
		Metrics:      MetricsConfig{StoreLimit: 256},
		Incidents:    IncidentsConfig{StoreLimit: 500},
	}
}

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		EnabledOnStart:   true,
		SampleIntervalMs: 50,
		RetentionMs:      2000,
		EvalWindowMs:     800,
		MinEvalSamples:   6,
		MinBufferSamples: 8,
		SpikeG:           2.2,
		LowG:             0.35,
		RotationRadS:     3.0,
		JerkMS3:          25,
		GraceMs:          15000,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content, strings.ToLower(filepath.Ext(path)))
}

// Parse decodes a config document. ext selects TOML when it is ".toml";
// otherwise JSON or YAML is detected from the content.
func Parse(content []byte, ext string) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	switch {
	case ext == ".toml":
		decodeErr = toml.Unmarshal([]byte(trimmed), cfg)
	case looksLikeJSON(trimmed):
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	default:
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		data, err = toml.Marshal(cfg)
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultDetection()
	if cfg.Role == "" {
		cfg.Role = RoleBoth
	}
	if cfg.Elder.ID == "" {
		cfg.Elder.ID = "elder"
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 4096
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultDeviceID == "" {
		cfg.Ingest.Parser.DefaultDeviceID = "phone"
	}
	if cfg.Detection.SampleIntervalMs <= 0 {
		cfg.Detection.SampleIntervalMs = def.SampleIntervalMs
	}
	if cfg.Ingest.Synthetic.IntervalMs <= 0 {
		cfg.Ingest.Synthetic.IntervalMs = cfg.Detection.SampleIntervalMs
	}
	if cfg.Detection.RetentionMs <= 0 {
		cfg.Detection.RetentionMs = def.RetentionMs
	}
	if cfg.Detection.EvalWindowMs <= 0 {
		cfg.Detection.EvalWindowMs = def.EvalWindowMs
	}
	if cfg.Detection.MinEvalSamples <= 0 {
		cfg.Detection.MinEvalSamples = def.MinEvalSamples
	}
	if cfg.Detection.MinBufferSamples <= 0 {
		cfg.Detection.MinBufferSamples = def.MinBufferSamples
	}
	if cfg.Detection.GraceMs < 0 {
		cfg.Detection.GraceMs = def.GraceMs
	}
	if cfg.Bridge.Heuristic == "" {
		cfg.Bridge.Heuristic = "spike"
	}
	if cfg.Bridge.Relay == "" {
		cfg.Bridge.Relay = "chan"
	}
	if cfg.Bridge.FlagStore == "" {
		cfg.Bridge.FlagStore = "file"
	}
	if cfg.Bridge.FlagStore == "file" && cfg.Bridge.FlagPath == "" {
		cfg.Bridge.FlagPath = "fallguard-bridge.json"
	}
	if cfg.Bridge.FlagKey == "" {
		cfg.Bridge.FlagKey = "bridge.enabled"
	}
	if cfg.Confirmation.CountdownSec <= 0 {
		cfg.Confirmation.CountdownSec = 12
	}
	if cfg.Alarm.IntervalMs <= 0 {
		cfg.Alarm.IntervalMs = 2000
	}
	if cfg.Escalation.Transport == "" {
		cfg.Escalation.Transport = "local"
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 256
	}
	if cfg.Incidents.StoreLimit <= 0 {
		cfg.Incidents.StoreLimit = 500
	}
}

func Validate(cfg *Config) error {
	switch cfg.Role {
	case RoleElder, RoleCaregiver, RoleBoth:
	default:
		return fmt.Errorf("role must be elder, caregiver or both: %q", cfg.Role)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled && (cfg.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "") {
		return errors.New("ingest.mqtt requires mqtt.broker and ingest.mqtt.topic")
	}
	d := cfg.Detection
	if d.SpikeG <= 0 || d.LowG <= 0 || d.RotationRadS <= 0 || d.JerkMS3 <= 0 {
		return errors.New("detection thresholds must be > 0")
	}
	if d.LowG >= d.SpikeG {
		return errors.New("detection.low_g must be below detection.spike_g")
	}
	if d.EvalWindowMs > d.RetentionMs {
		return errors.New("detection.eval_window_ms must not exceed detection.retention_ms")
	}
	switch cfg.Bridge.Heuristic {
	case "spike", "full":
	default:
		return fmt.Errorf("bridge.heuristic must be spike or full: %q", cfg.Bridge.Heuristic)
	}
	if cfg.Bridge.Heuristic == "spike" && cfg.Bridge.SpikeG <= 0 {
		return errors.New("bridge.spike_g must be > 0")
	}
	switch cfg.Bridge.Relay {
	case "chan", "redis":
	default:
		return fmt.Errorf("unsupported bridge.relay: %q", cfg.Bridge.Relay)
	}
	switch cfg.Bridge.FlagStore {
	case "file":
		if cfg.Bridge.FlagPath == "" {
			return errors.New("bridge.flag_path required for file flag store")
		}
	case "storage":
		if !cfg.Storage.Enabled {
			return errors.New("bridge.flag_store storage requires storage.enabled")
		}
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported bridge.flag_store: %q", cfg.Bridge.FlagStore)
	}
	switch cfg.Escalation.Transport {
	case "local", "websocket", "redis":
	case "mqtt":
		if cfg.MQTT.Broker == "" {
			return errors.New("escalation transport mqtt requires mqtt.broker")
		}
	case "kafka":
		if len(cfg.Escalation.Kafka.Brokers) == 0 || cfg.Escalation.Kafka.Topic == "" {
			return errors.New("escalation.kafka requires brokers and topic")
		}
	default:
		return fmt.Errorf("unsupported escalation.transport: %q", cfg.Escalation.Transport)
	}
	return nil
}

// CountdownDuration returns the confirmation countdown as a duration.
func (c ConfirmationConfig) CountdownDuration() time.Duration {
	return time.Duration(c.CountdownSec) * time.Second
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
