package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fallguard/internal/alarm"
	"fallguard/internal/bridge"
	"fallguard/internal/clock/clocktest"
	"fallguard/internal/config"
	"fallguard/internal/confirm"
	"fallguard/internal/device/devicetest"
	"fallguard/internal/engine"
	"fallguard/internal/incidents"
	"fallguard/internal/metrics"
	"fallguard/internal/model"
	"fallguard/internal/motion"
)

type fixture struct {
	srv       *httptest.Server
	engine    *engine.Engine
	flags     *bridge.MemoryFlagStore
	confirm   *confirm.Flow
	alarm     *alarm.Flow
	incidents *incidents.Store
	metrics   *metrics.Store
}

func newFixture(t *testing.T, perms bool) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	clk := clocktest.NewFake(time.Unix(0, 0))
	rec := &devicetest.Recorder{}
	f := &fixture{
		flags:     &bridge.MemoryFlagStore{},
		incidents: incidents.NewStore(10),
		metrics:   metrics.NewStore(10),
	}
	f.engine = engine.NewEngine(cfg, nil, f.metrics, nil, motion.NewFeed())
	f.confirm = confirm.New(confirm.Options{Countdown: 12}, clk, rec, rec, nil)
	f.alarm = alarm.New(alarm.Options{}, clk, rec, rec, rec, nil)
	b := bridge.New(bridge.Options{
		Relay:       bridge.NewChanRelay(4),
		Flags:       f.flags,
		Permissions: bridge.StaticPermissions(perms),
		Indicator:   rec,
	})
	server := NewServer(Options{
		Config:       config.NewStaticManager(cfg),
		Metrics:      f.metrics,
		Incidents:    f.incidents,
		Detection:    f.engine,
		Bridge:       b,
		Confirmation: f.confirm,
		Alarm:        f.alarm,
		Version:      "test",
	})
	f.srv = httptest.NewServer(server.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func call(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)
	status, body := call(t, http.MethodGet, f.srv.URL+"/status", "")
	if status != http.StatusOK {
		t.Fatalf("status: %d", status)
	}
	if body["version"] != "test" || body["role"] != config.RoleBoth {
		t.Fatalf("unexpected status body: %v", body)
	}
	det, _ := body["detection"].(map[string]any)
	if det["available"] != true || det["enabled"] != false {
		t.Fatalf("detection status: %v", det)
	}
}

func TestDetectionToggle(t *testing.T) {
	f := newFixture(t, true)
	status, body := call(t, http.MethodPost, f.srv.URL+"/detection/enable", "")
	if status != http.StatusOK || body["enabled"] != true || !f.engine.Enabled() {
		t.Fatalf("enable: %d %v", status, body)
	}
	status, body = call(t, http.MethodPost, f.srv.URL+"/detection/disable", "")
	if status != http.StatusOK || body["enabled"] != false || f.engine.Enabled() {
		t.Fatalf("disable: %d %v", status, body)
	}
	if status, _ := call(t, http.MethodGet, f.srv.URL+"/detection/enable", ""); status != http.StatusMethodNotAllowed {
		t.Fatalf("get enable: %d", status)
	}
}

func TestBridgeStartStop(t *testing.T) {
	f := newFixture(t, true)
	status, body := call(t, http.MethodPost, f.srv.URL+"/bridge/start", `{"persist_across_reboot":true}`)
	if status != http.StatusOK || body["active"] != true {
		t.Fatalf("start: %d %v", status, body)
	}
	if on, _ := f.flags.Load(context.Background()); !on {
		t.Fatalf("flag not persisted")
	}
	status, body = call(t, http.MethodPost, f.srv.URL+"/bridge/stop", "")
	if status != http.StatusOK || body["active"] != false {
		t.Fatalf("stop: %d %v", status, body)
	}
	if on, _ := f.flags.Load(context.Background()); on {
		t.Fatalf("flag not cleared")
	}
}

func TestBridgeStartDenied(t *testing.T) {
	f := newFixture(t, false)
	status, body := call(t, http.MethodPost, f.srv.URL+"/bridge/start", "")
	if status != http.StatusOK {
		t.Fatalf("start: %d", status)
	}
	if body["active"] != false || body["reason"] != "permission_denied" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestConfirmationActions(t *testing.T) {
	f := newFixture(t, true)
	status, body := call(t, http.MethodGet, f.srv.URL+"/confirmation", "")
	if status != http.StatusOK || body["phase"] != string(confirm.PhaseIdle) {
		t.Fatalf("idle snapshot: %d %v", status, body)
	}
	f.confirm.Present(model.FallEvent{DetectedAt: 300, DeviceID: "phone"})
	status, body = call(t, http.MethodPost, f.srv.URL+"/confirmation/ok", "")
	if status != http.StatusOK || body["applied"] != true {
		t.Fatalf("ok: %d %v", status, body)
	}
	status, _ = call(t, http.MethodPost, f.srv.URL+"/confirmation/help", "")
	if status != http.StatusConflict {
		t.Fatalf("help after resolve: %d", status)
	}
}

func TestAlarmActions(t *testing.T) {
	f := newFixture(t, true)
	f.alarm.Ring(model.Escalation{ID: "e1", ElderID: "elder", EmergencyContact: "+15550100"})
	status, body := call(t, http.MethodGet, f.srv.URL+"/alarm", "")
	if status != http.StatusOK || body["phase"] != string(alarm.PhaseRinging) {
		t.Fatalf("ringing snapshot: %d %v", status, body)
	}
	status, body = call(t, http.MethodPost, f.srv.URL+"/alarm/call", "")
	if status != http.StatusOK || body["applied"] != true {
		t.Fatalf("call: %d %v", status, body)
	}
	status, _ = call(t, http.MethodPost, f.srv.URL+"/alarm/acknowledge", "")
	if status != http.StatusConflict {
		t.Fatalf("acknowledge after call: %d", status)
	}
}

func TestIncidentsAndClear(t *testing.T) {
	f := newFixture(t, true)
	f.incidents.Add(model.Incident{ID: "a", DetectedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	f.incidents.Add(model.Incident{ID: "b", DetectedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})

	status, body := call(t, http.MethodGet, f.srv.URL+"/incidents?limit=1", "")
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("limit: %d %v", status, body)
	}
	status, body = call(t, http.MethodGet, f.srv.URL+"/incidents?since=2026-01-01T12:00:00Z", "")
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("since: %d %v", status, body)
	}
	if status, _ := call(t, http.MethodGet, f.srv.URL+"/incidents?since=yesterday", ""); status != http.StatusBadRequest {
		t.Fatalf("bad since: %d", status)
	}
	if status, _ := call(t, http.MethodPost, f.srv.URL+"/admin/clear", `{"target":"incidents"}`); status != http.StatusOK {
		t.Fatalf("clear: %d", status)
	}
	if got := f.incidents.List(0); len(got) != 0 {
		t.Fatalf("incidents not cleared: %v", got)
	}
	if status, _ := call(t, http.MethodPost, f.srv.URL+"/admin/clear", `{"target":"everything"}`); status != http.StatusBadRequest {
		t.Fatalf("bad target: %d", status)
	}
}

func TestMetricsByDevice(t *testing.T) {
	f := newFixture(t, true)
	f.metrics.Update(model.WindowStats{DeviceID: "watch", Samples: 8})
	status, body := call(t, http.MethodGet, f.srv.URL+"/metrics/watch", "")
	if status != http.StatusOK || body["device_id"] != "watch" {
		t.Fatalf("metrics: %d %v", status, body)
	}
	if status, _ := call(t, http.MethodGet, f.srv.URL+"/metrics/nope", ""); status != http.StatusNotFound {
		t.Fatalf("unknown device: %d", status)
	}
}

func TestMissingComponents(t *testing.T) {
	server := NewServer(Options{Config: config.NewStaticManager(nil)})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()
	for _, path := range []string{"/confirmation", "/alarm", "/incidents"} {
		if status, _ := call(t, http.MethodGet, srv.URL+path, ""); status != http.StatusNotFound {
			t.Fatalf("%s: %d", path, status)
		}
	}
	if status, _ := call(t, http.MethodPost, srv.URL+"/bridge/start", ""); status != http.StatusNotFound {
		t.Fatalf("bridge: %d", status)
	}
}
