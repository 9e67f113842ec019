package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fallguard/internal/alarm"
	"fallguard/internal/bridge"
	"fallguard/internal/config"
	"fallguard/internal/confirm"
	"fallguard/internal/incidents"
	"fallguard/internal/metrics"
	"fallguard/internal/model"
)

type DetectionControl interface {
	Enable()
	Disable()
	Enabled() bool
	Devices() []string
	Reset()
}

type BridgeControl interface {
	Start(ctx context.Context, persistAcrossReboot bool) error
	Stop(ctx context.Context) error
	Active() bool
}

type ConfirmationControl interface {
	Snapshot() confirm.State
	ConfirmOK() bool
	NeedHelp() bool
}

type AlarmControl interface {
	Snapshot() alarm.State
	Acknowledge() bool
	Call() bool
}

// Options wires the server. Any control may be nil when the daemon's role
// does not run that component; its endpoints then answer 404.
type Options struct {
	Config       *config.Manager
	Metrics      *metrics.Store
	Incidents    *incidents.Store
	Detection    DetectionControl
	Bridge       BridgeControl
	Confirmation ConfirmationControl
	Alarm        AlarmControl
	// Hub is mounted at /ws when set.
	Hub     http.Handler
	Logger  *slog.Logger
	Version string
}

type Server struct {
	opts Options
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Role       string          `json:"role"`
	ElderID    string          `json:"elder_id"`
	Ingest     ingestStatus    `json:"ingest"`
	API        apiStatus       `json:"api"`
	Detection  detectionStatus `json:"detection"`
	Bridge     bridgeStatus    `json:"bridge"`
	Escalation string          `json:"escalation_transport"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	UDP       bool `json:"udp"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
	Synthetic bool `json:"synthetic"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	Available bool     `json:"available"`
	Enabled   bool     `json:"enabled"`
	Devices   []string `json:"devices"`
}

type bridgeStatus struct {
	Available bool   `json:"available"`
	Active    bool   `json:"active"`
	Heuristic string `json:"heuristic"`
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/", s.handleMetrics)
	mux.HandleFunc("/incidents", s.handleIncidents)
	mux.HandleFunc("/detection/", s.handleDetection)
	mux.HandleFunc("/bridge/", s.handleBridge)
	mux.HandleFunc("/confirmation", s.handleConfirmation)
	mux.HandleFunc("/confirmation/", s.handleConfirmation)
	mux.HandleFunc("/alarm", s.handleAlarm)
	mux.HandleFunc("/alarm/", s.handleAlarm)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	if s.opts.Hub != nil {
		mux.Handle("/ws", s.opts.Hub)
	}
	return mux
}

func Start(ctx context.Context, opts Options) *http.Server {
	if opts.Config == nil {
		return nil
	}
	logger := opts.Logger
	current := opts.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(opts)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.opts.Config.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.opts.Version,
		ConfigPath: s.opts.Config.Path(),
		Role:       cfg.Role,
		ElderID:    cfg.Elder.ID,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			UDP:       cfg.Ingest.UDP.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			Synthetic: cfg.Ingest.Synthetic.Enabled,
		},
		API:        apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Detection:  detectionStatus{Devices: []string{}},
		Bridge:     bridgeStatus{Heuristic: cfg.Bridge.Heuristic},
		Escalation: cfg.Escalation.Transport,
	}
	if d := s.opts.Detection; d != nil {
		resp.Detection = detectionStatus{Available: true, Enabled: d.Enabled(), Devices: d.Devices()}
	}
	if b := s.opts.Bridge; b != nil {
		resp.Bridge.Available = true
		resp.Bridge.Active = b.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/metrics")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		stats, updated, ok := s.opts.Metrics.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"device_id":  path,
			"updated_at": updated.Format(time.RFC3339Nano),
			"metrics":    stats,
		})
		return
	}
	all := s.opts.Metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
	})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Incidents == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Incident
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.opts.Incidents.Since(ts)
	} else {
		list = s.opts.Incidents.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": list,
		"count":     len(list),
	})
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	d := s.opts.Detection
	if d == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/detection/") {
	case "enable":
		d.Enable()
	case "disable":
		d.Disable()
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": d.Enabled()})
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b := s.opts.Bridge
	if b == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/bridge/") {
	case "start":
		var req struct {
			PersistAcrossReboot bool `json:"persist_across_reboot"`
		}
		body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		resp := map[string]any{}
		// Start failures are soft: monitoring simply is not running.
		if err := b.Start(r.Context(), req.PersistAcrossReboot); err != nil {
			resp["reason"] = startFailure(err)
		}
		resp["active"] = b.Active()
		writeJSON(w, http.StatusOK, resp)
	case "stop":
		resp := map[string]any{}
		if err := b.Stop(r.Context()); err != nil {
			resp["error"] = err.Error()
		}
		resp["active"] = b.Active()
		writeJSON(w, http.StatusOK, resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func startFailure(err error) string {
	switch {
	case errors.Is(err, bridge.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, bridge.ErrRelayUnavailable):
		return "relay_unavailable"
	default:
		return err.Error()
	}
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	c := s.opts.Confirmation
	if c == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/confirmation"), "/")
	if action == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, c.Snapshot())
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var ok bool
	switch action {
	case "ok":
		ok = c.ConfirmOK()
	case "help":
		ok = c.NeedHelp()
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	transition(w, ok, c.Snapshot())
}

func (s *Server) handleAlarm(w http.ResponseWriter, r *http.Request) {
	a := s.opts.Alarm
	if a == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/alarm"), "/")
	if action == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, a.Snapshot())
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var ok bool
	switch action {
	case "acknowledge":
		ok = a.Acknowledge()
	case "call":
		ok = a.Call()
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	transition(w, ok, a.Snapshot())
}

// transition answers 409 when the action did not apply in the current state.
func transition(w http.ResponseWriter, ok bool, state any) {
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"applied": ok, "state": state})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.clearMetrics()
		s.clearIncidents()
	case "incidents":
		s.clearIncidents()
	case "metrics":
		s.clearMetrics()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Detection != nil {
		s.opts.Detection.Reset()
	}
	s.clearMetrics()
	s.clearIncidents()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) clearMetrics() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.Clear()
	}
}

func (s *Server) clearIncidents() {
	if s.opts.Incidents != nil {
		s.opts.Incidents.Clear()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
