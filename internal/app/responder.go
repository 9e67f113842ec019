package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fallguard/internal/alarm"
	"fallguard/internal/clock"
	"fallguard/internal/config"
	"fallguard/internal/device"
	"fallguard/internal/escalate"
	"fallguard/internal/incidents"
	"fallguard/internal/model"
	"fallguard/internal/storage"
)

type ResponderOptions struct {
	Config    *config.Config
	Clock     clock.Clock
	Speaker   device.Speaker
	Vibrator  device.Vibrator
	Dialer    device.Dialer
	Incidents *incidents.Store
	Store     storage.Store
	Logger    *slog.Logger
}

// Responder owns the caregiver side: escalations from any transport ring
// the alarm once per escalation ID. Escalations arriving while the alarm
// rings wait in arrival order and ring once the current one is answered.
type Responder struct {
	clock     clock.Clock
	dedupe    *escalate.Dedupe
	incidents *incidents.Store
	store     storage.Store
	logger    *slog.Logger
	flow      *alarm.Flow

	mu      sync.Mutex
	pending []model.Escalation
}

func NewResponder(opts ResponderOptions) *Responder {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Incidents == nil {
		opts.Incidents = incidents.NewStore(opts.Config.Incidents.StoreLimit)
	}
	r := &Responder{
		clock:     opts.Clock,
		dedupe:    escalate.NewDedupe(time.Duration(opts.Config.Alarm.DedupeWindowMs) * time.Millisecond),
		incidents: opts.Incidents,
		store:     opts.Store,
		logger:    opts.Logger,
	}
	r.flow = alarm.New(alarm.Options{
		Interval:         time.Duration(opts.Config.Alarm.IntervalMs) * time.Millisecond,
		VibrationPattern: opts.Config.Alarm.VibrationPattern,
		OnAcknowledge: func(esc model.Escalation) {
			r.record(esc.ID, model.AlertAcknowledged)
			r.ringNext()
		},
		OnCall: func(esc model.Escalation, err error) {
			if errors.Is(err, alarm.ErrNoContact) && r.logger != nil {
				r.logger.Warn("call requested without emergency contact", "escalation_id", esc.ID)
			}
			r.record(esc.ID, model.AlertCallInitiated)
			r.ringNext()
		},
	}, opts.Clock, opts.Speaker, opts.Vibrator, opts.Dialer, opts.Logger)
	return r
}

// Run feeds escalations from sub until ctx is done.
func (r *Responder) Run(ctx context.Context, sub escalate.Subscriber) error {
	return sub.Run(ctx, func(esc model.Escalation) { r.Handle(esc) })
}

// Handle rings the alarm for esc, or queues it behind the alarm that is
// already ringing. Redelivered escalations return false.
func (r *Responder) Handle(esc model.Escalation) bool {
	if r.dedupe.Seen(esc.ID, r.clock.Now()) {
		if r.logger != nil {
			r.logger.Debug("duplicate escalation ignored", "escalation_id", esc.ID)
		}
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 && r.flow.Ring(esc) {
		r.upsert(esc, model.AlertRinging)
		return true
	}
	r.pending = append(r.pending, esc)
	if r.logger != nil {
		r.logger.Warn("alarm busy, escalation queued", "escalation_id", esc.ID, "pending", len(r.pending))
	}
	r.upsert(esc, model.AlertQueued)
	return false
}

// Pending returns the escalations waiting for the alarm.
func (r *Responder) Pending() []model.Escalation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Escalation(nil), r.pending...)
}

func (r *Responder) ringNext() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return
	}
	next := r.pending[0]
	if !r.flow.Ring(next) {
		return
	}
	r.pending = r.pending[1:]
	r.upsert(next, model.AlertRinging)
}

func (r *Responder) upsert(esc model.Escalation, outcome model.AlertOutcome) {
	inc, ok := r.incidents.Update(esc.ID, func(inc *model.Incident) {
		inc.AlertOutcome = outcome
	})
	if !ok {
		inc = model.Incident{
			ID:           esc.ID,
			ElderID:      esc.ElderID,
			DeviceID:     esc.DeviceID,
			DetectedAt:   time.UnixMilli(esc.DetectedAt).UTC(),
			Outcome:      model.OutcomeEscalated,
			Reason:       esc.Reason,
			ResolvedAt:   esc.EscalatedAt,
			AlertOutcome: outcome,
		}
		r.incidents.Add(inc)
	}
	r.persist(inc)
}

func (r *Responder) Acknowledge() bool { return r.flow.Acknowledge() }

func (r *Responder) Call() bool { return r.flow.Call() }

func (r *Responder) Snapshot() alarm.State { return r.flow.Snapshot() }

func (r *Responder) Close() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
	r.flow.Close()
}

func (r *Responder) record(id string, outcome model.AlertOutcome) {
	inc, ok := r.incidents.Update(id, func(inc *model.Incident) {
		inc.AlertOutcome = outcome
	})
	if ok {
		r.persist(inc)
	}
}

func (r *Responder) persist(inc model.Incident) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveIncident(context.Background(), inc); err != nil && r.logger != nil {
		r.logger.Warn("persist incident failed", "incident_id", inc.ID, "err", err)
	}
}
