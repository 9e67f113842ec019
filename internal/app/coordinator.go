package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fallguard/internal/clock"
	"fallguard/internal/config"
	"fallguard/internal/confirm"
	"fallguard/internal/device"
	"fallguard/internal/escalate"
	"fallguard/internal/incidents"
	"fallguard/internal/model"
	"fallguard/internal/profile"
	"fallguard/internal/storage"
)

const publishTimeout = 5 * time.Second

type CoordinatorOptions struct {
	Config    *config.Config
	Clock     clock.Clock
	Speaker   device.Speaker
	Vibrator  device.Vibrator
	Publisher escalate.Publisher
	Incidents *incidents.Store
	Store     storage.Store
	Logger    *slog.Logger
}

// Coordinator owns the elder side: fall events from the foreground engine
// and the background bridge feed one confirmation flow, and a confirmed
// fall is published to caregivers.
type Coordinator struct {
	clock     clock.Clock
	publisher escalate.Publisher
	incidents *incidents.Store
	store     storage.Store
	logger    *slog.Logger
	profiles  atomic.Pointer[profile.Directory]
	flow      *confirm.Flow

	mu      sync.Mutex
	current string
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Incidents == nil {
		opts.Incidents = incidents.NewStore(opts.Config.Incidents.StoreLimit)
	}
	c := &Coordinator{
		clock:     opts.Clock,
		publisher: opts.Publisher,
		incidents: opts.Incidents,
		store:     opts.Store,
		logger:    opts.Logger,
	}
	c.profiles.Store(profile.New(opts.Config))
	cc := opts.Config.Confirmation
	c.flow = confirm.New(confirm.Options{
		Countdown:        cc.CountdownSec,
		Prompt:           cc.Prompt,
		VibrationPattern: cc.VibrationPattern,
		OnEscalate:       c.escalated,
		OnCancel:         c.cancelled,
		OnTick: func(remaining int) {
			if c.logger != nil {
				c.logger.Debug("confirmation countdown", "remaining_sec", remaining)
			}
		},
	}, opts.Clock, opts.Speaker, opts.Vibrator, opts.Logger)
	return c
}

func (c *Coordinator) UpdateConfig(cfg *config.Config) {
	c.profiles.Store(profile.New(cfg))
}

// HandleFall presents the confirmation prompt for ev. Events that arrive
// while a confirmation is showing are dropped and HandleFall returns false.
func (c *Coordinator) HandleFall(ev model.FallEvent) bool {
	if ev.ElderID == "" {
		ev.ElderID = c.profiles.Load().ElderForDevice(ev.DeviceID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.flow.Present(ev) {
		return false
	}
	inc := model.Incident{
		ID:         uuid.NewString(),
		ElderID:    ev.ElderID,
		DeviceID:   ev.DeviceID,
		Origin:     ev.Origin,
		DetectedAt: time.UnixMilli(ev.DetectedAt).UTC(),
		Outcome:    model.OutcomePending,
	}
	c.current = inc.ID
	c.incidents.Add(inc)
	c.persist(inc)
	return true
}

func (c *Coordinator) ConfirmOK() bool { return c.flow.ConfirmOK() }

func (c *Coordinator) NeedHelp() bool { return c.flow.NeedHelp() }

func (c *Coordinator) Snapshot() confirm.State { return c.flow.Snapshot() }

func (c *Coordinator) Close() { c.flow.Close() }

func (c *Coordinator) escalated(ev model.FallEvent, reason model.EscalationReason) {
	now := c.clock.Now().UTC()
	c.mu.Lock()
	id := c.current
	c.current = ""
	c.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	inc, ok := c.incidents.Update(id, func(inc *model.Incident) {
		inc.Outcome = model.OutcomeEscalated
		inc.Reason = reason
		inc.ResolvedAt = now
	})
	if ok {
		c.persist(inc)
	}

	dir := c.profiles.Load()
	esc := model.Escalation{
		ID:          id,
		ElderID:     ev.ElderID,
		ElderName:   dir.DisplayName(ev.ElderID),
		DeviceID:    ev.DeviceID,
		DetectedAt:  ev.DetectedAt,
		EscalatedAt: now,
		Reason:      reason,
	}
	contact, err := dir.EmergencyContact(ev.ElderID)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("escalating without emergency contact", "elder_id", ev.ElderID, "err", err)
		}
	}
	esc.EmergencyContact = contact

	if c.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := c.publisher.Publish(ctx, esc)
		cancel()
		if err != nil && c.logger != nil {
			c.logger.Error("escalation delivery failed", "escalation_id", esc.ID, "err", err)
		}
	}
	c.flow.Dismiss()
}

func (c *Coordinator) cancelled(ev model.FallEvent) {
	now := c.clock.Now().UTC()
	c.mu.Lock()
	id := c.current
	c.current = ""
	c.mu.Unlock()
	if inc, ok := c.incidents.Update(id, func(inc *model.Incident) {
		inc.Outcome = model.OutcomeOK
		inc.ResolvedAt = now
	}); ok {
		c.persist(inc)
	}
	c.flow.Dismiss()
}

func (c *Coordinator) persist(inc model.Incident) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveIncident(context.Background(), inc); err != nil && c.logger != nil {
		c.logger.Warn("persist incident failed", "incident_id", inc.ID, "err", err)
	}
}
