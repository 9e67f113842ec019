package confirm

import (
	"testing"
	"time"

	"fallguard/internal/clock/clocktest"
	"fallguard/internal/device/devicetest"
	"fallguard/internal/model"
)

type harness struct {
	clk       *clocktest.Fake
	rec       *devicetest.Recorder
	flow      *Flow
	escalated []model.EscalationReason
	escAt     []time.Time
	cancelled int
	ticks     []int
}

func newHarness(countdown int) *harness {
	h := &harness{
		clk: clocktest.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		rec: &devicetest.Recorder{},
	}
	h.flow = New(Options{
		Countdown: countdown,
		OnEscalate: func(_ model.FallEvent, reason model.EscalationReason) {
			h.escalated = append(h.escalated, reason)
			h.escAt = append(h.escAt, h.clk.Now())
		},
		OnCancel: func(model.FallEvent) { h.cancelled++ },
		OnTick:   func(remaining int) { h.ticks = append(h.ticks, remaining) },
	}, h.clk, h.rec, h.rec, nil)
	return h
}

func TestTimeoutEscalatesAtCountdown(t *testing.T) {
	h := newHarness(3)
	start := h.clk.Now()
	if !h.flow.Present(model.FallEvent{DetectedAt: 300}) {
		t.Fatalf("expected present to start confirmation")
	}
	if st := h.flow.Snapshot(); st.Phase != PhaseAwaiting || st.Remaining != 3 {
		t.Fatalf("unexpected state %+v", st)
	}
	h.clk.Advance(2 * time.Second)
	if len(h.escalated) != 0 {
		t.Fatalf("escalated before t=2s")
	}
	h.clk.Advance(1 * time.Second)
	if len(h.escalated) != 1 || h.escalated[0] != model.ReasonTimeout {
		t.Fatalf("expected timeout escalation, got %v", h.escalated)
	}
	if got := h.escAt[0].Sub(start); got != 3*time.Second {
		t.Fatalf("expected escalation at 3s, got %v", got)
	}
	st := h.flow.Snapshot()
	if st.Phase != PhaseResolved || st.Outcome != model.OutcomeEscalated {
		t.Fatalf("unexpected state %+v", st)
	}
	if h.clk.Pending() != 0 {
		t.Fatalf("expected no timers after escalation")
	}
	if len(h.ticks) != 2 || h.ticks[0] != 2 || h.ticks[1] != 1 {
		t.Fatalf("unexpected ticks %v", h.ticks)
	}
}

func TestConfirmOKCleansUp(t *testing.T) {
	h := newHarness(12)
	h.flow.Present(model.FallEvent{DetectedAt: 1})
	h.clk.Advance(1 * time.Second)
	ticks := len(h.ticks)
	if !h.flow.ConfirmOK() {
		t.Fatalf("expected confirm to resolve")
	}
	h.clk.Advance(30 * time.Second)
	if len(h.escalated) != 0 {
		t.Fatalf("escalation fired after I am OK")
	}
	if len(h.ticks) != ticks {
		t.Fatalf("ticks observed after cancel: %v", h.ticks)
	}
	if h.cancelled != 1 {
		t.Fatalf("expected one cancel callback, got %d", h.cancelled)
	}
	if h.clk.Pending() != 0 {
		t.Fatalf("expected timer cleared")
	}
	if h.rec.SpeechStop == 0 || h.rec.Cancels == 0 {
		t.Fatalf("expected speech and vibration stopped")
	}
	if h.flow.ConfirmOK() || h.flow.NeedHelp() {
		t.Fatalf("resolved flow must ignore further actions")
	}
}

func TestNeedHelpPreemptsTimer(t *testing.T) {
	h := newHarness(12)
	h.flow.Present(model.FallEvent{})
	h.clk.Advance(4 * time.Second)
	if !h.flow.NeedHelp() {
		t.Fatalf("expected need help to escalate")
	}
	h.clk.Advance(20 * time.Second)
	if len(h.escalated) != 1 || h.escalated[0] != model.ReasonUser {
		t.Fatalf("expected a single user escalation, got %v", h.escalated)
	}
}

func TestOverlappingEventsIgnored(t *testing.T) {
	h := newHarness(12)
	if !h.flow.Present(model.FallEvent{DetectedAt: 1}) {
		t.Fatalf("first present failed")
	}
	if h.flow.Present(model.FallEvent{DetectedAt: 2}) {
		t.Fatalf("overlapping present must be ignored")
	}
	if got := h.flow.Snapshot().Event.DetectedAt; got != 1 {
		t.Fatalf("state replaced by overlapping event: %d", got)
	}
	h.flow.NeedHelp()
	if h.flow.Present(model.FallEvent{DetectedAt: 3}) {
		t.Fatalf("resolved flow must wait for dismiss")
	}
	h.flow.Dismiss()
	if !h.flow.Present(model.FallEvent{DetectedAt: 4}) {
		t.Fatalf("expected flow re-enterable after dismiss")
	}
}

func TestDismissTearsDownWithoutCallbacks(t *testing.T) {
	h := newHarness(5)
	h.flow.Present(model.FallEvent{})
	h.flow.Dismiss()
	h.clk.Advance(10 * time.Second)
	if len(h.escalated) != 0 || h.cancelled != 0 {
		t.Fatalf("dismiss must not invoke callbacks")
	}
	if h.flow.Snapshot().Phase != PhaseIdle {
		t.Fatalf("expected idle after dismiss")
	}
}

func TestCloseRejectsFurtherEvents(t *testing.T) {
	h := newHarness(5)
	h.flow.Present(model.FallEvent{})
	h.flow.Close()
	if h.clk.Pending() != 0 {
		t.Fatalf("expected timers released on close")
	}
	if h.flow.Present(model.FallEvent{}) {
		t.Fatalf("closed flow must not accept events")
	}
}

func TestFailingDevicesDoNotBreakTransitions(t *testing.T) {
	h := newHarness(2)
	h.rec.Panic = true
	if !h.flow.Present(model.FallEvent{}) {
		t.Fatalf("present must succeed despite device panics")
	}
	h.clk.Advance(2 * time.Second)
	if len(h.escalated) != 1 {
		t.Fatalf("expected escalation despite device panics")
	}
}
