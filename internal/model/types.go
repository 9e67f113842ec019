package model

import (
	"math"
	"time"
)

// StandardGravity is g in m/s².
const StandardGravity = 9.80665

type Origin string

const (
	OriginForeground Origin = "foreground"
	OriginBackground Origin = "background"
)

// Reading is one raw device-motion report: gravity-inclusive acceleration in
// m/s² and rotation rate in rad/s.
type Reading struct {
	DeviceID  string  `json:"device_id"`
	Timestamp int64   `json:"ts"`
	Ax        float64 `json:"ax"`
	Ay        float64 `json:"ay"`
	Az        float64 `json:"az"`
	Rx        float64 `json:"rx"`
	Ry        float64 `json:"ry"`
	Rz        float64 `json:"rz"`
	Source    string  `json:"source,omitempty"`
}

type MotionSample struct {
	Timestamp             int64   `json:"ts"`
	AccelerationMagnitude float64 `json:"acc"`
	RotationMagnitude     float64 `json:"rot"`
}

func SampleFromReading(r Reading) MotionSample {
	return MotionSample{
		Timestamp:             r.Timestamp,
		AccelerationMagnitude: math.Sqrt(r.Ax*r.Ax + r.Ay*r.Ay + r.Az*r.Az),
		RotationMagnitude:     math.Sqrt(r.Rx*r.Rx + r.Ry*r.Ry + r.Rz*r.Rz),
	}
}

type FallEvent struct {
	DetectedAt int64  `json:"detected_at"`
	DeviceID   string `json:"device_id,omitempty"`
	ElderID    string `json:"elder_id,omitempty"`
	Origin     Origin `json:"origin,omitempty"`
}

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeOK        Outcome = "ok"
	OutcomeEscalated Outcome = "escalated"
)

type EscalationReason string

const (
	ReasonTimeout EscalationReason = "timeout"
	ReasonUser    EscalationReason = "user"
)

type AlertOutcome string

const (
	AlertQueued        AlertOutcome = "queued"
	AlertRinging       AlertOutcome = "ringing"
	AlertAcknowledged  AlertOutcome = "acknowledged"
	AlertCallInitiated AlertOutcome = "call_initiated"
)

// Incident is the durable record of one fall event through confirmation and,
// on the caregiver side, the alarm.
type Incident struct {
	ID           string           `json:"id"`
	ElderID      string           `json:"elder_id"`
	DeviceID     string           `json:"device_id,omitempty"`
	Origin       Origin           `json:"origin,omitempty"`
	DetectedAt   time.Time        `json:"detected_at"`
	Outcome      Outcome          `json:"outcome"`
	Reason       EscalationReason `json:"reason,omitempty"`
	ResolvedAt   time.Time        `json:"resolved_at,omitempty"`
	AlertOutcome AlertOutcome     `json:"alert_outcome,omitempty"`
}

// Escalation is the signal carried from the elder's device to caregivers.
type Escalation struct {
	ID               string           `json:"id"`
	ElderID          string           `json:"elder_id"`
	ElderName        string           `json:"elder_name,omitempty"`
	EmergencyContact string           `json:"emergency_contact,omitempty"`
	DeviceID         string           `json:"device_id,omitempty"`
	DetectedAt       int64            `json:"detected_at"`
	EscalatedAt      time.Time        `json:"escalated_at"`
	Reason           EscalationReason `json:"reason"`
}

type WindowStats struct {
	DeviceID     string  `json:"device_id"`
	Samples      int     `json:"samples"`
	PeakAccelG   float64 `json:"peak_accel_g"`
	MinAccelG    float64 `json:"min_accel_g"`
	PeakRotation float64 `json:"peak_rotation"`
	Evaluated    bool    `json:"evaluated"`
	Fired        int     `json:"fired"`
	LastSampleAt int64   `json:"last_sample_at"`
}
