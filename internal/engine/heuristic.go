package engine

import (
	"math"

	"fallguard/internal/config"
	"fallguard/internal/model"
)

type Params struct {
	RetentionMs      int64
	EvalWindowMs     int64
	MinEvalSamples   int
	MinBufferSamples int
	SpikeG           float64
	LowG             float64
	RotationRadS     float64
	JerkMS3          float64
	GraceMs          int64
}

func ParamsFromConfig(d config.DetectionConfig) Params {
	return Params{
		RetentionMs:      d.RetentionMs,
		EvalWindowMs:     d.EvalWindowMs,
		MinEvalSamples:   d.MinEvalSamples,
		MinBufferSamples: d.MinBufferSamples,
		SpikeG:           d.SpikeG,
		LowG:             d.LowG,
		RotationRadS:     d.RotationRadS,
		JerkMS3:          d.JerkMS3,
		GraceMs:          d.GraceMs,
	}
}

func DefaultParams() Params {
	return ParamsFromConfig(config.DefaultDetection())
}

type Verdict struct {
	Evaluated bool
	Spike     bool
	LowAcc    bool
	Rotation  bool
	Jerk      bool
	PeakAcc   float64
	MinAcc    float64
	PeakRot   float64
	MaxJerk   float64
}

// Fired is the detection rule: an impact, a free-fall dip, and either body
// rotation or an abrupt change in acceleration.
func (v Verdict) Fired() bool {
	return v.Evaluated && v.Spike && v.LowAcc && (v.Rotation || v.Jerk)
}

// Evaluate inspects the samples with timestamp >= now-EvalWindowMs. samples
// must be in timestamp order. It does not mutate its input.
func Evaluate(samples []model.MotionSample, now int64, p Params) Verdict {
	var v Verdict
	if len(samples) < p.MinBufferSamples {
		return v
	}
	start := len(samples)
	cutoff := now - p.EvalWindowMs
	for start > 0 && samples[start-1].Timestamp >= cutoff {
		start--
	}
	sub := samples[start:]
	if len(sub) < p.MinEvalSamples || len(sub) == 0 {
		return v
	}
	v.Evaluated = true
	spike := p.SpikeG * model.StandardGravity
	low := p.LowG * model.StandardGravity
	v.MinAcc = math.Inf(1)
	for i, s := range sub {
		acc := s.AccelerationMagnitude
		if acc > v.PeakAcc {
			v.PeakAcc = acc
		}
		if acc < v.MinAcc {
			v.MinAcc = acc
		}
		if s.RotationMagnitude > v.PeakRot {
			v.PeakRot = s.RotationMagnitude
		}
		if acc > spike {
			v.Spike = true
		}
		if acc < low {
			v.LowAcc = true
		}
		if s.RotationMagnitude > p.RotationRadS {
			v.Rotation = true
		}
		if i == 0 {
			continue
		}
		dt := float64(s.Timestamp-sub[i-1].Timestamp) / 1000
		if dt <= 0 {
			continue
		}
		jerk := math.Abs(acc-sub[i-1].AccelerationMagnitude) / dt
		if jerk > v.MaxJerk {
			v.MaxJerk = jerk
		}
		if jerk > p.JerkMS3 {
			v.Jerk = true
		}
	}
	return v
}
