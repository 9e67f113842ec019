package motion

import (
	"sync"

	"fallguard/internal/clock"
	"fallguard/internal/model"
)

// SyntheticSensor produces a device lying still at 1 g. When FallEvery is
// set it scripts a fall once per period: a free-fall dip followed by a
// rotating impact.
type SyntheticSensor struct {
	DeviceID    string
	FallEveryMs int64

	clock clock.Clock
	mu    sync.Mutex
	start int64
}

func NewSyntheticSensor(deviceID string, fallEveryMs int64, clk clock.Clock) *SyntheticSensor {
	if clk == nil {
		clk = clock.Real()
	}
	return &SyntheticSensor{
		DeviceID:    deviceID,
		FallEveryMs: fallEveryMs,
		clock:       clk,
		start:       clk.Now().UnixMilli(),
	}
}

func (s *SyntheticSensor) Read() (model.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UnixMilli()
	return SyntheticReading(s.DeviceID, now, now-s.start, s.FallEveryMs), nil
}

// SyntheticReading is the reading at elapsed ms into a demo run.
func SyntheticReading(deviceID string, ts, elapsed, fallEveryMs int64) model.Reading {
	r := model.Reading{DeviceID: deviceID, Timestamp: ts, Az: model.StandardGravity, Source: "synthetic"}
	if fallEveryMs <= 0 || elapsed < fallEveryMs {
		return r
	}
	switch phase := elapsed % fallEveryMs; {
	case phase < 150:
		r.Az = 0.2 * model.StandardGravity
	case phase < 300:
		r.Az = 2.8 * model.StandardGravity
		r.Rx = 3.5
		r.Ry = 1.5
	}
	return r
}
