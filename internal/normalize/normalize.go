package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fallguard/internal/config"
	"fallguard/internal/model"
)

// SampleFields is a parsed but untyped motion reading.
type SampleFields struct {
	Timestamp string
	DeviceID  string
	Ax        string
	Ay        string
	Az        string
	Rx        string
	Ry        string
	Rz        string
	// Acc and Rot carry precomputed magnitudes when axes are absent.
	Acc      string
	Rot      string
	Unit     string
	GyroUnit string
	Extras   map[string]string
	Raw      string
}

var ErrNoAcceleration = errors.New("sample has no acceleration")

func Normalize(fields SampleFields, cfg *config.Config) (model.Reading, error) {
	device := strings.TrimSpace(fields.DeviceID)
	if device == "" {
		device = cfg.Ingest.Parser.DefaultDeviceID
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	ts := time.Now().UnixMilli()
	if strings.TrimSpace(fields.Timestamp) != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Reading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed
	}

	r := model.Reading{DeviceID: device, Timestamp: ts}
	var err error
	hasAxes := fields.Ax != "" || fields.Ay != "" || fields.Az != ""
	switch {
	case hasAxes:
		if r.Ax, err = parseFloat(fields.Ax); err != nil {
			return model.Reading{}, fmt.Errorf("ax: %w", err)
		}
		if r.Ay, err = parseFloat(fields.Ay); err != nil {
			return model.Reading{}, fmt.Errorf("ay: %w", err)
		}
		if r.Az, err = parseFloat(fields.Az); err != nil {
			return model.Reading{}, fmt.Errorf("az: %w", err)
		}
	case fields.Acc != "":
		if r.Az, err = parseFloat(fields.Acc); err != nil {
			return model.Reading{}, fmt.Errorf("acc: %w", err)
		}
	default:
		return model.Reading{}, ErrNoAcceleration
	}
	if fields.Rx != "" || fields.Ry != "" || fields.Rz != "" {
		if r.Rx, err = parseFloat(fields.Rx); err != nil {
			return model.Reading{}, fmt.Errorf("rx: %w", err)
		}
		if r.Ry, err = parseFloat(fields.Ry); err != nil {
			return model.Reading{}, fmt.Errorf("ry: %w", err)
		}
		if r.Rz, err = parseFloat(fields.Rz); err != nil {
			return model.Reading{}, fmt.Errorf("rz: %w", err)
		}
	} else if fields.Rot != "" {
		if r.Rx, err = parseFloat(fields.Rot); err != nil {
			return model.Reading{}, fmt.Errorf("rot: %w", err)
		}
	}

	unit := fields.Unit
	if unit == "" {
		unit = cfg.Ingest.Parser.AccelUnit
	}
	if f := AccelScale(unit); f != 1 {
		r.Ax, r.Ay, r.Az = r.Ax*f, r.Ay*f, r.Az*f
	}
	gyro := fields.GyroUnit
	if gyro == "" {
		gyro = cfg.Ingest.Parser.GyroUnit
	}
	if f := GyroScale(gyro); f != 1 {
		r.Rx, r.Ry, r.Rz = r.Rx*f, r.Ry*f, r.Rz*f
	}
	return r, nil
}

// AccelScale converts unit to m/s².
func AccelScale(unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "g":
		return model.StandardGravity
	case "mg":
		return model.StandardGravity / 1000
	default:
		return 1
	}
}

// GyroScale converts unit to rad/s.
func GyroScale(unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "dps", "deg/s", "deg":
		return math.Pi / 180
	default:
		return 1
	}
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp returns milliseconds. Integers are taken as milliseconds,
// decimals as seconds; anything else must match a known layout.
func ParseTimestamp(value string, loc *time.Location) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty timestamp")
	}
	if isInteger(value) {
		return strconv.ParseInt(value, 10, 64)
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return int64(math.Round(f * 1000)), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UnixMilli(), nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isInteger(value string) bool {
	for i, ch := range value {
		if ch == '-' && i == 0 && len(value) > 1 {
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}
