package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"sync"

	"fallguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s,]+)`)
)

var (
	timestampKeys = []string{"ts", "timestamp", "time", "t"}
	deviceKeys    = []string{"device_id", "device", "deviceid", "sensor", "source_id"}
	axKeys        = []string{"ax", "accel_x", "acc_x", "x"}
	ayKeys        = []string{"ay", "accel_y", "acc_y", "y"}
	azKeys        = []string{"az", "accel_z", "acc_z", "z"}
	rxKeys        = []string{"rx", "gyro_x", "rot_x", "alpha"}
	ryKeys        = []string{"ry", "gyro_y", "rot_y", "beta"}
	rzKeys        = []string{"rz", "gyro_z", "rot_z", "gamma"}
	accKeys       = []string{"acc", "accel", "acceleration"}
	rotKeys       = []string{"rot", "rotation", "gyro"}
	unitKeys      = []string{"unit", "accel_unit"}
	gyroUnitKeys  = []string{"gyro_unit", "rot_unit"}
)

type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.SampleFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.SampleFields, error) {
	return ParseJSONBytes([]byte(line))
}

func parsePlain(line string) (*normalize.SampleFields, error) {
	ts, rest := extractTimestamp(line)
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields := fieldsFromMap(kv)
	if fields.Timestamp == "" {
		fields.Timestamp = ts
	}
	if fields.DeviceID == "" && rest != "" {
		tokens := strings.Fields(rest)
		if len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.DeviceID = tokens[0]
		}
	}
	return fields, nil
}

func fieldsFromMap(kv map[string]string) *normalize.SampleFields {
	fields := &normalize.SampleFields{
		Timestamp: firstNonEmpty(kv, timestampKeys...),
		DeviceID:  firstNonEmpty(kv, deviceKeys...),
		Ax:        firstNonEmpty(kv, axKeys...),
		Ay:        firstNonEmpty(kv, ayKeys...),
		Az:        firstNonEmpty(kv, azKeys...),
		Rx:        firstNonEmpty(kv, rxKeys...),
		Ry:        firstNonEmpty(kv, ryKeys...),
		Rz:        firstNonEmpty(kv, rzKeys...),
		Acc:       firstNonEmpty(kv, accKeys...),
		Rot:       firstNonEmpty(kv, rotKeys...),
		Unit:      firstNonEmpty(kv, unitKeys...),
		GyroUnit:  firstNonEmpty(kv, gyroUnitKeys...),
		Extras:    map[string]string{},
	}
	for k, v := range kv {
		if !knownKey(k) {
			fields.Extras[k] = v
		}
	}
	return fields
}

func knownKey(k string) bool {
	for _, set := range [][]string{timestampKeys, deviceKeys, axKeys, ayKeys, azKeys, rxKeys, ryKeys, rzKeys, accKeys, rotKeys, unitKeys, gyroUnitKeys} {
		for _, s := range set {
			if s == k {
				return true
			}
		}
	}
	return false
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees. Headerless rows are read
// as ts,device,ax,ay,az,rx,ry,rz.
type CSVParser struct {
	mu     sync.Mutex
	header []string
}

var positionalColumns = []string{"ts", "device", "ax", "ay", "az", "rx", "ry", "rz"}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.SampleFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		p.mu.Unlock()
		return nil, nil
	}
	header := p.header
	p.mu.Unlock()
	if header == nil {
		header = positionalColumns
	}
	kv := make(map[string]string, len(record))
	for i, name := range header {
		if i >= len(record) {
			break
		}
		kv[name] = strings.TrimSpace(record[i])
	}
	return fieldsFromMap(kv), nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "timestamp", "time", "ts", "device", "device_id", "ax", "accel_x", "acc", "rx", "gyro_x", "rot":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
