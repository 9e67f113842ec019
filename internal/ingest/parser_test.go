package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "2026-02-23 12:34:56 watch ax=0.1 ay=0.2 az=9.8 rx=0 ry=0 rz=0.5"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "watch" {
		t.Fatalf("device id: %s", fields.DeviceID)
	}
	if fields.Timestamp != "2026-02-23 12:34:56" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if fields.Az != "9.8" || fields.Rz != "0.5" {
		t.Fatalf("axes missing: %+v", fields)
	}
}

func TestParseKeyValueOnly(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("ts=1200 device=pendant acc=0.2 rot=0.1 unit=g")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "1200" || fields.DeviceID != "pendant" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	if fields.Acc != "0.2" || fields.Rot != "0.1" || fields.Unit != "g" {
		t.Fatalf("magnitudes missing: %+v", fields)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("ts,device,ax,ay,az,rx,ry,rz"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("1000,watch,0,0.5,9.8,0,0,0")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "watch" || fields.Ay != "0.5" || fields.Az != "9.8" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("1000,watch,1,2,3,4,5,6")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "1000" || fields.Ax != "1" || fields.Rz != "6" {
		t.Fatalf("positional parse mismatch: %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"ts":1700000000123,"device_id":"watch","ax":0.5,"ay":0,"az":9.81,"battery":87}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "1700000000123" {
		t.Fatalf("large timestamps must not be rendered in exponent form: %q", fields.Timestamp)
	}
	if fields.DeviceID != "watch" || fields.Ax != "0.5" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Extras["battery"] != "87" {
		t.Fatalf("extras: %+v", fields.Extras)
	}
}

func TestParseSkipsBlankAndComments(t *testing.T) {
	p := NewParser()
	for _, line := range []string{"", "   ", "# recorded on bench"} {
		fields, err := p.ParseLine(line)
		if err != nil || fields != nil {
			t.Fatalf("line %q: fields=%v err=%v", line, fields, err)
		}
	}
}

func TestDeviceFromTopic(t *testing.T) {
	if got := deviceFromTopic("sensors/wrist-1/motion"); got != "wrist-1" {
		t.Fatalf("device from topic: %q", got)
	}
	if got := deviceFromTopic("motion"); got != "" {
		t.Fatalf("short topic: %q", got)
	}
}
