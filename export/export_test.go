package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Zerofisher/honeypot/pkg/model"
)

func sample() []*model.ConnectionAttempt {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return []*model.ConnectionAttempt{
		{ID: 1, Timestamp: ts, IPAddress: "203.0.113.5", Port: 22, Data: "SSH-2.0-Go\r\n", SessionID: "a"},
		{ID: 2, Timestamp: ts, IPAddress: "198.51.100.9", Port: 80, Data: "GET /test, \"x\"", SessionID: "b", Seq: 1},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"text", "JSON", "csv"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q) error: %v", s, err)
		}
	}
	if _, err := ParseFormat("fields"); err == nil {
		t.Error("ParseFormat(fields) expected error")
	}
}

func TestExportText(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	if err := e.ExportAll(sample()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines; want 2:\n%s", len(lines), buf.String())
	}
	want := "1\t2026-03-14 09:26:53\t203.0.113.5\t22(ssh)\t0\t12\t\"SSH-2.0-Go\\r\\n\""
	if lines[0] != want {
		t.Errorf("line 0 = %q; want %q", lines[0], want)
	}
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatJSON)
	if err := e.ExportAll(sample()); err != nil {
		t.Fatal(err)
	}

	var got []AttemptJSON
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(got) != 2 || got[1].Service != "http" || got[1].Seq != 1 {
		t.Errorf("decoded %+v", got)
	}
}

func TestExportJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewExporter(&buf, FormatJSON).ExportAll(nil); err != nil {
		t.Fatal(err)
	}
	var got []AttemptJSON
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil || len(got) != 0 {
		t.Errorf("empty export = %q (err %v)", buf.String(), err)
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := NewExporter(&buf, FormatCSV).ExportAll(sample()); err != nil {
		t.Fatal(err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records; want header + 2", len(records))
	}
	if records[0][0] != "id" || records[2][7] != "GET /test, \"x\"" {
		t.Errorf("records = %q", records)
	}
}

func TestMaxCount(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	e.SetMaxCount(1)
	if err := e.ExportAll(sample()); err != nil {
		t.Fatal(err)
	}
	if e.Count() != 1 {
		t.Errorf("Count() = %d; want 1", e.Count())
	}
}

func TestHexDump(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	e.SetShowHex(true)
	if err := e.ExportAttempt(&model.ConnectionAttempt{ID: 7, Data: "5.7\x00"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "00000000  35 2e 37 00") || !strings.Contains(out, "|5.7.|") {
		t.Errorf("hex dump output:\n%s", out)
	}
}

func TestDetail(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	e.SetShowDetail(true)
	if err := e.ExportAttempt(sample()[1]); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Payload: http: GET /test") {
		t.Errorf("detail output:\n%s", buf.String())
	}
}
