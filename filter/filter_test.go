package filter

import (
	"testing"
	"time"

	"github.com/Zerofisher/honeypot/pkg/model"
)

func sampleAttempts() []*model.ConnectionAttempt {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return []*model.ConnectionAttempt{
		{ID: 1, Timestamp: ts, IPAddress: "203.0.113.5", Port: 22, Data: "SSH-2.0-libssh_0.9.6\r\n", SessionID: "a"},
		{ID: 2, Timestamp: ts, IPAddress: "203.0.113.5", Port: 23, Data: "root\r\n", SessionID: "b"},
		{ID: 3, Timestamp: ts.Add(time.Hour), IPAddress: "198.51.100.9", Port: 80, Data: "GET /test\r\n\r\n", SessionID: "c", Seq: 1},
		{ID: 4, Timestamp: ts, IPAddress: "192.0.2.1", Port: 3306, Data: "", SessionID: "d"},
	}
}

func TestCompileAndApply(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		wantIDs []int64
	}{
		{"empty matches all", "", []int64{1, 2, 3, 4}},
		{"port equality", "port == 22", []int64{1}},
		{"eq spelling", "port eq 80", []int64{3}},
		{"ne spelling", "port ne 22 && !empty", []int64{2, 3}},
		{"data contains", `data contains "root"`, []int64{2}},
		{"service in set", `service in {"ssh", "telnet"}`, []int64{1, 2}},
		{"ip", `ip == "203.0.113.5" and port > 22`, []int64{2}},
		{"empty flag", "empty", []int64{4}},
		{"hour", "hour == 10", []int64{3}},
		{"date", `date == "2026-03-14"`, []int64{1, 2, 3, 4}},
		{"seq", "seq > 0", []int64{3}},
		{"literal containing eq", `data contains "eq"`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.filter)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tt.filter, err)
			}
			got := f.Apply(sampleAttempts())
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Apply(%q) returned %d attempts; want %d", tt.filter, len(got), len(tt.wantIDs))
			}
			for i, a := range got {
				if a.ID != tt.wantIDs[i] {
					t.Errorf("Apply(%q)[%d].ID = %d; want %d", tt.filter, i, a.ID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []string{
		"port ==",
		"nosuchfield == 1",
		`port + 1`, // not a boolean
	}
	for _, f := range tests {
		if _, err := Compile(f); err == nil {
			t.Errorf("Compile(%q) expected error", f)
		}
	}
}

func TestReplaceWord(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"port eq 22", "port == 22"},
		{"seq eq 1", "seq == 1"},
		{`data eq "eq"`, `data == "eq"`},
		{"equal", "equal"},
	}
	for _, tt := range tests {
		if got := replaceWord(tt.in, "eq", "=="); got != tt.want {
			t.Errorf("replaceWord(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestNilFilterMatches(t *testing.T) {
	var f *CompiledFilter
	if !f.Match(&model.ConnectionAttempt{}) {
		t.Error("nil filter should match")
	}
}
