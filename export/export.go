// Package export renders connection attempts as text, JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/classify"
	"github.com/Zerofisher/honeypot/pkg/model"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
)

// ParseFormat validates a -T argument.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use: text, json, csv)", s)
	}
}

var csvHeader = []string{"id", "timestamp", "ip_address", "port", "service", "session_id", "seq", "data", "user_agent"}

// Exporter handles attempt export
type Exporter struct {
	format     OutputFormat
	writer     io.Writer
	csv        *csv.Writer
	showDetail bool // -V verbose
	showHex    bool // -x hex dump
	count      int  // attempts exported
	maxCount   int  // -c limit (0 = unlimited)
	firstEntry bool // track first entry for JSON array
}

// NewExporter creates a new exporter
func NewExporter(w io.Writer, format OutputFormat) *Exporter {
	e := &Exporter{
		format:     format,
		writer:     w,
		firstEntry: true,
	}
	if format == FormatCSV {
		e.csv = csv.NewWriter(w)
	}
	return e
}

// SetMaxCount sets the maximum attempt count
func (e *Exporter) SetMaxCount(n int) {
	e.maxCount = n
}

// SetShowDetail enables verbose output
func (e *Exporter) SetShowDetail(v bool) {
	e.showDetail = v
}

// SetShowHex enables hex dump output
func (e *Exporter) SetShowHex(v bool) {
	e.showHex = v
}

// ShouldStop returns true if we've reached the attempt limit
func (e *Exporter) ShouldStop() bool {
	return e.maxCount > 0 && e.count >= e.maxCount
}

// Count returns the number of attempts written so far.
func (e *Exporter) Count() int {
	return e.count
}

// Start writes any header needed for the format
func (e *Exporter) Start() error {
	switch e.format {
	case FormatJSON:
		_, err := fmt.Fprintln(e.writer, "[")
		return err
	case FormatCSV:
		return e.csv.Write(csvHeader)
	}
	return nil
}

// Finish writes any footer needed for the format
func (e *Exporter) Finish() error {
	switch e.format {
	case FormatJSON:
		if !e.firstEntry {
			fmt.Fprintln(e.writer)
		}
		_, err := fmt.Fprintln(e.writer, "]")
		return err
	case FormatCSV:
		e.csv.Flush()
		return e.csv.Error()
	}
	return nil
}

// ExportAttempt exports a single attempt
func (e *Exporter) ExportAttempt(a *model.ConnectionAttempt) error {
	if e.ShouldStop() {
		return nil
	}

	var err error
	switch e.format {
	case FormatJSON:
		err = e.exportJSON(a)
	case FormatCSV:
		err = e.exportCSV(a)
	default:
		err = e.exportText(a)
	}

	if err == nil {
		e.count++
	}
	return err
}

// ExportAll runs Start, ExportAttempt for each attempt, and Finish.
func (e *Exporter) ExportAll(attempts []*model.ConnectionAttempt) error {
	if err := e.Start(); err != nil {
		return err
	}
	for _, a := range attempts {
		if e.ShouldStop() {
			break
		}
		if err := e.ExportAttempt(a); err != nil {
			return err
		}
	}
	return e.Finish()
}

// exportText exports an attempt as a one line summary
func (e *Exporter) exportText(a *model.ConnectionAttempt) error {
	// Format: ID Time Source Port Seq Bytes Data
	line := fmt.Sprintf("%d\t%s\t%s\t%s\t%d\t%d\t%s",
		a.ID,
		a.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		a.IPAddress,
		banner.FormatPort(a.Port),
		a.Seq,
		len(a.Data),
		strconv.Quote(a.Data),
	)

	if _, err := fmt.Fprintln(e.writer, line); err != nil {
		return err
	}

	if e.showDetail {
		if err := e.exportDetail(a); err != nil {
			return err
		}
	}
	if e.showHex {
		if err := e.exportHexDump(a); err != nil {
			return err
		}
	}
	return nil
}

// AttemptJSON is the JSON form of an attempt.
type AttemptJSON struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
	Service   string `json:"service,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Seq       int    `json:"seq"`
	Data      string `json:"data"`
	UserAgent string `json:"user_agent,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

func (e *Exporter) exportJSON(a *model.ConnectionAttempt) error {
	entry := AttemptJSON{
		ID:        a.ID,
		Timestamp: a.Timestamp.UTC().Format(time.RFC3339Nano),
		IPAddress: a.IPAddress,
		Port:      a.Port,
		Service:   banner.Service(a.Port),
		SessionID: a.SessionID,
		Seq:       a.Seq,
		Data:      a.Data,
		UserAgent: a.UserAgent,
	}
	if e.showDetail {
		entry.Kind = classify.Payload([]byte(a.Data)).String()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Handle JSON array formatting
	if e.firstEntry {
		e.firstEntry = false
		_, err = fmt.Fprintf(e.writer, "  %s", data)
	} else {
		_, err = fmt.Fprintf(e.writer, ",\n  %s", data)
	}
	return err
}

func (e *Exporter) exportCSV(a *model.ConnectionAttempt) error {
	return e.csv.Write([]string{
		strconv.FormatInt(a.ID, 10),
		a.Timestamp.UTC().Format(time.RFC3339),
		a.IPAddress,
		strconv.Itoa(a.Port),
		banner.Service(a.Port),
		a.SessionID,
		strconv.Itoa(a.Seq),
		a.Data,
		a.UserAgent,
	})
}

// exportDetail exports attempt detail (for -V)
func (e *Exporter) exportDetail(a *model.ConnectionAttempt) error {
	fmt.Fprintf(e.writer, "\nAttempt %d: %d bytes from %s\n", a.ID, len(a.Data), a.IPAddress)
	fmt.Fprintf(e.writer, "    Arrival Time: %s\n", a.Timestamp.UTC().Format("2006-01-02 15:04:05.000000"))
	if a.SessionID != "" {
		fmt.Fprintf(e.writer, "    Session: %s (snapshot %d)\n", a.SessionID, a.Seq)
	}
	fmt.Fprintf(e.writer, "    Payload: %s\n", classify.Payload([]byte(a.Data)))
	_, err := fmt.Fprintln(e.writer)
	return err
}

// exportHexDump exports hex dump (for -x)
func (e *Exporter) exportHexDump(a *model.ConnectionAttempt) error {
	data := []byte(a.Data)
	fmt.Fprintf(e.writer, "\nHex dump of attempt %d (%d bytes):\n", a.ID, len(data))

	bytesPerLine := 16
	for i := 0; i < len(data); i += bytesPerLine {
		// Offset
		fmt.Fprintf(e.writer, "%08x  ", i)

		// Hex bytes
		for j := 0; j < bytesPerLine; j++ {
			if i+j < len(data) {
				fmt.Fprintf(e.writer, "%02x ", data[i+j])
			} else {
				fmt.Fprint(e.writer, "   ")
			}
			if j == 7 {
				fmt.Fprint(e.writer, " ")
			}
		}

		// ASCII
		fmt.Fprint(e.writer, " |")
		for j := 0; j < bytesPerLine && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b <= 126 {
				fmt.Fprintf(e.writer, "%c", b)
			} else {
				fmt.Fprint(e.writer, ".")
			}
		}
		fmt.Fprintln(e.writer, "|")
	}

	_, err := fmt.Fprintln(e.writer)
	return err
}
