// Package model defines the records the honeypot persists.
// These are storage-friendly structs shared by the store, query and export layers.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ────────────────────────────────────────────────────────────────────────────────
// ConnectionAttempt
// ────────────────────────────────────────────────────────────────────────────────

// ConnectionAttempt is one persisted snapshot of a captured connection.
//
// Rows are append-only. Every chunk received on a connection produces a new row
// whose Data is the entire buffer accumulated so far, so rows sharing a
// SessionID form a chain ordered by Seq in which each Data extends the
// previous one. The row with the highest Seq is authoritative for its session.
type ConnectionAttempt struct {
	ID        int64     `json:"id"`                   // Store-assigned, monotonic
	Timestamp time.Time `json:"timestamp"`            // Store-assigned when zero
	IPAddress string    `json:"ip_address"`           // Remote peer host, not validated
	Port      int       `json:"port"`                 // Local port contacted
	Data      string    `json:"data"`                 // Accumulated text received so far
	UserAgent string    `json:"user_agent,omitempty"` // Part of the schema, unused by capture

	// Session linkage
	SessionID string `json:"session_id,omitempty"` // Shared by all rows of one connection
	Seq       int    `json:"seq"`                  // 0 for the initial capture, then 1, 2, ...
}

// Supersedes reports whether a is a later snapshot of the same session as b.
func (a *ConnectionAttempt) Supersedes(b *ConnectionAttempt) bool {
	return a.SessionID != "" && a.SessionID == b.SessionID && a.Seq > b.Seq &&
		strings.HasPrefix(a.Data, b.Data)
}

// DecodeText converts received bytes to text permissively: invalid UTF-8
// sequences are replaced, never rejected.
func DecodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// TextDecoder decodes a byte stream chunk by chunk so that the text only ever
// grows by appending. A multibyte sequence cut off at the end of a chunk is
// held back until the next chunk completes it, and dropped if none does.
type TextDecoder struct {
	pending []byte
}

// Write decodes chunk and returns the text to append.
func (d *TextDecoder) Write(chunk []byte) string {
	b := append(d.pending, chunk...)
	n := incompleteTail(b)
	d.pending = append([]byte(nil), b[len(b)-n:]...)
	return DecodeText(b[:len(b)-n])
}

// incompleteTail returns the length of a truncated but otherwise valid
// UTF-8 sequence at the end of b.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return 0
		}
		return i
	}
	return 0
}

// ────────────────────────────────────────────────────────────────────────────────
// Aggregates
// ────────────────────────────────────────────────────────────────────────────────

// PortStat holds per-port attempt counts.
type PortStat struct {
	Port     int     `json:"port"`
	Service  string  `json:"service,omitempty"`
	Sessions int     `json:"sessions"`
	Rows     int     `json:"rows"`
	Percent  float64 `json:"percent"`
}

// Source represents a remote address with high activity.
type Source struct {
	IPAddress string    `json:"ip_address"`
	Sessions  int       `json:"sessions"`
	Ports     int       `json:"ports"` // Distinct ports contacted
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Overview provides high-level summary information over the whole store.
type Overview struct {
	TotalRows      int       `json:"total_rows"`
	TotalSessions  int       `json:"total_sessions"`
	UniqueSources  int       `json:"unique_sources"`
	SilentSessions int       `json:"silent_sessions"` // Sessions that never sent data
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}
