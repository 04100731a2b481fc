// Package stats aggregates captured sessions by payload kind and over time.
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Zerofisher/honeypot/classify"
	"github.com/Zerofisher/honeypot/pkg/model"
)

// Manager collects statistics over the authoritative row of each session.
type Manager struct {
	kinds        map[classify.Kind]*KindStat
	buckets      map[int64]*Bucket
	bucketSize   time.Duration
	totalSession int
	totalBytes   int64
}

// KindStat counts sessions whose payload classified as Kind.
type KindStat struct {
	Kind     classify.Kind `json:"kind"`
	Sessions int           `json:"sessions"`
	Bytes    int64         `json:"bytes"`
	Example  string        `json:"example,omitempty"` // first detail seen
}

// Bucket counts sessions that started within one interval.
type Bucket struct {
	Timestamp time.Time `json:"timestamp"`
	Sessions  int       `json:"sessions"`
	Bytes     int64     `json:"bytes"`
}

// NewManager creates a new statistics manager with hourly buckets.
func NewManager() *Manager {
	return &Manager{
		kinds:      make(map[classify.Kind]*KindStat),
		buckets:    make(map[int64]*Bucket),
		bucketSize: time.Hour,
	}
}

// SetBucketSize sets the activity interval.
func (m *Manager) SetBucketSize(d time.Duration) {
	if d > 0 {
		m.bucketSize = d
	}
}

// ProcessAttempt adds one session. Pass only the latest row of each
// session, or a session is counted once per snapshot.
func (m *Manager) ProcessAttempt(a *model.ConnectionAttempt) {
	m.totalSession++
	size := int64(len(a.Data))
	m.totalBytes += size

	r := classify.Payload([]byte(a.Data))
	ks, ok := m.kinds[r.Kind]
	if !ok {
		ks = &KindStat{Kind: r.Kind, Example: r.Detail}
		m.kinds[r.Kind] = ks
	}
	ks.Sessions++
	ks.Bytes += size

	if a.Timestamp.IsZero() {
		return
	}
	start := a.Timestamp.Truncate(m.bucketSize)
	b, ok := m.buckets[start.Unix()]
	if !ok {
		b = &Bucket{Timestamp: start}
		m.buckets[start.Unix()] = b
	}
	b.Sessions++
	b.Bytes += size
}

// Sessions returns the number of sessions processed.
func (m *Manager) Sessions() int { return m.totalSession }

// Kinds returns per-kind counts, busiest first.
func (m *Manager) Kinds() []*KindStat {
	out := make([]*KindStat, 0, len(m.kinds))
	for _, k := range m.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sessions != out[j].Sessions {
			return out[i].Sessions > out[j].Sessions
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Activity returns the non-empty buckets in time order.
func (m *Manager) Activity() []*Bucket {
	out := make([]*Bucket, 0, len(m.buckets))
	for _, b := range m.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// PrintKinds writes the payload kind table to w.
func (m *Manager) PrintKinds(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Payload Kinds")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-10s %10s %8s %12s  %s\n", "Kind", "Sessions", "Share", "Bytes", "Example")

	for _, k := range m.Kinds() {
		share := 0.0
		if m.totalSession > 0 {
			share = float64(k.Sessions) * 100 / float64(m.totalSession)
		}
		fmt.Fprintf(w, "%-10s %10d %7.1f%% %12s  %s\n",
			k.Kind,
			k.Sessions,
			share,
			FormatBytes(k.Bytes),
			Truncate(k.Example, 36),
		)
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintActivity writes the per-interval session counts to w.
func (m *Manager) PrintActivity(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "Activity (interval: %s)\n", FormatDuration(m.bucketSize))
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-20s %10s %12s  %s\n", "Interval Start", "Sessions", "Bytes", "")

	buckets := m.Activity()
	peak := 0
	for _, b := range buckets {
		if b.Sessions > peak {
			peak = b.Sessions
		}
	}
	for _, b := range buckets {
		bar := ""
		if peak > 0 {
			bar = strings.Repeat("#", (b.Sessions*30+peak-1)/peak)
		}
		fmt.Fprintf(w, "%-20s %10d %12s  %s\n",
			b.Timestamp.UTC().Format("2006-01-02 15:04"),
			b.Sessions,
			FormatBytes(b.Bytes),
			bar,
		)
	}
	fmt.Fprintln(w, "================================================================================")
}

// FormatBytes renders b with a binary unit suffix.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders d compactly (500ms, 2.50s, 1.5m, 2.0h).
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// Truncate shortens s to at most maxLen bytes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
