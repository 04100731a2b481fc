// Package report builds the attempts summary shown by "attempts stats".
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/pkg/model"
	"github.com/Zerofisher/honeypot/pkg/query"
	"github.com/Zerofisher/honeypot/stats"
)

// Data holds all data for report generation.
type Data struct {
	// Meta
	GeneratedAt time.Time `json:"generated_at"`
	DBPath      string    `json:"db_path,omitempty"`

	Overview   *model.Overview   `json:"overview"`
	PortStats  []*model.PortStat `json:"ports"`
	TopSources []*model.Source   `json:"top_sources"`

	// Derived from the latest row of every session
	Kinds    []*stats.KindStat `json:"kinds"`
	Activity []*stats.Bucket   `json:"activity"`
}

// Options tunes Generate.
type Options struct {
	Top      int           // top sources to include (default 10)
	Interval time.Duration // activity bucket size (default 1h)
}

// Generate creates a report from the query engine.
func Generate(ctx context.Context, engine query.QueryEngine, opts Options) (*Data, error) {
	if opts.Top <= 0 {
		opts.Top = 10
	}

	report := &Data{GeneratedAt: time.Now()}

	var err error
	report.Overview, err = engine.GetOverview(ctx)
	if err != nil {
		return nil, fmt.Errorf("get overview: %w", err)
	}

	report.PortStats, err = engine.GetPortStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get port stats: %w", err)
	}

	report.TopSources, err = engine.GetTopSources(ctx, opts.Top)
	if err != nil {
		return nil, fmt.Errorf("get top sources: %w", err)
	}

	sessions, err := engine.GetSessions(ctx, query.AttemptFilter{SortBy: "timestamp", SortOrder: "asc"})
	if err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}
	mgr := stats.NewManager()
	mgr.SetBucketSize(opts.Interval)
	for _, s := range sessions {
		mgr.ProcessAttempt(s)
	}
	report.Kinds = mgr.Kinds()
	report.Activity = mgr.Activity()

	return report, nil
}

// WriteText renders the report as plain-text tables.
func WriteText(w io.Writer, d *Data) error {
	ov := d.Overview
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Honeypot Summary")
	fmt.Fprintln(w, "================================================================================")
	if d.DBPath != "" {
		fmt.Fprintf(w, "Database:        %s\n", d.DBPath)
	}
	fmt.Fprintf(w, "Sessions:        %d (%d silent)\n", ov.TotalSessions, ov.SilentSessions)
	fmt.Fprintf(w, "Rows:            %d\n", ov.TotalRows)
	fmt.Fprintf(w, "Unique sources:  %d\n", ov.UniqueSources)
	if !ov.FirstSeen.IsZero() {
		fmt.Fprintf(w, "First seen:      %s\n", ov.FirstSeen.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Last seen:       %s\n", ov.LastSeen.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Ports")
	fmt.Fprintf(w, "%-16s %10s %10s %8s\n", "Port", "Sessions", "Rows", "Share")
	for _, p := range d.PortStats {
		fmt.Fprintf(w, "%-16s %10d %10d %7.1f%%\n", banner.FormatPort(p.Port), p.Sessions, p.Rows, p.Percent)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Top Sources")
	fmt.Fprintf(w, "%-40s %10s %6s  %-20s %-20s\n", "Address", "Sessions", "Ports", "First Seen", "Last Seen")
	for _, s := range d.TopSources {
		fmt.Fprintf(w, "%-40s %10d %6d  %-20s %-20s\n",
			stats.Truncate(s.IPAddress, 40),
			s.Sessions,
			s.Ports,
			s.FirstSeen.UTC().Format("2006-01-02 15:04:05"),
			s.LastSeen.UTC().Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Payload Kinds")
	fmt.Fprintf(w, "%-10s %10s %12s  %s\n", "Kind", "Sessions", "Bytes", "Example")
	for _, k := range d.Kinds {
		fmt.Fprintf(w, "%-10s %10d %12s  %s\n", k.Kind, k.Sessions, stats.FormatBytes(k.Bytes), stats.Truncate(k.Example, 40))
	}
	_, err := fmt.Fprintln(w, "================================================================================")
	return err
}

// WriteMarkdown renders the report as Markdown.
func WriteMarkdown(w io.Writer, d *Data) error {
	ov := d.Overview
	fmt.Fprintf(w, "# Honeypot Report\n\n")
	fmt.Fprintf(w, "Generated %s\n\n", d.GeneratedAt.UTC().Format(time.RFC3339))

	fmt.Fprintf(w, "## Overview\n\n")
	fmt.Fprintf(w, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(w, "| Sessions | %d |\n", ov.TotalSessions)
	fmt.Fprintf(w, "| Silent sessions | %d |\n", ov.SilentSessions)
	fmt.Fprintf(w, "| Rows | %d |\n", ov.TotalRows)
	fmt.Fprintf(w, "| Unique sources | %d |\n\n", ov.UniqueSources)

	fmt.Fprintf(w, "## Ports\n\n| Port | Service | Sessions | Share |\n|---|---|---|---|\n")
	for _, p := range d.PortStats {
		fmt.Fprintf(w, "| %d | %s | %d | %.1f%% |\n", p.Port, p.Service, p.Sessions, p.Percent)
	}

	fmt.Fprintf(w, "\n## Top Sources\n\n| Address | Sessions | Ports |\n|---|---|---|\n")
	for _, s := range d.TopSources {
		fmt.Fprintf(w, "| %s | %d | %d |\n", s.IPAddress, s.Sessions, s.Ports)
	}

	fmt.Fprintf(w, "\n## Payload Kinds\n\n| Kind | Sessions | Bytes |\n|---|---|---|\n")
	for _, k := range d.Kinds {
		fmt.Fprintf(w, "| %s | %d | %d |\n", k.Kind, k.Sessions, k.Bytes)
	}
	_, err := fmt.Fprintln(w)
	return err
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, d *Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
