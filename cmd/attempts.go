package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/honeypot/export"
	"github.com/Zerofisher/honeypot/filter"
	"github.com/Zerofisher/honeypot/internal/report"
	"github.com/Zerofisher/honeypot/pkg/model"
	"github.com/Zerofisher/honeypot/pkg/query"
)

// attempts command flags
var attemptsDBPath string

var attemptsCmd = &cobra.Command{
	Use:     "attempts",
	Short:   "Inspect recorded connection attempts",
	Long:    `Query the attempt database written by "honeypot serve".`,
	GroupID: "data",
}

// list subcommand flags
var (
	listFilter  string
	listIP      string
	listPort    int
	listSession string
	listSince   time.Duration
	listCount   int
	listLatest  bool
	listFormat  string
	listSort    string
	listDesc    bool
	listVerbose bool
	listHex     bool
)

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded attempts",
	Long: `List recorded attempts. Each session stores one row per capture step,
every row holding the whole payload so far; --latest keeps only the final
row of each session.

Filter expressions can use: id, ip, port, service, data, user_agent,
session, seq, unix, hour, date, empty.`,
	Example: `  honeypot attempts list
  honeypot attempts list --latest -c 50
  honeypot attempts list --port 22 --since 24h
  honeypot attempts list -Y 'data contains "admin" && port in {80, 443}'
  honeypot attempts list -T csv > attempts.csv
  honeypot attempts list --session 6f1c... -V -x`,
	Aliases: []string{"ls"},
	RunE:    runAttemptsList,
}

// stats subcommand flags
var (
	statsTop      int
	statsInterval time.Duration
	statsFormat   string
)

var attemptsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded attempts",
	Long:  `Show totals, per-port counts, top sources, payload kinds and activity over time.`,
	Example: `  honeypot attempts stats
  honeypot attempts stats --top 20 --interval 24h
  honeypot attempts stats -T markdown > report.md`,
	RunE: runAttemptsStats,
}

func init() {
	// Persistent flags for attempts command (inherited by all subcommands)
	attemptsCmd.PersistentFlags().StringVar(&attemptsDBPath, "db", "honeypot.db",
		"SQLite database path")

	// list flags
	attemptsListCmd.Flags().StringVarP(&listFilter, "filter", "Y", "", "Filter expression")
	attemptsListCmd.Flags().StringVar(&listIP, "ip", "", "Only attempts from this address")
	attemptsListCmd.Flags().IntVar(&listPort, "port", 0, "Only attempts on this port")
	attemptsListCmd.Flags().StringVar(&listSession, "session", "", "Only rows of this session")
	attemptsListCmd.Flags().DurationVar(&listSince, "since", 0, "Only attempts newer than this (e.g. 24h)")
	attemptsListCmd.Flags().IntVarP(&listCount, "count", "c", 0, "Stop after n attempts (0 = unlimited)")
	attemptsListCmd.Flags().BoolVarP(&listLatest, "latest", "L", false, "Only the final row of each session")
	attemptsListCmd.Flags().StringVarP(&listFormat, "format", "T", "text", "Output format: text, json, csv")
	attemptsListCmd.Flags().StringVar(&listSort, "sort", "id", "Sort by: id, timestamp, port, ip, seq")
	attemptsListCmd.Flags().BoolVar(&listDesc, "desc", false, "Sort descending")
	attemptsListCmd.Flags().BoolVarP(&listVerbose, "verbose", "V", false, "Show attempt details")
	attemptsListCmd.Flags().BoolVarP(&listHex, "hex", "x", false, "Show hex dump of the payload")

	// stats flags
	attemptsStatsCmd.Flags().IntVar(&statsTop, "top", 10, "Number of top sources")
	attemptsStatsCmd.Flags().DurationVar(&statsInterval, "interval", time.Hour, "Activity interval")
	attemptsStatsCmd.Flags().StringVarP(&statsFormat, "format", "T", "text", "Output format: text, markdown, json")

	attemptsCmd.AddCommand(attemptsListCmd)
	attemptsCmd.AddCommand(attemptsStatsCmd)
}

func openEngine() (*query.SQLiteEngine, error) {
	if _, err := os.Stat(attemptsDBPath); err != nil {
		return nil, fmt.Errorf("database not found: %s", attemptsDBPath)
	}
	return query.Open(attemptsDBPath)
}

// runAttemptsList prints attempts
func runAttemptsList(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(listFormat)
	if err != nil {
		return err
	}
	compiled, err := filter.Compile(listFilter)
	if err != nil {
		return fmt.Errorf("error compiling filter: %w", err)
	}

	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	qf := query.AttemptFilter{
		IP:        listIP,
		Port:      listPort,
		SessionID: listSession,
		SortBy:    listSort,
	}
	if listDesc {
		qf.SortOrder = "desc"
	}
	if listSince > 0 {
		qf.StartTime = time.Now().Add(-listSince)
	}
	// The expression filter runs after the query, so only push the
	// limit down when there is none.
	if listFilter == "" {
		qf.Limit = listCount
	}

	ctx := context.Background()
	var attempts []*model.ConnectionAttempt
	if listLatest {
		attempts, err = engine.GetSessions(ctx, qf)
	} else {
		attempts, err = engine.GetAttempts(ctx, qf)
	}
	if err != nil {
		return err
	}

	exporter := export.NewExporter(os.Stdout, format)
	exporter.SetMaxCount(listCount)
	exporter.SetShowDetail(listVerbose)
	exporter.SetShowHex(listHex)
	return exporter.ExportAll(compiled.Apply(attempts))
}

// runAttemptsStats prints the summary report
func runAttemptsStats(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	data, err := report.Generate(context.Background(), engine, report.Options{
		Top:      statsTop,
		Interval: statsInterval,
	})
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	data.DBPath = attemptsDBPath

	switch statsFormat {
	case "text":
		return report.WriteText(os.Stdout, data)
	case "markdown", "md":
		return report.WriteMarkdown(os.Stdout, data)
	case "json":
		return report.WriteJSON(os.Stdout, data)
	default:
		return fmt.Errorf("unknown format: %s", statsFormat)
	}
}
