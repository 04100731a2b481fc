// Package cmd provides the CLI commands for honeypot using Cobra.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "honeypot",
	Short: "Multi-port TCP honeypot",
	Long: `Honeypot listens on a set of TCP ports, greets every client with a
plausible service banner, and records whatever the client sends.

  - FTP, SSH, Telnet, HTTP, HTTPS, MySQL and PostgreSQL greetings
  - Every connection recorded in SQLite, including silent ones
  - Leveled console and rotated file logging
  - Prometheus metrics and health probes

Examples:
  honeypot serve                                   # Default ports, honeypot.db
  honeypot serve --ports 2222,8080 --db /tmp/h.db  # Custom ports
  honeypot attempts list --latest -c 20            # Last capture of each session
  honeypot attempts list -Y 'service == "ssh"'     # Filter with an expression
  honeypot attempts stats                          # Summary report
  honeypot banners                                 # Show the response table`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(attemptsCmd)
	rootCmd.AddCommand(bannersCmd)
	rootCmd.AddCommand(configCmd)
}
