package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/honeypot/honeypot"
	"github.com/Zerofisher/honeypot/internal/config"
	"github.com/Zerofisher/honeypot/internal/logging"
	"github.com/Zerofisher/honeypot/internal/metrics"
	"github.com/Zerofisher/honeypot/pkg/store/sqlite"
)

// serve command flags
var (
	serveConfigFile  string
	serveHost        string
	servePorts       []int
	serveDBPath      string
	serveMetricsAddr string
	serveLogLevel    string
	serveLogFile     string
	serveMaxSession  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the honeypot listeners",
	Long: `Open a listener on every configured port, send each client the port's
banner, and record what it sends. Runs until SIGINT or SIGTERM.

Settings are read from defaults, then --config, then HONEYPOT_* environment
variables, then flags.`,
	Example: `  honeypot serve
  honeypot serve --config /etc/honeypot.yaml
  honeypot serve --host 127.0.0.1 --ports 2121,2222 --db /tmp/honeypot.db
  honeypot serve --metrics-addr :9100 --log-level debug`,
	GroupID:      "server",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "YAML configuration file")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Address to bind (default 0.0.0.0)")
	serveCmd.Flags().IntSliceVarP(&servePorts, "ports", "p", nil, "Ports to listen on (default 21,22,23,80,443,3306,5432)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "SQLite database path (default honeypot.db)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve /metrics, /health and /ready on this address")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Rotated log file (empty string disables)")
	serveCmd.Flags().DurationVar(&serveMaxSession, "max-session", 0, "Cap on a single session's duration (0 = none)")
}

// loadServeConfig layers flags that were set explicitly over config.Load.
func loadServeConfig(cmd *cobra.Command) (*config.Config, []int, error) {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = serveHost
	}
	if flags.Changed("ports") {
		cfg.Ports = servePorts
	}
	if flags.Changed("db") {
		cfg.DBPath = serveDBPath
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = serveMetricsAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = serveLogLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = serveLogFile
	}
	if flags.Changed("max-session") {
		cfg.MaxSessionDuration = serveMaxSession
	}

	dups := cfg.DedupePorts()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, dups, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dups, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	log, logCloser := logging.Setup(cfg.Logging(os.Stdout))
	defer logCloser.Close()
	if len(dups) > 0 {
		log.Warn().Ints("ports", dups).Msg("Duplicate ports ignored")
	}

	m := metrics.New()
	storeLog := logging.Component(log, "store")
	st, err := sqlite.New(sqlite.Config{
		DBPath:       cfg.DBPath,
		WAL:          true,
		Logger:       &storeLog,
		OnWriteError: func(error) { m.StoreError() },
	})
	if err != nil {
		log.Error().Err(err).Str("db", cfg.DBPath).Msg("Failed to open database")
		return err
	}
	log.Info().Str("db", st.Path()).Msg("Database ready")

	sup := honeypot.NewSupervisor(honeypot.Config{
		Host:                  cfg.Host,
		Ports:                 cfg.Ports,
		Session:               cfg.Session(),
		MaxConnections:        cfg.MaxConnections,
		MaxConnectionsPerPort: cfg.MaxConnectionsPerPort,
		ListenerRetries:       cfg.ListenerRetries,
		ListenerBackoff:       cfg.ListenerBackoff,
	}, st, log, m)

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m, logging.Component(log, "metrics"))
		if err := srv.Start(); err != nil {
			st.Close()
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(ctx)
		}()

		var ready sync.Once
		sup.OnListen = func(int, net.Addr) {
			ready.Do(func() { srv.SetReady(true) })
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sup.Stop()
	}()

	err = sup.Start(ctx)
	sup.Stop()
	log.Info().Msg("Honeypot stopped")
	return err
}
