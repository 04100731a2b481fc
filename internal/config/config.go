// Package config loads honeypot settings from defaults, an optional YAML
// file and HONEYPOT_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/honeypot"
	"github.com/Zerofisher/honeypot/internal/logging"
)

// Config holds every setting of the serve command.
type Config struct {
	// Listener set
	Host  string `yaml:"host"`
	Ports []int  `yaml:"ports"`

	// Record store
	DBPath string `yaml:"db_path"`

	// Session timeouts
	InitialTimeout     time.Duration `yaml:"initial_timeout"`
	ExtendedTimeout    time.Duration `yaml:"extended_timeout"`
	MaxSessionDuration time.Duration `yaml:"max_session_duration"` // 0 = no cap
	ReadBufferSize     int           `yaml:"read_buffer_size"`

	// Admission
	MaxConnections        int `yaml:"max_connections"`
	MaxConnectionsPerPort int `yaml:"max_connections_per_port"` // 0 = no per-port cap

	// Listener supervision
	ListenerRetries int           `yaml:"listener_retries"`
	ListenerBackoff time.Duration `yaml:"listener_backoff"`

	// Metrics and health endpoint; empty disables it
	MetricsAddr string `yaml:"metrics_addr"`

	Log LogConfig `yaml:"log"`
}

// LogConfig configures the diagnostic sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	File       string `yaml:"file"` // empty disables the rotated file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	session := honeypot.DefaultSessionConfig()
	log := logging.DefaultConfig()
	return &Config{
		Host:                  "0.0.0.0",
		Ports:                 banner.DefaultPorts(),
		DBPath:                "honeypot.db",
		InitialTimeout:        session.InitialTimeout,
		ExtendedTimeout:       session.ExtendedTimeout,
		MaxSessionDuration:    session.MaxSessionDuration,
		ReadBufferSize:        session.ReadBufferSize,
		MaxConnections:        512,
		MaxConnectionsPerPort: 128,
		ListenerRetries:       5,
		ListenerBackoff:       time.Second,
		Log: LogConfig{
			Level:      log.Level,
			Pretty:     log.Pretty,
			File:       log.File.Path,
			MaxSizeMB:  log.File.MaxSizeMB,
			MaxBackups: log.File.MaxBackups,
			MaxAgeDays: log.File.MaxAgeDays,
			Compress:   log.File.Compress,
		},
	}
}

// Load returns Default overlaid with the YAML file at path (if path is not
// empty) and then with environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Host = getEnv("HONEYPOT_HOST", c.Host)
	c.DBPath = getEnv("HONEYPOT_DB", c.DBPath)
	c.MetricsAddr = getEnv("HONEYPOT_METRICS_ADDR", c.MetricsAddr)
	c.Log.Level = getEnv("HONEYPOT_LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvBool("HONEYPOT_LOG_PRETTY", c.Log.Pretty)
	c.MaxConnections = getEnvInt("HONEYPOT_MAX_CONNECTIONS", c.MaxConnections)

	if v := os.Getenv("HONEYPOT_PORTS"); v != "" {
		ports, err := ParsePorts(v)
		if err != nil {
			return fmt.Errorf("HONEYPOT_PORTS: %w", err)
		}
		c.Ports = ports
	}
	return nil
}

// ParsePorts parses a comma-separated port list such as "21,22,80".
func ParsePorts(s string) ([]int, error) {
	var ports []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		p, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", field)
		}
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return nil, errors.New("no ports given")
	}
	return ports, nil
}

// DedupePorts removes repeated ports, keeping first occurrences in order,
// and returns the duplicates it dropped.
func (c *Config) DedupePorts() []int {
	seen := make(map[int]bool, len(c.Ports))
	kept := c.Ports[:0]
	var dups []int
	for _, p := range c.Ports {
		if seen[p] {
			dups = append(dups, p)
			continue
		}
		seen[p] = true
		kept = append(kept, p)
	}
	c.Ports = kept
	return dups
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Ports) == 0 {
		errs = append(errs, errors.New("at least one port is required"))
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("port %d out of range 1-65535", p))
		}
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.InitialTimeout <= 0 {
		errs = append(errs, errors.New("initial_timeout must be positive"))
	}
	if c.ExtendedTimeout <= 0 {
		errs = append(errs, errors.New("extended_timeout must be positive"))
	}
	if c.MaxSessionDuration < 0 {
		errs = append(errs, errors.New("max_session_duration must not be negative"))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("read_buffer_size must be positive"))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("max_connections must be positive"))
	}
	if c.MaxConnectionsPerPort < 0 {
		errs = append(errs, errors.New("max_connections_per_port must not be negative"))
	}
	if c.ListenerRetries < 1 {
		errs = append(errs, errors.New("listener_retries must be at least 1"))
	}

	return errors.Join(errs...)
}

// SortedPorts returns a sorted copy of the configured ports.
func (c *Config) SortedPorts() []int {
	ports := append([]int(nil), c.Ports...)
	sort.Ints(ports)
	return ports
}

// Session returns the capture timeouts for honeypot sessions.
func (c *Config) Session() honeypot.SessionConfig {
	return honeypot.SessionConfig{
		InitialTimeout:     c.InitialTimeout,
		ExtendedTimeout:    c.ExtendedTimeout,
		MaxSessionDuration: c.MaxSessionDuration,
		ReadBufferSize:     c.ReadBufferSize,
	}
}

// Logging converts the log section into a logging.Config.
func (c *Config) Logging(out io.Writer) logging.Config {
	return logging.Config{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		Output: out,
		File: logging.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}
