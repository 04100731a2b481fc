// Package logging builds the honeypot's diagnostic sink: leveled, timestamped
// lines written to the console and, optionally, to a size-rotated file.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config contains logger configuration.
type Config struct {
	// Level sets the logging level (trace, debug, info, warn, error).
	Level string
	// Pretty enables colored console output.
	Pretty bool
	// Output sets the console writer (defaults to os.Stdout).
	Output io.Writer
	// File configures the rotated log file. An empty Path disables it.
	File FileConfig
}

// FileConfig controls the rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int // Rotate after this many megabytes
	MaxBackups int // Rotated files to keep
	MaxAgeDays int // 0 keeps rotated files regardless of age
	Compress   bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: true,
		Output: os.Stdout,
		File: FileConfig{
			Path:       "logs/honeypot.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// New creates a zerolog logger with the given configuration. The rotated
// file, if any, stays open for the life of the process; use Setup when the
// caller needs to close it.
func New(cfg Config) zerolog.Logger {
	logger, _ := Setup(cfg)
	return logger
}

// Setup creates the logger and returns a closer for the rotated file. The
// closer is a no-op when file output is disabled.
func Setup(cfg Config) (zerolog.Logger, io.Closer) {
	// Set global time format
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	console := output
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if cfg.File.Path != "" {
		rotator := NewRotatingFile(cfg.File)
		closer = rotator
		writer = zerolog.MultiLevelWriter(console, zerolog.ConsoleWriter{
			Out:        rotator,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger(), closer
}

// NewRotatingFile returns a writer that rotates the file at cfg.Path once it
// grows past cfg.MaxSizeMB.
func NewRotatingFile(cfg FileConfig) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// Component derives a child logger tagged with component.
func Component(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
