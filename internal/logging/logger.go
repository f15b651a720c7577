// Package logging builds the structured loggers used throughout the
// profiler's control-plane code (orchestrator, diagport, cmd/ultra).
// The sampler logs its non-fatal per-tick failures through the
// zerolog.Logger it is constructed with.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how loggers are built.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Pretty enables a human-readable colored console writer,
	// suitable for interactive CLI use. When false, output is
	// newline-delimited JSON, suitable for piping to a log
	// collector.
	Pretty bool
	// Output is the underlying writer. Defaults to os.Stderr so
	// stdout stays free for the CLI's own summary output.
	Output io.Writer
}

// DefaultConfig returns the configuration used by cmd/ultra.
func DefaultConfig() Config {
	return Config{Level: "info", Pretty: true, Output: os.Stderr}
}

// New builds a root logger from cfg.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field,
// so log lines from the sampler, the session manager, and the
// converter can be told apart.
func Component(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
