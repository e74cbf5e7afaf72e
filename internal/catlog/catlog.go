// Package catlog configures the engine's structured logging. Loggers
// are scoped with a "component" field via Component (the orchestrator
// uses "orchestrator-sender" and "orchestrator-receiver") rather than
// a global logger,
// so log lines are attributable even when several subsystems are
// running concurrently for the same transfer task.
package catlog

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the engine logs.
type Config struct {
	Path       string // empty means log to stderr, no rotation
	Level      string // debug, info, warn, error
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns sensible defaults for an engine embedded in a
// front-end process: stderr output at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  20,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// New builds the engine's root logger from cfg. Call Component on the
// result to scope a logger to a specific subsystem.
func New(cfg Config) (zerolog.Logger, error) {
	writer, err := buildWriter(cfg)
	if err != nil {
		return zerolog.Logger{}, err
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger(), nil
}

func buildWriter(cfg Config) (io.Writer, error) {
	if cfg.Path == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, nil
}

// Component scopes logger to a named subsystem, the engine's
// convention for attributing log lines (orchestrator-sender,
// orchestrator-receiver; the transfer server logs through the
// sender's logger).
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
