package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Loggers splits informational and error output so they can be routed to
// different sinks.
type Loggers struct {
	InfoLogger  *slog.Logger
	ErrorLogger *slog.Logger
}

func SetupLogger(level string) (*Loggers, error) {
	return newLoggers(level, os.Stdout, os.Stderr)
}

// NewNop returns loggers that discard everything. Used by tests.
func NewNop() *Loggers {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Loggers{InfoLogger: l, ErrorLogger: l}
}

func newLoggers(level string, info, errs io.Writer) (*Loggers, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}

	return &Loggers{
		InfoLogger:  slog.New(slog.NewJSONHandler(info, opts)),
		ErrorLogger: slog.New(slog.NewJSONHandler(errs, &slog.HandlerOptions{Level: slog.LevelWarn, AddSource: true})),
	}, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
