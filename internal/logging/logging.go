package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects where and how log records are written.
type Options struct {
	// Service is attached to every record as the "service" attribute.
	Service string
	Level   string
	// Format is "json" (default) or "text".
	Format string
	// File, when set, receives a copy of everything written to stderr.
	File string
}

// New builds the process logger from opts and installs it as the slog
// default. The returned cleanup func closes the log file if one was opened;
// callers must defer it.
func New(opts Options) (*slog.Logger, func(), error) {
	return newLogger(os.Stderr, opts)
}

func newLogger(stderr io.Writer, opts Options) (*slog.Logger, func(), error) {
	newHandler, err := handlerFor(opts.Format)
	if err != nil {
		return nil, nil, err
	}

	w := stderr
	cleanup := func() {}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(stderr, f)
		cleanup = func() { _ = f.Close() }
	}

	logger := slog.New(newHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)}))
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

func handlerFor(format string) (func(io.Writer, *slog.HandlerOptions) slog.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewJSONHandler(w, o) }, nil
	case "text":
		return func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewTextHandler(w, o) }, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps debug, warn and error to their slog levels; anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
