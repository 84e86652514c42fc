// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the structured logger shared by every command.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/via-fydp/Basestation-SW/internal/config"
)

// Logger wraps slog.Logger with the basestation default fields and an
// optional log file.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates a logger from the logging configuration.
//
// Output is "stdout", "stderr" or "none". When cfg.File is set, records are
// also appended to that file.
func New(cfg config.LoggingConfig, version string) (*Logger, error) {
	var writers []io.Writer
	switch strings.ToLower(cfg.Output) {
	case "none":
	case "stdout":
		writers = append(writers, os.Stdout)
	default:
		writers = append(writers, os.Stderr)
	}

	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}

	var output io.Writer
	switch len(writers) {
	case 0:
		output = io.Discard
	case 1:
		output = writers[0]
	default:
		output = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "basestation"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
		file:   file,
	}, nil
}

// parseLevel converts a level name to slog.Level, defaulting to info
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child logger with additional attributes.
// The child shares the parent's log file; only the parent should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Default creates a text logger on stderr for use before configuration is
// loaded.
func Default() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", "basestation"),
	}
}
