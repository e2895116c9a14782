// Package logging builds the loggers shared by taskmirror components.
//
// Every long-lived component takes a *log.Logger and tags its lines with a
// bracketed prefix ("[sync]", "[connectivity]", ...). When a log file is
// configured, output is duplicated to a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// File, when set, receives a copy of every line and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Writer overrides stderr as the console destination.
	Writer io.Writer
}

// New creates the root logger. The returned closer releases the log file and
// must be called on shutdown; it is a no-op when no file is configured.
func New(opts Options) (*log.Logger, io.Closer, error) {
	console := opts.Writer
	if console == nil {
		console = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	out := console

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		out = io.MultiWriter(console, rotator)
		closer = rotator
	}

	logger := log.NewWithOptions(out, log.Options{ReportTimestamp: true})

	if opts.Level != "" {
		level, err := log.ParseLevel(opts.Level)
		if err != nil {
			_ = closer.Close()
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		logger.SetLevel(level)
	}

	return logger, closer, nil
}

// Component returns a child logger whose lines are prefixed with [name].
// A nil parent falls back to Default.
func Component(parent *log.Logger, name string) *log.Logger {
	if parent == nil {
		return Default(name)
	}
	return parent.WithPrefix("[" + name + "]")
}

// Default returns a stderr logger prefixed with [name].
func Default(name string) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "[" + name + "]",
	})
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
