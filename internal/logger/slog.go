package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// AppConfig configures the supervisor's own structured log, as opposed to
// the child output captured by Sink.
type AppConfig struct {
	Level    string   `mapstructure:"level"`  // debug, info, warn, error
	Format   string   `mapstructure:"format"` // color, text, json
	File     string   `mapstructure:"file"`   // optional; stderr when empty
	ShowTime bool     `mapstructure:"show_time"`
	Rotation Rotation `mapstructure:"rotation"`
}

// NewLogger builds the application logger. The returned closer releases the log
// file when one is configured and is never nil.
func NewLogger(cfg AppConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var (
		w                = stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, nil, &IOError{Op: "mkdir", Path: filepath.Dir(cfg.File), Err: err}
		}
		lw := cfg.Rotation.writer(cfg.File)
		w, closer = lw, lw
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "", "color":
		if cfg.File != "" {
			// no escape codes in files
			h = slog.NewTextHandler(w, opts)
		} else {
			h = NewColorTextHandler(w, opts, cfg.ShowTime)
		}
	default:
		return nil, nil, fmt.Errorf("unknown log format %q, must be one of: color, text, json", cfg.Format)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
