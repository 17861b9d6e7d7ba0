package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// ErrIO reports that a log destination or its directory is unavailable.
var ErrIO = errors.New("log destination unavailable")

// IOError carries the failing operation and path. It matches ErrIO via errors.Is.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// Rotation follows lumberjack semantics. For the child output sink zero
// MaxBackups and MaxAgeDays keep every rotated file; the application log
// falls back to the default retention instead.
type Rotation struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Sink is the append-only destination for the supervised child's stdout and stderr.
// It outlives individual child runs: Close releases the file and the next Write
// reopens it in append mode, so output from consecutive runs is concatenated.
type Sink struct {
	path string
	w    *lj.Logger
}

// OpenSink creates the parent directory if needed and verifies the file can be
// opened for append before handing out the sink.
func OpenSink(path string, rot Rotation) (*Sink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, &IOError{Op: "open", Path: path, Err: errors.New("empty path")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, &IOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	// #nosec G304 -- path comes from local configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	_ = f.Close()
	return &Sink{path: path, w: rot.sinkWriter(path)}, nil
}

// sinkWriter never prunes unless retention was configured explicitly.
func (r Rotation) sinkWriter(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(r.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: max(r.MaxBackups, 0),
		MaxAge:     max(r.MaxAgeDays, 0),
		Compress:   r.Compress,
	}
}

func (r Rotation) writer(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(r.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(r.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(r.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   r.Compress,
	}
}

func (s *Sink) Write(p []byte) (int, error) { return s.w.Write(p) }

// Close releases the underlying file. The sink stays usable.
func (s *Sink) Close() error { return s.w.Close() }

func (s *Sink) Path() string { return s.path }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
