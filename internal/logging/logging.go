// Package logging configures the standard logger: an optional rotating log
// file and a process-wide level for verbose per-packet messages.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level orders log verbosity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel sets the process-wide level.
func SetLevel(l Level) {
	current.Store(int32(l))
}

// Enabled reports whether messages at l are written.
func Enabled(l Level) bool {
	return Level(current.Load()) <= l
}

// Debugf logs when the level is debug.
func Debugf(format string, args ...any) {
	if Enabled(LevelDebug) {
		log.Printf(format, args...)
	}
}

// Infof logs when the level is info or lower.
func Infof(format string, args ...any) {
	if Enabled(LevelInfo) {
		log.Printf(format, args...)
	}
}

// Warnf logs when the level is warn or lower.
func Warnf(format string, args ...any) {
	if Enabled(LevelWarn) {
		log.Printf(format, args...)
	}
}

// Errorf always logs.
func Errorf(format string, args ...any) {
	log.Printf(format, args...)
}

// Options configures Setup.
type Options struct {
	Level string

	// File, when set, receives log output with size-based rotation.
	File string

	// MaxSizeMB is the size at which the file rotates. Default: 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 3.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept. Default: 28.
	MaxAgeDays int

	// Stderr also writes to standard error when File is set.
	Stderr bool
}

// Setup applies opts to the standard logger. The returned closer releases
// the log file and restores stderr output.
func Setup(opts Options) (io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	SetLevel(level)

	if opts.File == "" {
		return nopCloser{}, nil
	}
	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 3
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 28
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	var w io.Writer = rotator
	if opts.Stderr {
		w = io.MultiWriter(os.Stderr, rotator)
	}
	log.SetOutput(w)

	return closerFunc(func() error {
		log.SetOutput(os.Stderr)
		return rotator.Close()
	}), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
