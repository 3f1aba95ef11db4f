// Package logging wires zerolog (optionally fanned out to a rotated
// file via lumberjack) into the three-logger split the teacher's
// common/configd_log.go debug-level system expects: a verbose debug
// logger, an error logger, and a warning logger, all sharing one
// underlying writer and differing only in the level they're pinned to.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Loggers bundles the three sub-loggers used throughout the daemon.
type Loggers struct {
	Debug zerolog.Logger
	Error zerolog.Logger
	Warn  zerolog.Logger
}

// Options configures the shared writer.
type Options struct {
	// LogFile, if non-empty, is rotated via lumberjack instead of
	// writing to stderr.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the Loggers bundle per Options.
func New(opts Options) Loggers {
	var w io.Writer = os.Stderr
	if opts.LogFile != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 50
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 5
		}
		maxAge := opts.MaxAgeDays
		if maxAge == 0 {
			maxAge = 30
		}
		w = &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		}
	}
	base := zerolog.New(w).With().Timestamp().Logger()
	return Loggers{
		Debug: base.Level(zerolog.DebugLevel),
		Error: base.Level(zerolog.ErrorLevel),
		Warn:  base.Level(zerolog.WarnLevel),
	}
}

// WithSession returns a logger pre-populated with the session id field,
// matching the teacher's per-session log line convention.
func WithSession(l zerolog.Logger, sid int64) zerolog.Logger {
	return l.With().Int64("sid", sid).Logger()
}

// WithOp returns a logger pre-populated with the RPC operation name
// field.
func WithOp(l zerolog.Logger, op string) zerolog.Logger {
	return l.With().Str("op", op).Logger()
}
