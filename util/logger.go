// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zerolog has no "verbose" level, so the five hostrun levels are laid
// over error/warn/info/debug/trace.
var levelPrefix = map[string]string{
	zerolog.LevelErrorValue: "[ERR]",
	zerolog.LevelWarnValue:  "[WRN]",
	zerolog.LevelInfoValue:  "[INF]",
	zerolog.LevelDebugValue: "[VRB]",
	zerolog.LevelTraceValue: "[DBG]",
}

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Child loggers created with [Logger.With] share
// the parent's output and level but carry extra fields.
type Logger struct {
	level      LogLevel
	output     io.Writer
	timestamps bool
	fields     []field

	mu sync.Mutex
	zl zerolog.Logger
}

type field struct {
	key   string
	value interface{}
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that appends key=value to every line.
func (l *Logger) With(key string, value interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	child := &Logger{
		level:      l.level,
		output:     l.output,
		timestamps: l.timestamps,
		fields:     append(append([]field(nil), l.fields...), field{key, value}),
	}
	child.rebuild()
	return child
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	l.event(l.zl.Info(), format, args...)
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	l.event(l.zl.Warn(), format, args...)
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.event(l.zl.Debug(), format, args...)
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	l.event(l.zl.Trace(), format, args...)
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.event(l.zl.Error(), format, args...)
}

func (l *Logger) event(e *zerolog.Event, format string, args ...interface{}) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}

// rebuild recreates the zerolog backend.  Callers hold l.mu (or own l
// exclusively during construction).
func (l *Logger) rebuild() {
	cw := zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(l.output),
		NoColor:    true,
		TimeFormat: "15:04:05.000",
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			if p, ok := levelPrefix[s]; ok {
				return p
			}
			return "[???]"
		},
	}
	if l.timestamps {
		cw.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
	} else {
		cw.PartsOrder = []string{zerolog.LevelFieldName, zerolog.MessageFieldName}
	}

	ctx := zerolog.New(cw).Level(threshold(l.level)).With()
	if l.timestamps {
		ctx = ctx.Timestamp()
	}
	for _, f := range l.fields {
		ctx = ctx.Interface(f.key, f.value)
	}
	l.zl = ctx.Logger()
}

func threshold(level LogLevel) zerolog.Level {
	switch {
	case level >= LogDebug:
		return zerolog.TraceLevel
	case level == LogVerbose:
		return zerolog.DebugLevel
	case level == LogNormal:
		return zerolog.InfoLevel
	default:
		return zerolog.ErrorLevel
	}
}
