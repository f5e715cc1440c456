// Package log is a small key-value logging facade over zerolog. All
// diagnostics go to stderr so that stdout stays reserved for the mount
// path output consumed by scripts.
package log

import (
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.Nop()

// Setup initializes the logger. With verbose enabled, debug messages
// are emitted as well.
func Setup(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Debug logs a debug message with alternating key-value pairs.
func Debug(msg string, keyvals ...any) {
	emit(logger.Debug(), msg, keyvals)
}

// Info logs an informational message with alternating key-value pairs.
func Info(msg string, keyvals ...any) {
	emit(logger.Info(), msg, keyvals)
}

// Warn logs a warning with alternating key-value pairs.
func Warn(msg string, keyvals ...any) {
	emit(logger.Warn(), msg, keyvals)
}

// Error logs an error with alternating key-value pairs.
func Error(msg string, keyvals ...any) {
	emit(logger.Error(), msg, keyvals)
}

func emit(ev *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}
