// Package logging provides structured logging for server, worker, and
// client commands.
//
// Server and worker processes emit one JSON record per line with
// millisecond timestamps. Interactive commands (submit, sweep, version)
// use a console writer when stdout is a terminal. Request- and
// task-scoped fields (trace, task, app, type) ride on child loggers so
// every record produced while handling a request or build carries them.
package logging

import (
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger wraps zerolog with mode-specific output selection.
type Logger struct {
	zlog   zerolog.Logger
	output io.Writer
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// NewServerLogger creates the JSON logger used by the serve and worker
// commands. One record per line on stdout, millisecond timestamps.
func NewServerLogger() *Logger {
	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
	return &Logger{zlog: logger, output: os.Stdout}
}

// NewConsoleLogger creates the human-readable logger used by interactive
// commands. Falls back to JSON when stdout is not a terminal, so piped
// output stays machine-parseable.
func NewConsoleLogger() *Logger {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return NewServerLogger()
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}
	logger := zerolog.New(output).
		With().
		Timestamp().
		Logger()
	return &Logger{zlog: logger, output: output}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Fatal returns a fatal level event.
func (l *Logger) Fatal() *zerolog.Event {
	return l.zlog.Fatal()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Sub returns a child logger carrying the given field on every record.
func (l *Logger) Sub(key, value string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str(key, value).Logger(),
		output: l.output,
	}
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level from a config string.
// Unknown values leave the level at info.
func SetGlobalLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}

// MaskURL masks the password component of a connection string so it can
// be logged. Unparseable input and URLs without credentials are returned
// unchanged.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
