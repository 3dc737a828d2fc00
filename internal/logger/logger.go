package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// ParseLevel maps a configured level name to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, s)
	}
}

// Init initializes the logger based on the given configuration
func Init(level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	SetOutput(output)
	SetLogLevel(level)
}

// SetOutput replaces the destination of the package logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(w).With().Timestamp().Logger()
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{current().Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{current().Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{current().Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{current().Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(current().Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{current().Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(current().Fatal(), err)}
}

func withCode(e *zerolog.Event, err errors.Error) *zerolog.Event {
	return e.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
}

// component is a Logger bound to a set of context fields.
type component struct {
	fields map[string]string
}

// Component returns a Logger that tags every event with component=name.
func Component(name string) Logger {
	return component{fields: map[string]string{"component": name}}
}

func (c component) event(e *zerolog.Event) *LogEvent {
	for k, v := range c.fields {
		e = e.Str(k, v)
	}
	return &LogEvent{e}
}

func (c component) Debug() *LogEvent { return c.event(current().Debug()) }
func (c component) Info() *LogEvent  { return c.event(current().Info()) }
func (c component) Warn() *LogEvent  { return c.event(current().Warn()) }
func (c component) Error() *LogEvent { return c.event(current().Error()) }

func (c component) ErrorWithCode(err errors.Error) *LogEvent {
	return c.event(withCode(current().Error(), err))
}

func (c component) With(key, value string) Logger {
	fields := make(map[string]string, len(c.fields)+1)
	for k, v := range c.fields {
		fields[k] = v
	}
	fields[key] = value
	return component{fields: fields}
}
