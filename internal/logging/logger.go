package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// ParseLevel maps config strings ("debug", "WARN", ...) to a LogLevel, defaulting to info
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	case "FATAL":
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	baseMu sync.RWMutex
	base   = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Configure sets the process-wide sink every component logger derives from.
// pretty switches to zerolog's console writer.
func Configure(level LogLevel, pretty bool, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"}
	}

	baseMu.Lock()
	defer baseMu.Unlock()
	base = zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger()
}

// Base returns the process-wide zerolog logger
func Base() zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Logger provides structured logging for one component
type Logger struct {
	component string
	zl        zerolog.Logger
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		zl:        Base().With().Str("component", component).Logger(),
	}
}

// NewLoggerWith creates a component logger on an explicit zerolog sink (tests, HTTP)
func NewLoggerWith(component string, zl zerolog.Logger) *Logger {
	return &Logger{
		component: component,
		zl:        zl.With().Str("component", component).Logger(),
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{component: "nop", zl: zerolog.Nop()}
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// Zerolog exposes the underlying logger for packages that log with zerolog directly
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// SetMinLevel sets the minimum log level to output
func (l *Logger) SetMinLevel(level LogLevel) *Logger {
	l.zl = l.zl.Level(level.zerolog())
	return l
}

func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	var evt *zerolog.Event
	switch level {
	case LogLevelDebug:
		evt = l.zl.Debug()
	case LogLevelWarn:
		evt = l.zl.Warn()
	case LogLevelError:
		evt = l.zl.Error()
	case LogLevelFatal:
		// WithLevel never exits; the caller decides
		evt = l.zl.WithLevel(zerolog.FatalLevel)
	default:
		evt = l.zl.Info()
	}
	if evt == nil {
		return
	}

	if err != nil {
		evt = evt.Err(err)
	}
	for k, v := range context {
		switch tv := v.(type) {
		case time.Duration:
			evt = evt.Dur(k, tv)
		case time.Time:
			evt = evt.Time(k, tv)
		default:
			evt = evt.Interface(k, v)
		}
	}
	evt.Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, nil, nil)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelDebug, message, nil, context)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, nil, nil)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelInfo, message, nil, context)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, nil, nil)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelWarn, message, nil, context)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, err, nil)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelError, message, err, context)
}

// Fatal logs a fatal error message without exiting
func (l *Logger) Fatal(message string, err error) {
	l.log(LogLevelFatal, message, err, nil)
}

// WithContext returns a logger that includes context on every line
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		context: context,
	}
}

// ContextLogger is a logger with pre-set context
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

// Debug logs a debug message with pre-set context
func (cl *ContextLogger) Debug(message string) {
	cl.logger.log(LogLevelDebug, message, nil, cl.context)
}

// Info logs an info message with pre-set context
func (cl *ContextLogger) Info(message string) {
	cl.logger.log(LogLevelInfo, message, nil, cl.context)
}

// Warn logs a warning message with pre-set context
func (cl *ContextLogger) Warn(message string) {
	cl.logger.log(LogLevelWarn, message, nil, cl.context)
}

// Error logs an error message with pre-set context
func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.log(LogLevelError, message, err, cl.context)
}

// With merges extra fields into the pre-set context
func (cl *ContextLogger) With(extra map[string]interface{}) *ContextLogger {
	merged := make(map[string]interface{}, len(cl.context)+len(extra))
	for k, v := range cl.context {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, context: merged}
}
