package logger

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	l, _ := New(DefaultConfig())
	defaultLogger.Store(l)
}

func current() *Logger {
	return defaultLogger.Load()
}

// InitFromConfig replaces the default logger with one built from configuration.
func InitFromConfig(level, filePath string, maxSize, maxBackups int, console bool) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	l, err := New(LoggerConfig{
		Level:      logLevel,
		FilePath:   filePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Console:    console,
	})
	if err != nil {
		return err
	}

	if old := defaultLogger.Swap(l); old != nil {
		old.Close()
	}
	return nil
}

// SetOutput routes the default logger to w at DEBUG level. Used by tests.
func SetOutput(w io.Writer) {
	if old := defaultLogger.Swap(NewWriter(w, DEBUG)); old != nil {
		old.Close()
	}
}

// ParseLogLevel parses log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) {
	current().log(2, DEBUG, "", format, args...)
}

// Info logs info level messages
func Info(format string, args ...interface{}) {
	current().log(2, INFO, "", format, args...)
}

// Warn logs warning level messages
func Warn(format string, args ...interface{}) {
	current().log(2, WARN, "", format, args...)
}

// Error logs error level messages
func Error(format string, args ...interface{}) {
	current().log(2, ERROR, "", format, args...)
}

// Close closes the default logger
func Close() error {
	return current().Close()
}

// Component is a logger whose lines are tagged with a component name,
// e.g. "[serial] port opened". It always writes through the current
// default logger, so InitFromConfig applies to components created earlier.
type Component struct {
	name string
}

// Named returns a component logger.
func Named(name string) *Component {
	return &Component{name: name}
}

// Name returns the component name.
func (c *Component) Name() string {
	return c.name
}

func (c *Component) Debug(format string, args ...interface{}) {
	current().log(2, DEBUG, c.name, format, args...)
}

func (c *Component) Info(format string, args ...interface{}) {
	current().log(2, INFO, c.name, format, args...)
}

func (c *Component) Warn(format string, args ...interface{}) {
	current().log(2, WARN, c.name, format, args...)
}

func (c *Component) Error(format string, args ...interface{}) {
	current().log(2, ERROR, c.name, format, args...)
}
