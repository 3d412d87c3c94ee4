package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the minimum severity a logger writes
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes leveled log lines to a file or stream
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer // nil for streams we don't own (stderr)
	min    Level
}

// Global logger instance (accessed atomically for thread-safety)
var globalLogger atomic.Pointer[Logger]

// Options controls where and how much the global logger writes
type Options struct {
	// Path of the log file. Empty means no file.
	Path string
	// Verbose lowers the threshold to debug. Without a file, verbose
	// output goes to stderr.
	Verbose bool
}

// Init initializes the global logger.
// If neither a path nor verbose is given, logging stays disabled.
func Init(opts Options) error {
	threshold := LevelInfo
	if opts.Verbose {
		threshold = LevelDebug
	}

	switch {
	case opts.Path != "":
		file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		Use(&Logger{out: file, closer: file, min: threshold})
	case opts.Verbose:
		Use(&Logger{out: os.Stderr, min: threshold})
	default:
		return nil
	}

	Info("=== posctl log started ===")
	return nil
}

// New returns a logger writing to w at the given threshold.
func New(w io.Writer, threshold Level) *Logger {
	return &Logger{out: w, min: threshold}
}

// Use installs l as the global logger, closing the previous one.
// Passing nil disables logging.
func Use(l *Logger) {
	if prev := globalLogger.Swap(l); prev != nil {
		prev.close()
	}
}

// Close closes the global logger, ensuring all pending writes complete first.
func Close() {
	if logger := globalLogger.Swap(nil); logger != nil {
		logger.close()
	}
}

func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer != nil {
		l.closer.Close()
		l.closer = nil
	}
	l.out = nil // Prevent writes to closed file
}

// Debug logs a debug message
func Debug(format string, args ...any) { logAt(LevelDebug, format, args...) }

// Info logs an info message
func Info(format string, args ...any) { logAt(LevelInfo, format, args...) }

// Warn logs a warning message
func Warn(format string, args ...any) { logAt(LevelWarn, format, args...) }

// Error logs an error message
func Error(format string, args ...any) { logAt(LevelError, format, args...) }

func logAt(level Level, format string, args ...any) {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	logger.log(level, format, args...)
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.min {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Check if output was closed (race with Close())
	if l.out == nil {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "[%s] %s: %s\n", timestamp, level, msg)
}

// IsEnabled returns true if logging is enabled
func IsEnabled() bool {
	return globalLogger.Load() != nil
}
