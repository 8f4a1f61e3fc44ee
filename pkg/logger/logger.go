package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogLevel represents the available log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel maps a user supplied level name onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options controls where log records go.
type Options struct {
	Level LogLevel
	// Console receives plain one-line records. Nil means stderr.
	Console io.Writer
	// FilePath is the structured log file. Empty means ~/.chatdesk/logs/chatdesk.log.
	FilePath string
	// NoFile disables the file sink entirely.
	NoFile bool
}

// Logger wraps slog with intention-aware helpers
type Logger struct {
	*slog.Logger
}

// New builds a logger fanning out to the console and, unless disabled, a log file.
func New(opts Options) *Logger {
	level := opts.Level.slogLevel()
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{newPlainHandler(console, level)}
	if !opts.NoFile {
		if fh := newFileTextHandler(opts.FilePath, level); fh != nil {
			handlers = append(handlers, fh)
		}
	}
	return &Logger{Logger: slog.New(newMultiHandler(handlers...))}
}

// NewLogger creates a console+file logger at the given level
func NewLogger(level LogLevel) *Logger {
	return New(Options{Level: level})
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// WithComponent tags records with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithSession tags records with a conversation session id
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.With("session", sessionID)}
}

// LogWithIntention logs at level with a structured "intention" attribute.
// The console handler renders the intention as an icon.
func (l *Logger) LogWithIntention(level slog.Level, intention Intention, msg string, args ...any) {
	kv := append([]any{"intention", string(intention)}, args...)
	l.Log(context.Background(), level, msg, kv...)
}

func (l *Logger) InfoWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelInfo, intention, msg, args...)
}

func (l *Logger) DebugWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelDebug, intention, msg, args...)
}

// Warnings and errors do not carry intentions; the level is emphasis enough.
func (l *Logger) WarnWithIntention(_ Intention, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *Logger) ErrorWithIntention(_ Intention, msg string, args ...any) {
	l.Error(msg, args...)
}

var (
	defaultMu sync.RWMutex
	// console only until Configure is called, so tests never touch the home directory
	defaultLogger = New(Options{Level: LogLevelInfo, NoFile: true})
)

// Configure replaces the process-wide logger used by NewComponentLogger.
func Configure(opts Options) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = New(opts)
}

// Default returns the process-wide logger
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// NewComponentLogger creates a new logger for a specific component
func NewComponentLogger(component string) *Logger {
	return Default().WithComponent(component)
}

// DefaultLogDir is where the file sink writes unless told otherwise.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chatdesk", "logs")
	}
	return filepath.Join(home, ".chatdesk", "logs")
}

func newFileTextHandler(path string, level slog.Level) slog.Handler {
	if path == "" {
		path = filepath.Join(DefaultLogDir(), "chatdesk.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}
	return slog.NewTextHandler(f, opts)
}
