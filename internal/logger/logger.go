package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes one JSON line per entry. The optional data argument is
// attached under the "data" key, mirroring the entry shape the game server
// has always emitted.
type Logger struct {
	zl zerolog.Logger
}

// Config captures options for the default logger.
type Config struct {
	Level   string    // "debug", "info", ... (falls back to LOG_LEVEL)
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every entry
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

func init() {
	defaultLogger = NewLogger()
}

// NewLogger creates a logger writing to stdout.
func NewLogger() *Logger {
	return New(Config{})
}

// New builds a logger from cfg.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	raw := cfg.Level
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	if raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	if os.Getenv("DEBUG") == "true" {
		level = zerolog.DebugLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = "connect4"
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zl := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Configure replaces the package-level default logger.
func Configure(cfg Config) {
	l := New(cfg)
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Default returns the package-level logger.
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// WithComponent returns a child of the default logger tagged with component.
func WithComponent(component string) *Logger {
	return Default().With("component", component)
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) log(ev *zerolog.Event, msg string, data []interface{}) {
	if len(data) > 0 && data[0] != nil {
		if err, ok := data[0].(error); ok {
			ev = ev.Err(err)
		} else {
			ev = ev.Interface("data", data[0])
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, data ...interface{}) {
	l.log(l.zl.Info(), msg, data)
}

func (l *Logger) Warn(msg string, data ...interface{}) {
	l.log(l.zl.Warn(), msg, data)
}

func (l *Logger) Error(msg string, data ...interface{}) {
	l.log(l.zl.Error(), msg, data)
}

func (l *Logger) Debug(msg string, data ...interface{}) {
	l.log(l.zl.Debug(), msg, data)
}

// Global logger functions
func Info(msg string, data ...interface{}) {
	Default().Info(msg, data...)
}

func Warn(msg string, data ...interface{}) {
	Default().Warn(msg, data...)
}

func Error(msg string, data ...interface{}) {
	Default().Error(msg, data...)
}

func Debug(msg string, data ...interface{}) {
	Default().Debug(msg, data...)
}
