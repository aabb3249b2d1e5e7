// Package log provides structured logging for galago using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with galago-specific helpers.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter timestamps in development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Trace logs one libc/JNI/android intercept or syscall event at debug
// level: its category, name, a short free-form detail string, and the
// guest PC it fired from. This is the primary method intercept handlers
// use to report their activity.
func (l *Logger) Trace(pc uint64, category, name, detail string) {
	l.Debug("intercept",
		zap.String("cat", category),
		zap.String("fn", name),
		zap.String("detail", detail),
		zap.Uint64("pc", pc),
	)
}

// TraceSimple logs a Trace event without a PC (uses 0) — the common
// case for intercepts invoked directly rather than from a specific
// guest call site (abort, free).
func (l *Logger) TraceSimple(category, name, detail string) {
	l.Trace(0, category, name, detail)
}

// Reloc logs one relocation the dynamic linker applied: the module it
// targets, the relocation type, and the guest address/value it wrote —
// the linker's load-time equivalent of Trace.
func (l *Logger) Reloc(module string, relocType uint32, addr, value uint64) {
	l.Debug("reloc",
		zap.String("module", module),
		zap.Uint32("type", relocType),
		zap.Uint64("addr", addr),
		zap.Uint64("value", value),
	)
}

// TaskSwitch logs the scheduler loading a different task's context onto
// the CPU core.
func (l *Logger) TaskSwitch(from, to int32) {
	l.Debug("task_switch",
		zap.Int32("from", from),
		zap.Int32("to", to),
	)
}
