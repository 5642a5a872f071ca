// Package log provides structured logging for the BIOS shim using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with this codebase's field helpers.
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

	// Shorter timestamps in both modes
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

// Category names passed to WithCategory by each subsystem that holds
// its own tagged logger.
const (
	CategoryCore     = "core"
	CategoryBIOS     = "bios"
	CategoryDebugSup = "debugsup"
	CategoryMachine  = "machine"
	CategoryConfig   = "config"
)

// WithCategory returns a logger with the category field preset, used
// to tag log lines by subsystem (core, bios, debugsup, machine, config).
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("cat", category))}
}

// Category returns a sub-logger tagged with category, or nil if the
// global logger was never initialized (e.g. unit tests that don't
// call Init). Callers guard on the nil result the same way they'd
// guard on L itself.
func Category(category string) *Logger {
	if L == nil {
		return nil
	}
	return L.WithCategory(category)
}

// Hex formats a uint64 as hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a field naming the BIOS service handler that ran, e.g.
// "video" or "e820".
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}

// Err wraps an error for structured logging.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Path creates a filesystem path field.
func Path(path string) zap.Field {
	return zap.String("path", path)
}

// Vector creates an interrupt vector field, formatted the way BIOS
// call sites write it (0x10, 0x13, ...).
func Vector(v uint32) zap.Field {
	return zap.String("vector", "0x"+hexString(uint64(v)))
}
