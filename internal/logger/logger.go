// Package logger provides structured logging for the alert correlation
// server using zap. Adapted from the teacher's internal/logger/logger.go —
// same JSON-encoder/global-sugar shape, trimmed of the request-ID/GraphQL
// context plumbing that belonged to the router panel's HTTP layer.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	globalSugar  *zap.SugaredLogger
	once         sync.Once
)

// Config holds logger configuration options.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// JSONOutput enables JSON output format, for log aggregation. Console
	// output is used otherwise.
	JSONOutput bool
}

// DefaultConfig returns the default production configuration.
func DefaultConfig() *Config {
	return &Config{Level: "info", JSONOutput: true}
}

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(cfg *Config) {
	once.Do(func() {
		if cfg == nil {
			cfg = DefaultConfig()
		}
		globalLogger = newLogger(cfg)
		globalSugar = globalLogger.Sugar()
	})
}

func newLogger(cfg *Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.JSONOutput {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	return zap.New(core, zap.AddCaller())
}

// L returns the global logger. Init must be called first; if it wasn't, a
// default production logger is lazily created.
func L() *zap.Logger {
	if globalLogger == nil {
		Init(nil)
	}
	return globalLogger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	if globalSugar == nil {
		Init(nil)
	}
	return globalSugar
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
