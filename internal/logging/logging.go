// Package logging provides the shared zap logger and helpers for carrying
// it through a context.
package logging

import (
	"context"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const loggerKey = contextKey("logger")

var (
	defaultLogger     *zap.SugaredLogger
	defaultLoggerOnce sync.Once
)

// NewLogger creates a new SugaredLogger writing to stderr.
func NewLogger(debug bool) *zap.SugaredLogger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	return logger.Sugar()
}

// DefaultLogger returns the process-wide logger, honoring DRIFTD_DEBUG.
func DefaultLogger() *zap.SugaredLogger {
	defaultLoggerOnce.Do(func() {
		debug, _ := strconv.ParseBool(os.Getenv("DRIFTD_DEBUG"))
		defaultLogger = NewLogger(debug)
	})
	return defaultLogger
}

// WithLogger attaches the logger to the context.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in the context, or the default one.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok {
		return logger
	}
	return DefaultLogger()
}
