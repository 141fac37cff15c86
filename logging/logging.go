package logging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ContextKey string

const (
	RunIDKey ContextKey = "run_id"
	TopicKey ContextKey = "topic"
)

// New builds the production logger. Everything goes to stderr because stdout
// is reserved for the JSON result.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// FromContext enriches baseLogger with the run values stored in ctx.
func FromContext(ctx context.Context, baseLogger *zap.Logger) *zap.Logger {
	logger := baseLogger

	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		logger = logger.With(zap.String("run_id", runID))
	}

	if topic, ok := ctx.Value(TopicKey).(string); ok && topic != "" {
		logger = logger.With(zap.String("topic", topic))
	}

	return logger
}

// WithRunID stores a fresh run id in ctx.
func WithRunID(ctx context.Context) context.Context {
	return context.WithValue(ctx, RunIDKey, uuid.NewString())
}

func WithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, TopicKey, topic)
}

// RunID retrieves the run id from ctx.
func RunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}
