package logging

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("loud")
	assert.Error(t, err)

	logger, err := New("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestFromContext_AddsRunFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithTopic(WithRunID(context.Background()), "chip exports")
	FromContext(ctx, base).Info("round")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "chip exports", fields["topic"])

	_, err := uuid.Parse(fields["run_id"].(string))
	assert.NoError(t, err)
	assert.Equal(t, fields["run_id"], RunID(ctx))
}

func TestFromContext_EmptyContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	FromContext(context.Background(), zap.New(core)).Info("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
	assert.Equal(t, "", RunID(context.Background()))
}
