package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEnrichFields(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	zl := &zapLogger{logger: zap.New(core)}

	t.Run("Extract correlation id from context", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "corr-123")
		fields := zl.enrichFields(ctx, []Field{})

		assert.Len(t, fields, 1)
		assert.Equal(t, "correlation_id", fields[0].Key)
		assert.Equal(t, "corr-123", fields[0].Value)
	})

	t.Run("Extract message id from context", func(t *testing.T) {
		ctx := WithMessageID(context.Background(), "msg-456")
		fields := zl.enrichFields(ctx, []Field{})

		assert.Len(t, fields, 1)
		assert.Equal(t, "message_id", fields[0].Key)
		assert.Equal(t, "msg-456", fields[0].Value)
	})

	t.Run("Prioritize correlation id over message id", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "corr-primary")
		ctx = WithMessageID(ctx, "msg-secondary")
		fields := zl.enrichFields(ctx, []Field{})

		assert.Len(t, fields, 1)
		assert.Equal(t, "correlation_id", fields[0].Key)
		assert.Equal(t, "corr-primary", fields[0].Value)
	})

	t.Run("No ids in context", func(t *testing.T) {
		fields := zl.enrichFields(context.Background(), []Field{})
		assert.Empty(t, fields)
	})
}

func TestWithContextMethods(t *testing.T) {
	core, observedLogs := observer.New(zapcore.DebugLevel)
	zl := &zapLogger{logger: zap.New(core)}

	ctx := WithCorrelationID(context.Background(), "test-corr-id")

	t.Run("InfoWithContext", func(t *testing.T) {
		zl.InfoWithContext(ctx, "test message", NewField("key", "value"))

		logs := observedLogs.All()
		assert.Equal(t, 1, len(logs))
		assert.Equal(t, "test message", logs[0].Message)

		contextFieldFound := false
		for _, f := range logs[0].Context {
			if f.Key == "correlation_id" && f.String == "test-corr-id" {
				contextFieldFound = true
			}
		}
		assert.True(t, contextFieldFound, "correlation_id field not found in logs")
	})

	t.Run("InfofWithContext", func(t *testing.T) {
		observedLogs.TakeAll()

		zl.InfofWithContext(ctx, "hello %s", "queue")

		logs := observedLogs.All()
		assert.Equal(t, 1, len(logs))
		assert.Equal(t, "hello queue", logs[0].Message)
	})
}

func TestFieldsToZap(t *testing.T) {
	core, observedLogs := observer.New(zapcore.DebugLevel)
	zl := &zapLogger{logger: zap.New(core)}

	zl.With(NewField("entity", "q1")).Error("send failed",
		NewField("attempt", 1),
		NewField("error", errors.New("link detached")),
	)

	logs := observedLogs.All()
	assert.Len(t, logs, 1)
	ctxMap := logs[0].ContextMap()
	assert.Equal(t, "q1", ctxMap["entity"])
	assert.Equal(t, int64(1), ctxMap["attempt"])
	assert.Equal(t, "link detached", ctxMap["error"])
}

func TestFromContext_DefaultsToNoOp(t *testing.T) {
	logger := FromContext(context.Background())
	assert.NotNil(t, logger)
	assert.Same(t, logger, logger.With(NewField("k", "v")))

	core, _ := observer.New(zapcore.DebugLevel)
	attached := NewZapLogger(zap.New(core))
	assert.Equal(t, attached, FromContext(WithLogger(context.Background(), attached)))
}
