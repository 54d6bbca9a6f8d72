package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", RequestID(ctx))
	assert.Equal(t, "", Action(ctx))
	assert.Equal(t, "", Trigger(ctx))

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithAction(ctx, "say_hello")
	ctx = WithTrigger(ctx, "pubsub:greetings")

	assert.Equal(t, "req-123", RequestID(ctx))
	assert.Equal(t, "say_hello", Action(ctx))
	assert.Equal(t, "pubsub:greetings", Trigger(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithRequestID(context.Background(), "req-abc")
	ctx = WithAction(ctx, "list_users")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "request_id=req-abc")
	assert.Contains(t, output, "action=list_users")
	assert.NotContains(t, output, "trigger=")
	assert.Contains(t, output, "test message")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithRequestID(context.Background(), "req-9")
	ctx = WithTrigger(ctx, "web:GET /greet")
	logger.InfoContext(ctx, "handled", "status", 200)

	output := buf.String()
	assert.Contains(t, output, "request_id=req-9")
	assert.Contains(t, output, `trigger="web:GET /greet"`)
	assert.Contains(t, output, "status=200")
}

func TestCorrelationHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With("component", "dispatch").WithGroup("g")

	logger.InfoContext(WithAction(context.Background(), "a"), "msg", "k", "v")

	output := buf.String()
	assert.Contains(t, output, "component=dispatch")
	assert.Contains(t, output, "g.k=v")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")

	logger.DebugContext(context.Background(), "hidden")
	logger.InfoContext(WithAction(context.Background(), "x"), "shown")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, `"action":"x"`)
	assert.Contains(t, output, `"msg":"shown"`)
}

func TestNewLeveledLogger_RuntimeLevel(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	logger := NewLeveledLogger(&buf, level, "text")

	logger.Debug("before")
	level.Set(slog.LevelDebug)
	logger.Debug("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
}
