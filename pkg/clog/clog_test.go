package clog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAttributes(t *testing.T) {
	ctx := ContextWithSlog(context.Background())
	AddAttribute(ctx, "task_id", "t1")
	AddAttributes(ctx, map[string]any{"job_id": "j1"})
	AddError(ctx, errors.New("boom"))

	assert.Equal(t, "t1", GetAttribute[string](ctx, "task_id"))
	assert.Equal(t, 0, GetAttribute[int](ctx, "task_id"))
	require.Error(t, GetError(ctx))
	assert.Len(t, GetAttributes(ctx), 3)

	// Without ContextWithSlog everything is a no-op.
	AddAttribute(context.Background(), "k", "v")
	assert.Nil(t, GetAttributes(context.Background()))
}

func TestTextHandler_RendersContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(NewTextHandler(&buf, WithColor(false), WithLevel(slog.LevelDebug))))

	ctx := ContextWithSlog(context.Background())
	AddAttribute(ctx, "task_id", "t1")
	logger.DebugContext(ctx, "bridge: job upserted", "changed", true, "error", errors.New("nope"))

	out := buf.String()
	assert.Contains(t, out, "DEBUG t1 bridge: job upserted nope\n")
	assert.Contains(t, out, "    changed=true\n")
}

func TestTextHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, WithColor(false)))
	logger.Debug("hidden")
	assert.Empty(t, buf.String())
	logger.WithGroup("sync").Info("shown", "n", 1)
	assert.Contains(t, buf.String(), "sync.n=1")
}

func TestHTTPStatusToLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, HTTPStatusToLevel(http.StatusOK))
	assert.Equal(t, slog.LevelWarn, HTTPStatusToLevel(http.StatusNotFound))
	assert.Equal(t, slog.LevelError, HTTPStatusToLevel(http.StatusBadGateway))
}
