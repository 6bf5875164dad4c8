package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		env  string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.env)
			assert.Equal(t, tt.want, LogLevel())
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", slog.LevelInfo)

	WithStage(WithTestID(logger, "T-1"), "Dissolution").Info("stage completed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "T-1", entry["test_id"])
	assert.Equal(t, "Dissolution", entry["stage"])
	assert.Equal(t, "stage completed", entry["msg"])
}

func TestNewLogger_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.log")
	t.Setenv("LOG_FILE", path)

	w, closer := logOutput()
	_, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	assert.FileExists(t, path)
}

func TestFromContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
