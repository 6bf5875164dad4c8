package steps

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Count())

	r.Register(NewDelayStep())
	assert.Equal(t, 1, r.Count())

	step, err := r.Get("delay")
	require.NoError(t, err)
	assert.Equal(t, "delay", step.Type())

	_, err = r.Get("unknown")
	assert.True(t, errors.Is(err, ErrStepNotFound))

	assert.True(t, r.Has("delay"))
	assert.False(t, r.Has("unknown"))

	r.Unregister("delay")
	assert.False(t, r.Has("delay"))
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry("", "python3", testLogger())

	assert.Equal(t, []string{"actuator", "delay", "noop", "script"}, r.Types())
	assert.Empty(t, r.Missing([]string{"delay", "script"}))
	assert.Equal(t, []string{"pump"}, r.Missing([]string{"delay", "pump"}))
}

// Delay Step Tests

func TestDelayStep_Execute(t *testing.T) {
	step := NewDelayStep()

	req := NewRequest("t1", "Dissolution", 2, 1, map[string]any{"duration_ms": 50}, 0)

	start := time.Now()
	resp, err := step.Execute(context.Background(), req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, int64(50), resp.Outputs["duration_ms"])
}

func TestDelayStep_ParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]any
		position int
		scale    float64
		want     time.Duration
		wantErr  bool
	}{
		{"fractional seconds", map[string]any{"duration_sec": 3.5}, 1, 1, 3500 * time.Millisecond, false},
		{"int seconds", map[string]any{"duration_sec": 2}, 1, 1, 2 * time.Second, false},
		{"milliseconds", map[string]any{"duration_ms": 250}, 1, 1, 250 * time.Millisecond, false},
		{"default by position", map[string]any{}, 4, 1, 5 * time.Second, false},
		{"scaled", map[string]any{"duration_sec": 4.0}, 1, 0.01, 40 * time.Millisecond, false},
		{"no duration no position", map[string]any{}, 0, 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &DelayStep{Scale: tt.scale}
			got, err := step.parseDuration(NewRequest("t1", "s", tt.position, 0, tt.config, 0))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDelayStep_Cancellation(t *testing.T) {
	step := NewDelayStep()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := step.Execute(ctx, NewRequest("t1", "s", 1, 0, map[string]any{"duration_sec": 1}, 0))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepCancelled))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// Noop Step Tests

func TestNoopStep(t *testing.T) {
	resp, err := NewNoopStep().Execute(context.Background(), NewRequest("t1", "Analysis", 5, 0, nil, 0))
	require.NoError(t, err)
	assert.Empty(t, resp.Outputs)
}

// Script Step Tests

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestScriptStep(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", `echo "stage $LABRUN_STAGE cycle $LABRUN_CYCLE test $LABRUN_TEST_ID"`)
	writeScript(t, dir, "fail.sh", `echo "pump jammed" >&2; exit 3`)
	writeScript(t, dir, "slow.sh", `exec sleep 5`)

	step := NewScriptStep(dir, "", testLogger())

	t.Run("success", func(t *testing.T) {
		resp, err := step.Execute(context.Background(),
			NewRequest("t1", "Dilution", 3, 2, map[string]any{"path": "ok.sh"}, 0))
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Outputs["exit_code"])
	})

	t.Run("non-zero exit", func(t *testing.T) {
		_, err := step.Execute(context.Background(),
			NewRequest("t1", "Dilution", 3, 2, map[string]any{"path": "fail.sh"}, 0))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrActionFailed))
		assert.Contains(t, err.Error(), "code 3")
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := step.Execute(context.Background(),
			NewRequest("t1", "Dilution", 3, 2, map[string]any{"path": "slow.sh"}, 50*time.Millisecond))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStepTimeout))
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := step.Execute(context.Background(), NewRequest("t1", "Dilution", 3, 2, nil, 0))
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})
}

func TestScriptStep_Interpreter(t *testing.T) {
	s := &ScriptStep{Interpreter: "python3"}

	name, args := s.command("/opt/scripts/heat.py", []string{"--on"})
	assert.Equal(t, "python3", name)
	assert.Equal(t, []string{"/opt/scripts/heat.py", "--on"}, args)

	name, args = s.command("/opt/scripts/heat.sh", nil)
	assert.Equal(t, "/opt/scripts/heat.sh", name)
	assert.Empty(t, args)
}

// Actuator Step Tests

func TestActuatorStep_DefaultBody(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"dispensed": true})
	}))
	defer server.Close()

	resp, err := NewActuatorStep().Execute(context.Background(),
		NewRequest("t1", "Color Agent Addition", 4, 2, map[string]any{"url": server.URL}, 0))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.Outputs["status_code"])
	assert.Equal(t, map[string]any{"dispensed": true}, resp.Outputs["body"])

	assert.Equal(t, "t1", received["testId"])
	assert.Equal(t, "Color Agent Addition", received["stage"])
	assert.Equal(t, float64(4), received["position"])
	assert.Equal(t, float64(2), received["cycle"])
}

func TestActuatorStep_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("pump offline"))
	}))
	defer server.Close()

	_, err := NewActuatorStep().Execute(context.Background(), NewRequest("t1", "s", 1, 0, map[string]any{
		"url":     server.URL,
		"method":  "put",
		"headers": map[string]any{"Authorization": "Bearer secret"},
		"body":    map[string]any{"volume_ml": 5},
	}, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionFailed))

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, "pump offline", httpErr.Body)
}

func TestActuatorStep_InvalidConfig(t *testing.T) {
	_, err := NewActuatorStep().Execute(context.Background(), NewRequest("t1", "s", 1, 0, nil, 0))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestActuatorStep_Cancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewActuatorStep().Execute(ctx, NewRequest("t1", "s", 1, 0, map[string]any{"url": server.URL}, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepCancelled))
}

// Config helper Tests

func TestGetConfigHelpers(t *testing.T) {
	cfg := map[string]any{
		"f":    2.5,
		"i":    3,
		"s":    "x",
		"list": []any{"a", 1, "b"},
		"m":    map[string]any{"k": "v", "n": 1},
	}

	assert.Equal(t, 2.5, GetConfigFloat(cfg, "f"))
	assert.Equal(t, 3.0, GetConfigFloat(cfg, "i"))
	assert.Equal(t, 3, GetConfigInt(cfg, "i"))
	assert.Equal(t, "x", GetConfigString(cfg, "s"))
	assert.Equal(t, []string{"a", "b"}, GetConfigStrings(cfg, "list"))
	assert.Equal(t, map[string]string{"k": "v"}, GetConfigMapString(cfg, "m"))
	assert.True(t, GetConfigBool(cfg, "missing", true))
	assert.Zero(t, GetConfigFloat(cfg, "missing"))
}
