package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// StepTypeScript — тип шага внешнего скрипта.
	StepTypeScript = "script"

	defaultScriptTimeout = 300 * time.Second
	outputTailBytes      = 500
	scriptWaitDelay      = 2 * time.Second
)

// Ключи конфигурации script.
const (
	configPath       = "path"
	configArgs       = "args"
	configTimeoutSec = "timeout_sec"
)

// ScriptStep — запуск внешнего скрипта прибора.
//
// Ненулевой код выхода — провал стадии. Хвосты stdout/stderr
// логируются в любом случае.
//
// Конфигурация:
//
//	{
//	    "path": "dissolution.py",   // относительно Dir
//	    "args": ["--volume", "5"],
//	    "timeout_sec": 300
//	}
//
// Скрипт получает переменные окружения LABRUN_TEST_ID, LABRUN_STAGE,
// LABRUN_POSITION и LABRUN_CYCLE.
type ScriptStep struct {
	// Dir — каталог скриптов.
	Dir string

	// Interpreter — интерпретатор для .py файлов (например, python3).
	Interpreter string

	// Logger
	Logger *slog.Logger
}

// NewScriptStep создаёт новый ScriptStep.
func NewScriptStep(dir, interpreter string, logger *slog.Logger) *ScriptStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptStep{
		Dir:         dir,
		Interpreter: interpreter,
		Logger:      logger,
	}
}

// Type возвращает тип шага.
func (s *ScriptStep) Type() string {
	return StepTypeScript
}

// Execute запускает скрипт и ждёт его завершения.
func (s *ScriptStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	path := GetConfigString(req.Config, configPath)
	if path == "" {
		return nil, fmt.Errorf("%w: %s: path is required", ErrInvalidConfig, StepTypeScript)
	}
	if !filepath.IsAbs(path) && s.Dir != "" {
		path = filepath.Join(s.Dir, path)
	}

	timeout := defaultScriptTimeout
	if sec := GetConfigInt(req.Config, configTimeoutSec); sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := s.command(path, GetConfigStrings(req.Config, configArgs))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(cmd.Environ(),
		"LABRUN_TEST_ID="+req.TestID,
		"LABRUN_STAGE="+req.Stage,
		"LABRUN_POSITION="+strconv.Itoa(req.Position),
		"LABRUN_CYCLE="+strconv.Itoa(req.Cycle),
	)

	cmd.WaitDelay = scriptWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := s.Logger.With("test_id", req.TestID, "stage", req.Stage, "script", path)
	logger.Info("running script", "timeout", timeout)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if out := tail(stdout.String()); out != "" {
		logger.Info("script stdout", "tail", out)
	}
	if out := tail(stderr.String()); out != "" {
		logger.Warn("script stderr", "tail", out)
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrStepTimeout, path, timeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s exited with code %d", ErrActionFailed, path, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrActionFailed, path, err)
	}

	logger.Info("script finished", "elapsed", elapsed)

	return NewResponse(map[string]any{
		"exit_code":   0,
		"duration_ms": elapsed.Milliseconds(),
	}), nil
}

// command подставляет интерпретатор для .py скриптов.
func (s *ScriptStep) command(path string, args []string) (string, []string) {
	if s.Interpreter != "" && strings.HasSuffix(path, ".py") {
		return s.Interpreter, append([]string{path}, args...)
	}
	return path, args
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputTailBytes {
		return s
	}
	return s[len(s)-outputTailBytes:]
}
