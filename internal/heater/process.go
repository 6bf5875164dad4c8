package heater

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// DefaultWaitDelay — сколько ждать процесс после SIGTERM до SIGKILL.
const DefaultWaitDelay = 5 * time.Second

// ProcessAction — фоновое действие во внешнем процессе (например,
// скрипт управления реальным нагревателем).
type ProcessAction struct {
	Command   string
	Args      []string
	Env       []string
	WaitDelay time.Duration
	Logger    *slog.Logger
}

// Run запускает процесс и ждёт его выхода. При отмене ctx процесс
// получает SIGTERM, через WaitDelay — SIGKILL.
func (p *ProcessAction) Run(ctx context.Context) error {
	if p.Command == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidConfig)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	waitDelay := p.WaitDelay
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Env = append(cmd.Environ(), p.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Info("starting background process", "command", p.Command, "args", p.Args)

	err := cmd.Run()
	if ctx.Err() != nil {
		logger.Info("background process terminated", "command", p.Command)
		return nil
	}
	if err != nil {
		return fmt.Errorf("process %s: %w: %s", p.Command, err, tail(stderr.String(), 500))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
