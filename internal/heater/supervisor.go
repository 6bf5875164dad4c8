package heater

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shaiso/Labrun/internal/telemetry"
)

// DefaultStopTimeout — время ожидания выхода после Stop.
const DefaultStopTimeout = 20 * time.Second

// Action — долгоживущее фоновое действие.
//
// Run работает, пока ctx не отменён, и должен вернуться в пределах
// одного тика после отмены. Выход до отмены ctx считается падением.
type Action interface {
	Run(ctx context.Context) error
}

// ActionFunc — адаптер функции к Action.
type ActionFunc func(ctx context.Context) error

// Run вызывает f(ctx).
func (f ActionFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Handle — запущенное фоновое действие одного теста.
// Принадлежит горутине оркестратора этого теста.
type Handle struct {
	name   string
	testID string

	cancel context.CancelFunc
	done   chan struct{}

	// crashed закрывается, если действие вышло до Stop.
	crashed chan struct{}

	mu       sync.Mutex
	stopping bool
	err      error

	stopOnce sync.Once
	stopErr  error
}

// Name возвращает имя действия.
func (h *Handle) Name() string {
	return h.name
}

// Done закрывается после выхода действия (по любой причине).
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Crashed закрывается, если действие вышло само, до Stop.
func (h *Handle) Crashed() <-chan struct{} {
	return h.crashed
}

// Err возвращает причину падения (nil, если действие не падало).
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// HasCrashed проверяет без блокировки, упало ли действие.
func (h *Handle) HasCrashed() bool {
	select {
	case <-h.crashed:
		return true
	default:
		return false
	}
}

// Supervisor запускает и останавливает фоновые действия.
type Supervisor struct {
	stopTimeout time.Duration
	logger      *slog.Logger
}

// SupervisorConfig — конфигурация Supervisor.
type SupervisorConfig struct {
	// StopTimeout — таймаут Stop по умолчанию (default: 20s).
	StopTimeout time.Duration

	// Logger
	Logger *slog.Logger
}

// NewSupervisor создаёт Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	timeout := cfg.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		stopTimeout: timeout,
		logger:      logger,
	}
}

// StopTimeout возвращает таймаут по умолчанию.
func (s *Supervisor) StopTimeout() time.Duration {
	return s.stopTimeout
}

// Start запускает действие в отдельной горутине и сразу возвращает Handle.
// Вызывающий не ждёт выхода действия на рабочий режим.
//
// ctx задаёт верхнюю границу жизни действия (остановка процесса);
// штатно действие останавливается через Stop.
func (s *Supervisor) Start(ctx context.Context, testID, name string, action Action) *Handle {
	runCtx, cancel := context.WithCancel(ctx)

	h := &Handle{
		name:    name,
		testID:  testID,
		cancel:  cancel,
		done:    make(chan struct{}),
		crashed: make(chan struct{}),
	}

	logger := s.logger.With("test_id", testID, "action", name)
	logger.Info("background action starting")

	go func() {
		defer close(h.done)

		err := runSafely(runCtx, action)

		h.mu.Lock()
		stopping := h.stopping || ctx.Err() != nil
		if !stopping {
			if err == nil {
				err = fmt.Errorf("%w: %s returned without error", ErrCrashed, name)
			} else {
				err = fmt.Errorf("%w: %s: %v", ErrCrashed, name, err)
			}
			h.err = err
		}
		h.mu.Unlock()

		if stopping {
			logger.Info("background action exited")
			return
		}

		telemetry.BackgroundCrashes.Inc()
		logger.Error("background action exited unexpectedly", "error", err)
		close(h.crashed)
	}()

	return h
}

// Stop просит действие остановиться и ждёт выхода не дольше timeout
// (timeout <= 0 — таймаут Supervisor). Повторные вызовы возвращают
// результат первого.
//
// Если действие не вышло вовремя, возвращается ErrStopTimeout: это
// аномалия, но очистка теста продолжается.
func (s *Supervisor) Stop(h *Handle, timeout time.Duration) error {
	if h == nil {
		return nil
	}

	h.stopOnce.Do(func() {
		if timeout <= 0 {
			timeout = s.stopTimeout
		}

		logger := s.logger.With("test_id", h.testID, "action", h.name)

		h.mu.Lock()
		h.stopping = true
		h.mu.Unlock()

		logger.Info("requesting background action to stop")
		h.cancel()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-h.done:
			logger.Info("background action stopped")
		case <-timer.C:
			telemetry.BackgroundStopTimeouts.Inc()
			h.stopErr = fmt.Errorf("%w: %s after %s", ErrStopTimeout, h.name, timeout)
			logger.Warn("background action did not stop in time, still running",
				"timeout", timeout,
			)
		}
	})

	return h.stopErr
}

// runSafely запускает действие, превращая панику в ошибку.
func runSafely(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return action.Run(ctx)
}
