package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrAlreadyRunning — start для уже активного теста.
	ErrAlreadyRunning = errors.New("test already running")

	// ErrStageFailed — действие стадии вернуло ошибку.
	ErrStageFailed = errors.New("stage action failed")

	// ErrUserDeclined — оператор отказался продолжать или тест снят во время ожидания.
	ErrUserDeclined = errors.New("continuation declined")

	// ErrBackgroundCrashed — фоновое действие завершилось само.
	ErrBackgroundCrashed = errors.New("background action crashed")

	// ErrStopTimeout — фоновое действие не остановилось вовремя.
	ErrStopTimeout = errors.New("background action stop timeout")

	// ErrTestNotActive — stop или confirm для неактивного теста.
	ErrTestNotActive = errors.New("test not active")

	// ErrStopped — тест снят командой stop (внутренний сигнал остановки).
	ErrStopped = errors.New("test stopped")

	// ErrOrchestratorStopped — оркестратор остановлен, новые тесты не принимаются.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrUnknownAction — план ссылается на незарегистрированное действие.
	ErrUnknownAction = errors.New("unknown action in workflow")

	// errPanic — паника внутри горутины теста.
	errPanic = errors.New("panic in test task")
)
