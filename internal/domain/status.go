package domain

// TestStatus — статус теста, публикуемый в поле run_status.
//
// Жизненный цикл:
//
//	started → running → (cycle_start ⇄ running ⇄ waiting_confirmation) × N → completed
//	                  ↘ failed / error / stopped (из любого нефинального статуса)
type TestStatus string

const (
	// StatusStarted — тест зарегистрирован, оркестратор запущен.
	StatusStarted TestStatus = "started"

	// StatusRunning — стадия завершена, тест продолжается.
	StatusRunning TestStatus = "running"

	// StatusCycleStart — начало очередного цикла.
	StatusCycleStart TestStatus = "cycle_start"

	// StatusWaitingConfirmation — цикл завершён, ждём решения оператора.
	StatusWaitingConfirmation TestStatus = "waiting_confirmation"

	// StatusCompleted — все стадии и циклы выполнены.
	StatusCompleted TestStatus = "completed"

	// StatusFailed — оператор отказался продолжать (или тест снят во время ожидания).
	StatusFailed TestStatus = "failed"

	// StatusError — стадия или фоновое действие завершились ошибкой.
	StatusError TestStatus = "error"

	// StatusStopped — тест остановлен командой stop.
	StatusStopped TestStatus = "stopped"

	// StatusAlreadyRunning — ответ на start для уже активного теста.
	// Не меняет состояние теста.
	StatusAlreadyRunning TestStatus = "already_running"
)

// IsTerminal возвращает true для финальных статусов,
// после которых тест удаляется из реестра.
func (s TestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusError:
		return true
	default:
		return false
	}
}

// IsFinished возвращает true, если после статуса оркестратор больше ничего не публикует.
// В отличие от IsTerminal учитывает stopped.
func (s TestStatus) IsFinished() bool {
	return s.IsTerminal() || s == StatusStopped
}

// String возвращает строковое представление TestStatus.
func (s TestStatus) String() string {
	return string(s)
}
