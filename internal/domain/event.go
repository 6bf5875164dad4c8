package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent — исходящее событие статуса (одно на каждый переход).
//
// Формат на шине:
//
//	{"testId": "...", "timestamp": "2025-01-01T10:00:00Z", "run_status": "running", "run_stage": 2, "cycle": 1}
type StatusEvent struct {
	// TestID — внешний идентификатор теста.
	TestID string `json:"testId"`

	// RunID — внутренний идентификатор прогона (на шину не уходит).
	RunID uuid.UUID `json:"-"`

	// Timestamp — время перехода (ISO-8601).
	Timestamp time.Time `json:"timestamp"`

	// Status — новый статус.
	Status TestStatus `json:"run_status"`

	// Stage — позиция стадии. Nil для событий, не привязанных к стадии
	// (already_running, stopped).
	Stage *int `json:"run_stage,omitempty"`

	// Cycle — номер цикла, присутствует только внутри per-cycle блока.
	Cycle *int `json:"cycle,omitempty"`

	// Message — пояснение для failed/error/already_running/stopped/waiting_confirmation.
	Message string `json:"message,omitempty"`
}

// NewStatusEvent создаёт событие с текущим временем.
func NewStatusEvent(testID string, status TestStatus) StatusEvent {
	return StatusEvent{
		TestID:    testID,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}
}

// WithStage возвращает копию события с указанной стадией.
func (e StatusEvent) WithStage(stage int) StatusEvent {
	e.Stage = &stage
	return e
}

// WithCycle возвращает копию события с указанным циклом.
func (e StatusEvent) WithCycle(cycle int) StatusEvent {
	e.Cycle = &cycle
	return e
}

// WithMessage возвращает копию события с сообщением.
func (e StatusEvent) WithMessage(msg string) StatusEvent {
	e.Message = msg
	return e
}

// StageValue возвращает стадию или -1, если она не задана.
func (e StatusEvent) StageValue() int {
	if e.Stage == nil {
		return -1
	}
	return *e.Stage
}

// CycleValue возвращает цикл или 0, если событие вне per-cycle блока.
func (e StatusEvent) CycleValue() int {
	if e.Cycle == nil {
		return 0
	}
	return *e.Cycle
}

// CommandType — тип входящей команды.
type CommandType string

const (
	// CommandStart — запустить тест.
	CommandStart CommandType = "start"

	// CommandStop — остановить тест.
	CommandStop CommandType = "stop"
)

// Command — входящая команда управления.
//
//	{"command": "start", "testId": "T-42"}
type Command struct {
	Command CommandType `json:"command"`
	TestID  string      `json:"testId"`
}

// Confirmation — решение оператора после цикла.
//
//	{"testId": "T-42", "confirmed": true}
type Confirmation struct {
	TestID    string `json:"testId"`
	Confirmed bool   `json:"confirmed"`
}
