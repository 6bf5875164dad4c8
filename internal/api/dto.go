package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Labrun/internal/domain"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/registry"
	"github.com/shaiso/Labrun/internal/repo"
)

// Test DTOs

// TestResponse — активный тест.
type TestResponse struct {
	TestID      string    `json:"testId"`
	RunID       uuid.UUID `json:"run_id"`
	StartTime   time.Time `json:"start_time"`
	DurationSec float64   `json:"duration_sec"`

	// PendingCycle — цикл, ожидающий подтверждения оператора.
	PendingCycle *int `json:"pending_cycle,omitempty"`
}

// TestFromEntry конвертирует registry.Entry в TestResponse.
func TestFromEntry(e registry.Entry, now time.Time) TestResponse {
	return TestResponse{
		TestID:      e.ID,
		RunID:       e.RunID,
		StartTime:   e.StartTime,
		DurationSec: now.Sub(e.StartTime).Seconds(),
	}
}

// ConfirmRequest — решение оператора.
type ConfirmRequest struct {
	Confirmed *bool `json:"confirmed"`
}

// CommandResponse — результат принятой команды.
type CommandResponse struct {
	TestID  string `json:"testId"`
	Command string `json:"command"`
}

// Event DTOs

// EventResponse — событие из журнала.
type EventResponse struct {
	ID        int64             `json:"id"`
	RunID     *uuid.UUID        `json:"run_id,omitempty"`
	TestID    string            `json:"testId"`
	Timestamp time.Time         `json:"timestamp"`
	Status    domain.TestStatus `json:"run_status"`
	Stage     *int              `json:"run_stage,omitempty"`
	Cycle     *int              `json:"cycle,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// EventFromRecord конвертирует repo.EventRecord в EventResponse.
func EventFromRecord(r repo.EventRecord) EventResponse {
	return EventResponse{
		ID:        r.ID,
		RunID:     r.RunID,
		TestID:    r.TestID,
		Timestamp: r.Timestamp,
		Status:    r.Status,
		Stage:     r.Stage,
		Cycle:     r.Cycle,
		Message:   r.Message,
	}
}

// Workflow DTOs

// StageResponse — стадия плана.
type StageResponse struct {
	Position int              `json:"position"`
	Name     string           `json:"name"`
	Kind     domain.StageKind `json:"kind"`
	Action   string           `json:"action"`
	Capture  bool             `json:"capture,omitempty"`
}

// WorkflowResponse — план workflow.
type WorkflowResponse struct {
	Name       string          `json:"name"`
	Background string          `json:"background,omitempty"`
	MaxCycles  int             `json:"max_cycles"`
	FinalStage int             `json:"final_stage"`
	Stages     []StageResponse `json:"stages"`
}

// WorkflowFromPlan конвертирует engine.Plan в WorkflowResponse.
func WorkflowFromPlan(p *engine.Plan) WorkflowResponse {
	stages := p.Stages()
	resp := WorkflowResponse{
		Name:       p.Name,
		Background: p.Background,
		MaxCycles:  p.MaxCycles,
		FinalStage: p.FinalStage(),
		Stages:     make([]StageResponse, len(stages)),
	}
	for i, s := range stages {
		resp.Stages[i] = StageResponse{
			Position: s.Position,
			Name:     s.Step.Name,
			Kind:     s.Step.Kind,
			Action:   s.Step.Action,
			Capture:  s.Step.Capture,
		}
	}
	return resp
}
