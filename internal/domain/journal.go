package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunSummary — запись журнала об одном прогоне теста.
type RunSummary struct {
	RunID      uuid.UUID  `json:"run_id"`
	TestID     string     `json:"testId"`
	Status     TestStatus `json:"run_status"`
	Stage      *int       `json:"run_stage,omitempty"`
	Cycle      *int       `json:"cycle,omitempty"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsFinished проверяет, завершён ли прогон.
func (r *RunSummary) IsFinished() bool {
	return r.FinishedAt != nil
}
