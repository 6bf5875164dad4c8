package domain

import (
	"time"

	"github.com/google/uuid"
)

// Test — один прогон workflow.
//
// Test создаётся по команде start и принадлежит ровно одной горутине
// оркестратора. Другие горутины видят только сигнал "активен/неактивен"
// через реестр, поля прогресса снаружи не читаются и не меняются.
type Test struct {
	// ID — внешний идентификатор теста (testId), ключ корреляции всех событий.
	ID string `json:"testId"`

	// RunID — внутренний идентификатор прогона.
	// Один и тот же ID может запускаться повторно, RunID различает прогоны.
	RunID uuid.UUID `json:"run_id"`

	// StartTime — время регистрации.
	StartTime time.Time `json:"start_time"`

	// Status — последний опубликованный статус.
	Status TestStatus `json:"run_status"`

	// CurrentStage — позиция стадии (1-based, 0 до первой стадии).
	CurrentStage int `json:"run_stage"`

	// CurrentCycle — номер цикла внутри per-cycle блока, nil вне его.
	CurrentCycle *int `json:"cycle,omitempty"`
}

// NewTest создаёт Test в статусе started.
func NewTest(id string, runID uuid.UUID, startTime time.Time) *Test {
	return &Test{
		ID:        id,
		RunID:     runID,
		StartTime: startTime,
		Status:    StatusStarted,
	}
}

// Advance фиксирует переход: статус, стадию и цикл.
func (t *Test) Advance(status TestStatus, stage int, cycle *int) {
	t.Status = status
	t.CurrentStage = stage
	t.CurrentCycle = cycle
}

// Duration возвращает время с момента регистрации.
func (t *Test) Duration() time.Duration {
	return time.Since(t.StartTime)
}
