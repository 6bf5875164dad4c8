package engine

import (
	"github.com/shaiso/Labrun/internal/domain"
)

// Stage — стадия с её позицией в плоской последовательности.
type Stage struct {
	// Position — позиция стадии (1-based). Публикуется как run_stage
	// после завершения стадии; 0 зарезервирован за started.
	Position int

	// Step — описание стадии.
	Step domain.StageStep
}

// Plan — раскладка workflow для выполнения.
//
// Позиции сквозные: per_cycle стадии в каждом цикле получают одни и те же
// позиции, поэтому run_stage внутри цикла не убывает и в начале нового
// цикла возвращается к первой per_cycle стадии.
type Plan struct {
	// Name — имя workflow.
	Name string

	// Background — имя фонового действия (пусто — без фона).
	Background string

	// MaxCycles — количество повторов per_cycle блока.
	MaxCycles int

	// Leading — once-стадии до блока.
	Leading []Stage

	// Cycle — per_cycle блок.
	Cycle []Stage

	// Trailing — once-стадии после блока (анализ).
	Trailing []Stage

	def *domain.WorkflowDefinition
}

// NewPlan валидирует WorkflowDefinition и строит план.
func NewPlan(def *domain.WorkflowDefinition) (*Plan, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	p := &Plan{
		Name:       def.Name,
		Background: def.Background,
		MaxCycles:  def.MaxCycles,
		def:        def,
	}

	for i, step := range def.Stages {
		stage := Stage{Position: i + 1, Step: step}
		switch {
		case step.Kind == domain.StagePerCycle:
			p.Cycle = append(p.Cycle, stage)
		case len(p.Cycle) == 0:
			p.Leading = append(p.Leading, stage)
		default:
			p.Trailing = append(p.Trailing, stage)
		}
	}

	return p, nil
}

// Definition возвращает исходное определение.
func (p *Plan) Definition() *domain.WorkflowDefinition {
	return p.def
}

// HasCycles возвращает true, если есть per_cycle блок.
func (p *Plan) HasCycles() bool {
	return len(p.Cycle) > 0 && p.MaxCycles > 0
}

// FirstCycleStage возвращает позицию первой per_cycle стадии (0 без блока).
func (p *Plan) FirstCycleStage() int {
	if len(p.Cycle) == 0 {
		return 0
	}
	return p.Cycle[0].Position
}

// LastCycleStage возвращает позицию последней per_cycle стадии (0 без блока).
func (p *Plan) LastCycleStage() int {
	if len(p.Cycle) == 0 {
		return 0
	}
	return p.Cycle[len(p.Cycle)-1].Position
}

// FinalStage возвращает позицию, публикуемую вместе с completed.
func (p *Plan) FinalStage() int {
	return len(p.def.Stages)
}

// Stages возвращает все стадии в порядке объявления.
func (p *Plan) Stages() []Stage {
	all := make([]Stage, 0, len(p.def.Stages))
	all = append(all, p.Leading...)
	all = append(all, p.Cycle...)
	all = append(all, p.Trailing...)
	return all
}

// Actions возвращает уникальные типы действий в порядке первого появления.
func (p *Plan) Actions() []string {
	seen := make(map[string]bool)
	var actions []string
	for _, s := range p.Stages() {
		if !seen[s.Step.Action] {
			seen[s.Step.Action] = true
			actions = append(actions, s.Step.Action)
		}
	}
	return actions
}
