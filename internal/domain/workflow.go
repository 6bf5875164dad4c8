package domain

// StageKind — режим выполнения стадии.
type StageKind string

const (
	// StageOnce — стадия выполняется ровно один раз.
	StageOnce StageKind = "once"

	// StagePerCycle — стадия выполняется в каждом цикле.
	StagePerCycle StageKind = "per_cycle"
)

// StageStep — декларативное описание одной стадии workflow.
type StageStep struct {
	// Name — человекочитаемое имя стадии ("Dissolution").
	Name string `json:"name" yaml:"name"`

	// Kind — once или per_cycle.
	Kind StageKind `json:"kind" yaml:"kind"`

	// Action — тип действия из steps.Registry: "delay", "script", "noop".
	Action string `json:"action" yaml:"action"`

	// Config — конфигурация действия (зависит от Action).
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// TimeoutSec — ограничение на выполнение действия, 0 — без ограничения.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// Capture — после стадии отправить последний снимок по бинарному каналу.
	Capture bool `json:"capture,omitempty" yaml:"capture,omitempty"`
}

// WorkflowDefinition — неизменяемая конфигурация workflow.
//
// Стадии идут в порядке объявления: once-стадии до блока,
// непрерывный per_cycle блок и завершающие once-стадии (анализ).
type WorkflowDefinition struct {
	// Name — имя workflow (для логов и API).
	Name string `json:"name" yaml:"name"`

	// Description — описание.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Stages — стадии в порядке объявления.
	Stages []StageStep `json:"stages" yaml:"stages"`

	// MaxCycles — сколько раз повторяется per_cycle блок.
	MaxCycles int `json:"max_cycles" yaml:"max_cycles"`

	// Background — имя фонового действия из каталога ("heater").
	// Пусто — workflow без фонового действия.
	Background string `json:"background,omitempty" yaml:"background,omitempty"`
}

// HasCycles возвращает true, если в workflow есть per_cycle стадии.
func (d *WorkflowDefinition) HasCycles() bool {
	for i := range d.Stages {
		if d.Stages[i].Kind == StagePerCycle {
			return true
		}
	}
	return false
}
