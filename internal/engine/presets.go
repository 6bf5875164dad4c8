package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Labrun/internal/domain"
)

// Имена встроенных workflow.
const (
	// PresetClassic — подготовка, нагрев в фоне, 5 циклов по 3 стадии.
	PresetClassic = "classic"

	// PresetLinear — 7 стадий без циклов и без фона.
	PresetLinear = "linear"

	// PresetCompact — одна once-стадия, 5 циклов, завершающий анализ.
	PresetCompact = "compact"
)

// Фоновое действие по умолчанию.
const defaultBackground = "heater"

var presets = map[string]func() *domain.WorkflowDefinition{
	PresetClassic: classicWorkflow,
	PresetLinear:  linearWorkflow,
	PresetCompact: compactWorkflow,
}

// Preset возвращает копию встроенного workflow по имени.
func Preset(name string) (*domain.WorkflowDefinition, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return build(), nil
}

// PresetNames возвращает имена встроенных workflow.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// delayStage — стадия-симуляция с фиксированной длительностью.
func delayStage(name string, kind domain.StageKind, sec float64) domain.StageStep {
	return domain.StageStep{
		Name:   name,
		Kind:   kind,
		Action: "delay",
		Config: map[string]any{"duration_sec": sec},
	}
}

func classicWorkflow() *domain.WorkflowDefinition {
	colorAgents := delayStage("Color Agent Addition", domain.StagePerCycle, 3)
	colorAgents.Capture = true

	return &domain.WorkflowDefinition{
		Name:        PresetClassic,
		Description: "sample preparation, background heating, 5 cycles of dissolution/dilution/color agents",
		Stages: []domain.StageStep{
			delayStage("Sample Preparation", domain.StageOnce, 3),
			delayStage("Dissolution", domain.StagePerCycle, 3),
			delayStage("Filtration & Dilution", domain.StagePerCycle, 3),
			colorAgents,
		},
		MaxCycles:  5,
		Background: defaultBackground,
	}
}

func linearWorkflow() *domain.WorkflowDefinition {
	names := []string{
		"Sample Preparation",
		"Dissolution",
		"Filtration",
		"Dilution",
		"Sampling",
		"Color Agent Addition",
		"Data Analysis",
	}

	stages := make([]domain.StageStep, len(names))
	for i, name := range names {
		stages[i] = delayStage(name, domain.StageOnce, 3+float64(i)*0.5)
	}

	return &domain.WorkflowDefinition{
		Name:        PresetLinear,
		Description: "seven sequential stages without cycles",
		Stages:      stages,
	}
}

func compactWorkflow() *domain.WorkflowDefinition {
	colorAgents := delayStage("Color Agent Addition", domain.StagePerCycle, 3)
	colorAgents.Capture = true

	return &domain.WorkflowDefinition{
		Name:        PresetCompact,
		Description: "one preparation stage, 5 heated cycles, trailing data analysis",
		Stages: []domain.StageStep{
			delayStage("Sample Preparation", domain.StageOnce, 3),
			delayStage("Dissolution", domain.StagePerCycle, 3),
			delayStage("Dilution", domain.StagePerCycle, 3),
			colorAgents,
			delayStage("Data Analysis", domain.StageOnce, 2),
		},
		MaxCycles:  5,
		Background: defaultBackground,
	}
}
