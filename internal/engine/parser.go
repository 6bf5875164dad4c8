package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Labrun/internal/domain"
)

// Validate выполняет полную валидацию WorkflowDefinition.
//
// Проверяет:
// - Наличие стадий
// - Уникальность имён стадий
// - Корректность kind и непустой action
// - Непрерывность per_cycle блока
// - Согласованность max_cycles с блоком
//
// Существование action в реестре шагов проверяет orchestrator,
// engine список действий не знает.
func Validate(def *domain.WorkflowDefinition) error {
	if def == nil || len(def.Stages) == 0 {
		return ErrEmptyStages
	}

	names := make(map[string]bool)
	for i := range def.Stages {
		if err := ValidateStage(&def.Stages[i], names); err != nil {
			return err
		}
	}

	if err := validateCycleBlock(def.Stages); err != nil {
		return err
	}

	return validateMaxCycles(def)
}

// ValidateStage валидирует одну стадию.
// names — уже встреченные имена стадий (для проверки уникальности).
func ValidateStage(stage *domain.StageStep, names map[string]bool) error {
	if strings.TrimSpace(stage.Name) == "" {
		return NewValidationError("", "name", "stage has empty name", ErrEmptyStageName)
	}

	if names[stage.Name] {
		return NewValidationError(stage.Name, "name",
			fmt.Sprintf("duplicate stage name: %s", stage.Name), ErrDuplicateStageName)
	}
	names[stage.Name] = true

	switch stage.Kind {
	case domain.StageOnce, domain.StagePerCycle:
	default:
		return NewValidationError(stage.Name, "kind",
			fmt.Sprintf("unknown stage kind: %q", stage.Kind), ErrUnknownStageKind)
	}

	if stage.Action == "" {
		return NewValidationError(stage.Name, "action", "stage has empty action", ErrEmptyAction)
	}

	if stage.TimeoutSec < 0 {
		return NewValidationError(stage.Name, "timeout_sec",
			fmt.Sprintf("negative timeout: %d", stage.TimeoutSec), ErrNegativeTimeout)
	}

	if err := CheckTemplates(stage.Config); err != nil {
		return NewValidationError(stage.Name, "config", err.Error(), err)
	}

	return nil
}

// validateCycleBlock проверяет, что per_cycle стадии идут подряд.
func validateCycleBlock(stages []domain.StageStep) error {
	seen, closed := false, false
	for i := range stages {
		switch {
		case stages[i].Kind == domain.StagePerCycle && closed:
			return NewValidationError(stages[i].Name, "kind",
				"per_cycle stage after the cycle block was closed", ErrSplitCycleBlock)
		case stages[i].Kind == domain.StagePerCycle:
			seen = true
		case seen:
			closed = true
		}
	}
	return nil
}

// validateMaxCycles проверяет max_cycles: ≥1 при наличии блока, 0 без него.
func validateMaxCycles(def *domain.WorkflowDefinition) error {
	if def.HasCycles() && def.MaxCycles < 1 {
		return NewValidationError("", "max_cycles",
			fmt.Sprintf("max_cycles must be >= 1 for a per_cycle block, got %d", def.MaxCycles),
			ErrInvalidMaxCycles)
	}
	if !def.HasCycles() && def.MaxCycles != 0 {
		return NewValidationError("", "max_cycles",
			fmt.Sprintf("max_cycles set to %d but workflow has no per_cycle stages", def.MaxCycles),
			ErrInvalidMaxCycles)
	}
	return nil
}

// ParseJSON парсит WorkflowDefinition из JSON и валидирует его.
func ParseJSON(data []byte) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow json: %w", err)
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseYAML парсит WorkflowDefinition из YAML и валидирует его.
func ParseYAML(data []byte) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow yaml: %w", err)
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile читает workflow из файла. Формат определяется по расширению:
// .json, .yaml, .yml.
func LoadFile(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Resolve возвращает workflow по ссылке из конфигурации:
// путь к файлу (если содержит разделитель или расширение) или имя пресета.
func Resolve(ref string) (*domain.WorkflowDefinition, error) {
	if ref == "" {
		ref = PresetClassic
	}
	if strings.ContainsRune(ref, os.PathSeparator) || filepath.Ext(ref) != "" {
		return LoadFile(ref)
	}
	return Preset(ref)
}
