package engine

import "errors"

// Ошибки валидации WorkflowDefinition.
var (
	// ErrEmptyStages — workflow не содержит стадий.
	ErrEmptyStages = errors.New("workflow has no stages")

	// ErrEmptyStageName — стадия не имеет имени.
	ErrEmptyStageName = errors.New("stage has empty name")

	// ErrDuplicateStageName — несколько стадий с одинаковым именем.
	ErrDuplicateStageName = errors.New("duplicate stage name")

	// ErrUnknownStageKind — неизвестный режим стадии.
	ErrUnknownStageKind = errors.New("unknown stage kind")

	// ErrEmptyAction — стадия без действия.
	ErrEmptyAction = errors.New("stage has empty action")

	// ErrSplitCycleBlock — per_cycle стадии разбиты once-стадиями.
	ErrSplitCycleBlock = errors.New("per_cycle stages must form one contiguous block")

	// ErrInvalidMaxCycles — max_cycles не согласован с per_cycle блоком.
	ErrInvalidMaxCycles = errors.New("invalid max_cycles")

	// ErrNegativeTimeout — отрицательный timeout_sec.
	ErrNegativeTimeout = errors.New("negative stage timeout")

	// ErrUnknownPreset — нет встроенного workflow с таким именем.
	ErrUnknownPreset = errors.New("unknown workflow preset")

	// ErrUnsupportedFormat — неизвестный формат файла workflow.
	ErrUnsupportedFormat = errors.New("unsupported workflow file format")
)

// Ошибки шаблонов в конфигурации стадий.
var (
	// ErrTemplateParse — синтаксическая ошибка шаблона.
	ErrTemplateParse = errors.New("template parse error")

	// ErrTemplateRender — ошибка подстановки (например, нет такого ключа).
	ErrTemplateRender = errors.New("template render error")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Stage   string // имя стадии, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Stage != "" {
		return "stage " + e.Stage + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stage, field, message string, err error) *ValidationError {
	return &ValidationError{
		Stage:   stage,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
