package steps

import (
	"context"
	"errors"
	"time"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrActionFailed — внешнее действие сообщило о неудаче.
	ErrActionFailed = errors.New("stage action failed")
)

// Step — интерфейс для типов действий стадии.
//
// Каждый тип (delay, script, actuator, noop) реализует этот интерфейс.
type Step interface {
	// Type возвращает тип шага.
	Type() string

	// Execute выполняет действие стадии и возвращает результат.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения стадии.
type Request struct {
	// TestID — тест, в рамках которого выполняется стадия.
	TestID string

	// Stage — имя стадии.
	Stage string

	// Position — позиция стадии в workflow (с 1).
	Position int

	// Cycle — номер цикла; 0 вне per-cycle блока.
	Cycle int

	// Config — конфигурация действия из StageStep.
	Config map[string]any

	// Timeout — таймаут выполнения.
	// Если 0, используется таймаут по умолчанию.
	Timeout time.Duration
}

// Response — результат выполнения стадии.
type Response struct {
	// Outputs — выходные данные действия (попадают в лог).
	Outputs map[string]any
}

// NewRequest создаёт новый Request.
func NewRequest(testID, stage string, position, cycle int, config map[string]any, timeout time.Duration) *Request {
	if config == nil {
		config = make(map[string]any)
	}
	return &Request{
		TestID:   testID,
		Stage:    stage,
		Position: position,
		Cycle:    cycle,
		Config:   config,
		Timeout:  timeout,
	}
}

// NewResponse создаёт новый Response с outputs.
func NewResponse(outputs map[string]any) *Response {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &Response{
		Outputs: outputs,
	}
}

// EmptyResponse возвращает пустой Response.
func EmptyResponse() *Response {
	return &Response{
		Outputs: make(map[string]any),
	}
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigFloat извлекает дробное значение из конфига.
func GetConfigFloat(config map[string]any, key string) float64 {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigStrings извлекает список строк из конфига.
// Нестроковые элементы пропускаются.
func GetConfigStrings(config map[string]any, key string) []string {
	v, ok := config[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		result := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
