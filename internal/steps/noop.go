package steps

import "context"

// StepTypeNoop — пустое действие.
const StepTypeNoop = "noop"

// NoopStep — стадия без внешней работы (например, чистый анализ в логах).
type NoopStep struct{}

// NewNoopStep создаёт новый NoopStep.
func NewNoopStep() *NoopStep {
	return &NoopStep{}
}

// Type возвращает тип шага.
func (s *NoopStep) Type() string {
	return StepTypeNoop
}

// Execute сразу возвращает пустой результат.
func (s *NoopStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	return EmptyResponse(), nil
}
