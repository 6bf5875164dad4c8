package steps

import (
	"context"
	"fmt"
	"time"
)

const (
	// StepTypeDelay — тип шага симулированной работы.
	StepTypeDelay = "delay"

	// Ключи конфигурации delay.
	configDurationSec = "duration_sec"
	configDurationMs  = "duration_ms"
)

// DelayStep — симуляция работы стадии паузой.
//
// Без явной длительности стадия длится 3 + 0.5*position секунд,
// как в симуляторе прибора.
//
// Конфигурация:
//
//	{
//	    "duration_sec": 3.5,   // задержка в секундах (может быть дробной)
//	    // или
//	    "duration_ms": 500     // задержка в миллисекундах
//	}
type DelayStep struct {
	// Scale — множитель длительности (тесты используют маленькие значения).
	Scale float64
}

// NewDelayStep создаёт новый DelayStep.
func NewDelayStep() *DelayStep {
	return &DelayStep{Scale: 1}
}

// Type возвращает тип шага.
func (s *DelayStep) Type() string {
	return StepTypeDelay
}

// Execute выполняет задержку.
func (s *DelayStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	duration, err := s.parseDuration(req)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	case <-timer.C:
		return &Response{
			Outputs: map[string]any{
				"duration_ms": duration.Milliseconds(),
			},
		}, nil
	}
}

// parseDuration извлекает длительность из конфигурации.
func (s *DelayStep) parseDuration(req *Request) (time.Duration, error) {
	var seconds float64

	switch {
	case GetConfigFloat(req.Config, configDurationSec) > 0:
		seconds = GetConfigFloat(req.Config, configDurationSec)
	case GetConfigInt(req.Config, configDurationMs) > 0:
		seconds = float64(GetConfigInt(req.Config, configDurationMs)) / 1000
	case req.Position > 0:
		seconds = 3 + 0.5*float64(req.Position)
	default:
		return 0, fmt.Errorf("%w: %s: duration_sec or duration_ms required",
			ErrInvalidConfig, StepTypeDelay)
	}

	scale := s.Scale
	if scale <= 0 {
		scale = 1
	}

	return time.Duration(seconds * scale * float64(time.Second)), nil
}
