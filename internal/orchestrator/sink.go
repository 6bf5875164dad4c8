package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Labrun/internal/domain"
	"github.com/shaiso/Labrun/internal/telemetry"
)

// StatusSink — получатель событий статуса.
//
// Реализации: mq.Publisher (шина), repo.EventJournal (журнал в БД).
type StatusSink interface {
	PublishStatus(ctx context.Context, event domain.StatusEvent) error
}

// SinkFunc — адаптер функции к StatusSink.
type SinkFunc func(ctx context.Context, event domain.StatusEvent) error

// PublishStatus вызывает f(ctx, event).
func (f SinkFunc) PublishStatus(ctx context.Context, event domain.StatusEvent) error {
	return f(ctx, event)
}

// namedSink — получатель с именем для метрик и логов.
type namedSink struct {
	name string
	sink StatusSink
}

// MultiSink рассылает событие всем получателям по порядку.
// Ошибка одного получателя не мешает остальным.
type MultiSink struct {
	sinks []namedSink
}

// NewMultiSink создаёт пустой MultiSink.
func NewMultiSink() *MultiSink {
	return &MultiSink{}
}

// Add добавляет получателя. nil игнорируется.
func (m *MultiSink) Add(name string, sink StatusSink) *MultiSink {
	if sink != nil {
		m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	}
	return m
}

// Len возвращает количество получателей.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// PublishStatus отправляет событие всем получателям.
func (m *MultiSink) PublishStatus(ctx context.Context, event domain.StatusEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.PublishStatus(ctx, event); err != nil {
			telemetry.StatusPublishErrors.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
