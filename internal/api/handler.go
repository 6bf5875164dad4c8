package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Labrun/internal/domain"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/gate"
	"github.com/shaiso/Labrun/internal/registry"
	"github.com/shaiso/Labrun/internal/repo"
)

// Tests — операции оркестратора, доступные через API.
type Tests interface {
	Start(testID string) error
	Stop(testID string) error
	Confirm(testID string, confirmed bool) error
	ActiveTests() []registry.Entry
	Pending(testID string) (gate.Pending, bool)
	Plan() *engine.Plan
}

// Journal — чтение истории прогонов.
type Journal interface {
	ListEvents(ctx context.Context, testID string, limit int) ([]repo.EventRecord, error)
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.RunSummary, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	tests   Tests
	journal Journal
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Tests Tests

	// Journal — журнал прогонов. Nil, если БД не настроена:
	// тогда /events и /runs отвечают 503.
	Journal Journal

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		tests:   cfg.Tests,
		journal: cfg.Journal,
		logger:  cfg.Logger,
	}
}
