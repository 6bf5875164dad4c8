package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Labrun/internal/domain"
)

// Значения по умолчанию.
const (
	defaultListLimit = 100
	maxListLimit     = 1000

	orphanMessage = "orphaned by restart"
)

// EventJournal — журнал событий статуса в PostgreSQL.
//
// Реализует orchestrator.StatusSink: каждое событие добавляется
// в test_events, а сводка прогона в test_runs обновляется.
type EventJournal struct {
	pool *pgxpool.Pool
}

// NewEventJournal создаёт новый EventJournal.
func NewEventJournal(pool *pgxpool.Pool) *EventJournal {
	return &EventJournal{pool: pool}
}

// EventRecord — событие из журнала.
type EventRecord struct {
	ID    int64      `json:"id"`
	RunID *uuid.UUID `json:"run_id,omitempty"`
	domain.StatusEvent
}

// RunFilter — параметры выборки прогонов.
type RunFilter struct {
	TestID string
	Limit  int
}

// PublishStatus записывает событие.
// События без RunID (already_running) пишутся только в test_events.
func (j *EventJournal) PublishStatus(ctx context.Context, event domain.StatusEvent) error {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var runID *uuid.UUID
	if event.RunID != uuid.Nil {
		runID = &event.RunID
		if err := upsertRun(ctx, tx, event); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO test_events (run_id, test_id, status, stage, cycle, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, query,
		runID,
		event.TestID,
		string(event.Status),
		event.Stage,
		event.Cycle,
		nullString(event.Message),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// upsertRun обновляет сводку прогона по событию.
// stopped и финальные статусы закрывают прогон.
func upsertRun(ctx context.Context, tx pgx.Tx, event domain.StatusEvent) error {
	var finishedAt *time.Time
	if event.Status.IsFinished() {
		finishedAt = &event.Timestamp
	}

	query := `
		INSERT INTO test_runs (run_id, test_id, status, stage, cycle, message, started_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
		ON CONFLICT (run_id) DO UPDATE
		SET status      = EXCLUDED.status,
		    stage       = COALESCE(EXCLUDED.stage, test_runs.stage),
		    cycle       = EXCLUDED.cycle,
		    message     = EXCLUDED.message,
		    updated_at  = EXCLUDED.updated_at,
		    finished_at = COALESCE(test_runs.finished_at, EXCLUDED.finished_at)
	`
	_, err := tx.Exec(ctx, query,
		event.RunID,
		event.TestID,
		string(event.Status),
		event.Stage,
		event.Cycle,
		nullString(event.Message),
		event.Timestamp,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// ListEvents возвращает события теста в порядке публикации.
func (j *EventJournal) ListEvents(ctx context.Context, testID string, limit int) ([]EventRecord, error) {
	query := `
		SELECT id, run_id, test_id, status, stage, cycle, message, created_at
		FROM (
			SELECT * FROM test_events
			WHERE test_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC
	`
	rows, err := j.pool.Query(ctx, query, testID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var rec EventRecord
		var status string
		var message *string

		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.TestID,
			&status,
			&rec.Stage,
			&rec.Cycle,
			&message,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		rec.Status = domain.TestStatus(status)
		if message != nil {
			rec.Message = *message
		}
		if rec.RunID != nil {
			rec.StatusEvent.RunID = *rec.RunID
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}

// ListRuns возвращает прогоны, новые первыми.
func (j *EventJournal) ListRuns(ctx context.Context, filter RunFilter) ([]domain.RunSummary, error) {
	query := `
		SELECT run_id, test_id, status, stage, cycle, message, started_at, updated_at, finished_at
		FROM test_runs
		WHERE ($1::text IS NULL OR test_id = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := j.pool.Query(ctx, query, nullString(filter.TestID), clampLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun возвращает прогон по RunID.
func (j *EventJournal) GetRun(ctx context.Context, runID uuid.UUID) (*domain.RunSummary, error) {
	query := `
		SELECT run_id, test_id, status, stage, cycle, message, started_at, updated_at, finished_at
		FROM test_runs
		WHERE run_id = $1
	`
	run, err := scanRun(j.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// MarkOrphaned закрывает прогоны, оставшиеся незавершёнными после
// прошлого процесса: реестр не переживает рестарт, и такие тесты
// уже никто не ведёт. Вызывается при старте до приёма команд.
func (j *EventJournal) MarkOrphaned(ctx context.Context) (int64, error) {
	query := `
		UPDATE test_runs
		SET status = $1, message = $2, updated_at = now(), finished_at = now()
		WHERE finished_at IS NULL
	`
	result, err := j.pool.Exec(ctx, query, string(domain.StatusError), orphanMessage)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

// scanRun сканирует одну строку в RunSummary.
func scanRun(row pgx.Row) (*domain.RunSummary, error) {
	var run domain.RunSummary
	var status string
	var message *string

	err := row.Scan(
		&run.RunID,
		&run.TestID,
		&status,
		&run.Stage,
		&run.Cycle,
		&message,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = domain.TestStatus(status)
	if message != nil {
		run.Message = *message
	}
	return &run, nil
}

// clampLimit ограничивает размер выборки.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
