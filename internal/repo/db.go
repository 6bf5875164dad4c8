package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool открывает пул соединений и проверяет доступность БД.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database url")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// schema — таблицы журнала. Идемпотентна.
const schema = `
CREATE TABLE IF NOT EXISTS test_runs (
	run_id      UUID PRIMARY KEY,
	test_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	stage       INT,
	cycle       INT,
	message     TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS test_runs_test_id_idx ON test_runs (test_id, started_at DESC);
CREATE INDEX IF NOT EXISTS test_runs_unfinished_idx ON test_runs (run_id) WHERE finished_at IS NULL;

CREATE TABLE IF NOT EXISTS test_events (
	id         BIGSERIAL PRIMARY KEY,
	run_id     UUID REFERENCES test_runs (run_id) ON DELETE CASCADE,
	test_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      INT,
	cycle      INT,
	message    TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS test_events_test_id_idx ON test_events (test_id, id);
`

// EnsureSchema создаёт таблицы журнала, если их нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
