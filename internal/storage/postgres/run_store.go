// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-broker/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTaskTable   = "task_runs"
	defaultResultTable = "result_messages"
)

// RunStoreConfig controls the Postgres connection pool used for the ledger.
type RunStoreConfig struct {
	DSN             string
	TaskTable       string
	ResultTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore implements store.RunLedger on Postgres. Expected schema:
//
//	CREATE TABLE task_runs (
//	    id            TEXT PRIMARY KEY,
//	    crawl         TEXT NOT NULL,
//	    worker        TEXT NOT NULL,
//	    redelivered   BOOLEAN NOT NULL,
//	    started_at    TIMESTAMPTZ NOT NULL,
//	    finished_at   TIMESTAMPTZ,
//	    status        TEXT NOT NULL,
//	    error_message TEXT
//	);
//
//	CREATE TABLE result_messages (
//	    id            TEXT PRIMARY KEY,
//	    crawl         TEXT NOT NULL,
//	    filename      TEXT NOT NULL,
//	    chunk_index   INT NOT NULL,
//	    chunk_count   INT NOT NULL,
//	    bytes         INT NOT NULL,
//	    checksum      TEXT NOT NULL,
//	    published     BOOLEAN NOT NULL,
//	    error_message TEXT,
//	    attempted_at  TIMESTAMPTZ NOT NULL
//	);
type RunStore struct {
	pool        execCloser
	taskTable   string
	resultTable string
}

var _ store.RunLedger = (*RunStore)(nil)

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	taskTable, resultTable, err := tableNames(cfg.TaskTable, cfg.ResultTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, taskTable: taskTable, resultTable: resultTable}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, taskTable, resultTable string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	taskTable, resultTable, err := tableNames(taskTable, resultTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, taskTable: taskTable, resultTable: resultTable}, nil
}

func tableNames(task, result string) (string, string, error) {
	if task == "" {
		task = defaultTaskTable
	}
	if result == "" {
		result = defaultResultTable
	}
	for _, name := range []string{task, result} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return task, result, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartTask records a task delivery as running. Re-recording the same id
// leaves the existing row untouched.
func (s *RunStore) StartTask(ctx context.Context, run store.TaskRun) error {
	if run.ID == "" {
		return fmt.Errorf("task id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, crawl, worker, redelivered, started_at, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`, s.taskTable)
	if _, err := s.pool.Exec(ctx, query, run.ID, run.Crawl, run.Worker, run.Redelivered, run.StartedAt, store.TaskRunning); err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	return nil
}

// CompleteTask stamps the final status of a task.
func (s *RunStore) CompleteTask(ctx context.Context, id string, finishedAt time.Time, status store.TaskStatus, errMsg *string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3
WHERE id = $4`, s.taskTable)
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, id); err != nil {
		return fmt.Errorf("complete task run: %w", err)
	}
	return nil
}

// RecordResult inserts one result message attempt.
func (s *RunStore) RecordResult(ctx context.Context, rec store.ResultRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("result id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	crawl,
	filename,
	chunk_index,
	chunk_count,
	bytes,
	checksum,
	published,
	error_message,
	attempted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.resultTable)
	var errMsg *string
	if rec.ErrorText != "" {
		errMsg = &rec.ErrorText
	}
	args := []any{
		rec.ID,
		rec.Crawl,
		rec.Filename,
		rec.ChunkIndex,
		rec.ChunkCount,
		rec.Bytes,
		rec.Checksum,
		rec.Published,
		errMsg,
		rec.AttemptedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result record: %w", err)
	}
	return nil
}
