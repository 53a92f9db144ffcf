package store

import (
	"context"
	"time"
)

// TaskStatus mirrors the task_runs.status column.
type TaskStatus string

// Task statuses persisted in task_runs.status.
const (
	TaskRunning      TaskStatus = "running"
	TaskDiscarded    TaskStatus = "discarded"
	TaskSucceeded    TaskStatus = "succeeded"
	TaskUnsuccessful TaskStatus = "unsuccessful"
	TaskFailed       TaskStatus = "failed"
)

// TaskRun is one delivery of a task message to a worker.
type TaskRun struct {
	// ID is the broker message id, or a generated id when the producer set none.
	ID          string
	Crawl       string
	Worker      string
	Redelivered bool
	StartedAt   time.Time
}

// ResultRecord is one result message a finalizer attempted to publish.
type ResultRecord struct {
	ID         string
	Crawl      string
	Filename   string
	ChunkIndex int
	ChunkCount int
	Bytes      int
	// Checksum is "sha256:" followed by the hex digest of the message data.
	Checksum string
	// Published is false when the publish call failed; ErrorText then holds the reason.
	Published   bool
	ErrorText   string
	AttemptedAt time.Time
}

// RunLedger records what happened to tasks and results.
type RunLedger interface {
	StartTask(ctx context.Context, run TaskRun) error
	CompleteTask(ctx context.Context, id string, finishedAt time.Time, status TaskStatus, errMsg *string) error
	RecordResult(ctx context.Context, rec ResultRecord) error
}

// NopLedger discards every record. It is used when no database is configured.
type NopLedger struct{}

// StartTask does nothing.
func (NopLedger) StartTask(context.Context, TaskRun) error { return nil }

// CompleteTask does nothing.
func (NopLedger) CompleteTask(context.Context, string, time.Time, TaskStatus, *string) error {
	return nil
}

// RecordResult does nothing.
func (NopLedger) RecordResult(context.Context, ResultRecord) error { return nil }
