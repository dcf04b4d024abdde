// Package jobqueue implements a persistent, at-least-once task queue on
// Postgres. Tasks carry an optional singleton key: while a task with that key
// is pending or running, enqueueing the same key is a no-op, which guarantees
// at most one concurrent execution per key cluster-wide.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusDead      = "dead"
)

// DefaultLeaseDuration bounds how long a claimed task stays invisible to
// other workers. A worker that dies mid-task releases it implicitly once the
// lease expires.
const DefaultLeaseDuration = 10 * time.Minute

// Task is one persisted unit of work.
type Task struct {
	ID           int64
	Kind         string
	SingletonKey string
	Payload      json.RawMessage
	Status       string
	Attempts     int
	MaxAttempts  int
	RunAt        time.Time
	LockedUntil  time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HealthSummary aggregates queue counts per lifecycle state.
type HealthSummary struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Dead      int `json:"dead"`
}

// Queue persists and claims tasks.
type Queue struct {
	pool        *pgxpool.Pool
	maxAttempts int
	lease       time.Duration
}

// NewQueue wires a queue backed by pgxpool.
func NewQueue(pool *pgxpool.Pool, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{pool: pool, maxAttempts: maxAttempts, lease: DefaultLeaseDuration}
}

// Enqueue inserts a task. When singletonKey is non-empty and an unfinished
// task with the same (kind, key) exists, the insert is suppressed and false
// is returned.
func (q *Queue) Enqueue(ctx context.Context, kind string, singletonKey string, payload any) (bool, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	tag, err := q.pool.Exec(
		ctx,
		`INSERT INTO queue_tasks (kind, singleton_key, payload, max_attempts)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, singleton_key) WHERE singleton_key <> '' AND status IN ('pending', 'running')
		 DO NOTHING`,
		kind,
		singletonKey,
		payloadJSON,
		q.maxAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Claim atomically takes one due pending task, or returns nil when none is
// available. Running tasks whose lease has lapsed are claimable too, so a
// task orphaned by a crashed worker is redelivered instead of staying
// running forever; the redelivery counts as a fresh attempt. SKIP LOCKED
// keeps concurrent workers from contending on the same row.
func (q *Queue) Claim(ctx context.Context) (*Task, error) {
	row := q.pool.QueryRow(
		ctx,
		`UPDATE queue_tasks SET status = 'running', attempts = attempts + 1, locked_until = now() + $1, updated_at = now()
		 WHERE id = (
		     SELECT id FROM queue_tasks
		     WHERE (status = 'pending' AND run_at <= now())
		        OR (status = 'running' AND locked_until IS NOT NULL AND locked_until <= now())
		     ORDER BY run_at
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, singleton_key, payload, status, attempts, max_attempts, run_at, locked_until, last_error, created_at, updated_at`,
		q.lease,
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// Complete marks a running task done.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	if _, err := q.pool.Exec(
		ctx,
		`UPDATE queue_tasks SET status = 'completed', locked_until = NULL, updated_at = now() WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// Fail records a handler failure. The task is rescheduled with exponential
// backoff until its attempts are exhausted, then dead-lettered.
func (q *Queue) Fail(ctx context.Context, task *Task, handlerErr error, backoffBase time.Duration) error {
	message := ""
	if handlerErr != nil {
		message = handlerErr.Error()
	}

	if task.Attempts >= task.MaxAttempts {
		if _, err := q.pool.Exec(
			ctx,
			`UPDATE queue_tasks SET status = 'dead', locked_until = NULL, last_error = $2, updated_at = now() WHERE id = $1`,
			task.ID,
			message,
		); err != nil {
			return fmt.Errorf("failed to dead-letter task: %w", err)
		}
		return nil
	}

	delay := BackoffDelay(backoffBase, task.Attempts)
	if _, err := q.pool.Exec(
		ctx,
		`UPDATE queue_tasks SET status = 'pending', run_at = now() + $2, locked_until = NULL, last_error = $3, updated_at = now() WHERE id = $1`,
		task.ID,
		delay,
		message,
	); err != nil {
		return fmt.Errorf("failed to reschedule task: %w", err)
	}
	return nil
}

// Health returns aggregate counts across statuses.
func (q *Queue) Health(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary
	err := q.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'running'),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'dead')
		 FROM queue_tasks`,
	).Scan(&summary.Pending, &summary.Running, &summary.Completed, &summary.Dead)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("failed to summarize queue: %w", err)
	}
	return summary, nil
}

// BackoffDelay doubles per attempt from base, capped at one hour.
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	if delay > time.Hour {
		return time.Hour
	}
	return delay
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		task        Task
		lastError   pgtype.Text
		runAt       pgtype.Timestamptz
		lockedUntil pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(
		&task.ID,
		&task.Kind,
		&task.SingletonKey,
		&task.Payload,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&runAt,
		&lockedUntil,
		&lastError,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if lastError.Valid {
		task.LastError = lastError.String
	}
	if runAt.Valid {
		task.RunAt = runAt.Time
	}
	if lockedUntil.Valid {
		task.LockedUntil = lockedUntil.Time
	}
	if createdAt.Valid {
		task.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		task.UpdatedAt = updatedAt.Time
	}

	return &task, nil
}
