package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one claimed task. Returning an error sends the task back
// through the retry/backoff machinery.
type Handler func(ctx context.Context, task Task) error

// TaskSource is the slice of Queue the worker drives.
type TaskSource interface {
	Claim(ctx context.Context) (*Task, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, task *Task, handlerErr error, backoffBase time.Duration) error
}

// Worker polls the queue and dispatches tasks to registered handlers. One
// worker processes one task at a time; scale out with more workers for
// throughput across different singleton keys.
type Worker struct {
	queue        TaskSource
	handlers     map[string]Handler
	pollInterval time.Duration
	backoffBase  time.Duration
	logger       zerolog.Logger
}

// NewWorker creates a worker over the queue.
func NewWorker(queue TaskSource, pollInterval, backoffBase time.Duration, logger zerolog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	return &Worker{
		queue:        queue,
		handlers:     make(map[string]Handler),
		pollInterval: pollInterval,
		backoffBase:  backoffBase,
		logger:       logger.With().Str("component", "jobqueue").Logger(),
	}
}

// Register binds a handler to a task kind. Must be called before Run.
func (w *Worker) Register(kind string, handler Handler) {
	w.handlers[kind] = handler
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		// Drain everything due before going back to sleep.
		for {
			processed, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("queue poll failed")
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes at most one task. Returns whether a task was
// processed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	logger := w.logger.With().
		Int64("task_id", task.ID).
		Str("kind", task.Kind).
		Str("singleton_key", task.SingletonKey).
		Int("attempt", task.Attempts).
		Logger()

	handler, ok := w.handlers[task.Kind]
	if !ok {
		logger.Error().Msg("no handler registered for task kind")
		return true, w.queue.Fail(ctx, task, fmt.Errorf("no handler for kind %q", task.Kind), w.backoffBase)
	}

	logger.Info().Msg("task started")
	if handlerErr := w.handler(ctx, handler, *task); handlerErr != nil {
		logger.Error().Err(handlerErr).Msg("task failed")
		if failErr := w.queue.Fail(ctx, task, handlerErr, w.backoffBase); failErr != nil {
			return true, failErr
		}
		return true, nil
	}

	logger.Info().Msg("task completed")
	return true, w.queue.Complete(ctx, task.ID)
}

func (w *Worker) handler(ctx context.Context, handler Handler, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler(ctx, task)
}
