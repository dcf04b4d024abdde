package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memSource mirrors the queue's claim rules in memory: a task is claimable
// when it is pending and due, or when it is running past its lease.
type memSource struct {
	tasks []*Task
	lease time.Duration
	now   time.Time

	completed []int64
	failed    []int64
}

func newMemSource() *memSource {
	return &memSource{lease: DefaultLeaseDuration, now: time.Now()}
}

func (m *memSource) Claim(_ context.Context) (*Task, error) {
	for _, task := range m.tasks {
		due := task.Status == StatusPending && !task.RunAt.After(m.now)
		orphaned := task.Status == StatusRunning && !task.LockedUntil.IsZero() && !task.LockedUntil.After(m.now)
		if due || orphaned {
			task.Status = StatusRunning
			task.Attempts++
			task.LockedUntil = m.now.Add(m.lease)
			copied := *task
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSource) Complete(_ context.Context, id int64) error {
	m.completed = append(m.completed, id)
	for _, task := range m.tasks {
		if task.ID == id {
			task.Status = StatusCompleted
			task.LockedUntil = time.Time{}
		}
	}
	return nil
}

func (m *memSource) Fail(_ context.Context, failed *Task, _ error, backoffBase time.Duration) error {
	m.failed = append(m.failed, failed.ID)
	for _, task := range m.tasks {
		if task.ID != failed.ID {
			continue
		}
		if failed.Attempts >= failed.MaxAttempts {
			task.Status = StatusDead
		} else {
			task.Status = StatusPending
			task.RunAt = m.now.Add(BackoffDelay(backoffBase, failed.Attempts))
		}
		task.LockedUntil = time.Time{}
	}
	return nil
}

func newTestWorker(source TaskSource, handled *[]int64) *Worker {
	worker := NewWorker(source, time.Second, time.Second, zerolog.Nop())
	worker.Register("import", func(_ context.Context, task Task) error {
		*handled = append(*handled, task.ID)
		return nil
	})
	return worker
}

func TestWorkerRunOnceCompletesTask(t *testing.T) {
	source := newMemSource()
	source.tasks = append(source.tasks, &Task{ID: 1, Kind: "import", Status: StatusPending, MaxAttempts: 5, RunAt: source.now})

	var handled []int64
	worker := newTestWorker(source, &handled)

	processed, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if !processed {
		t.Fatal("expected a task to be processed")
	}
	if len(handled) != 1 || handled[0] != 1 {
		t.Fatalf("handled = %v, want [1]", handled)
	}
	if len(source.completed) != 1 || source.completed[0] != 1 {
		t.Fatalf("completed = %v, want [1]", source.completed)
	}
}

func TestWorkerRedeliversOrphanedTask(t *testing.T) {
	// A previous worker claimed the task and died before finishing. Once the
	// lease lapses the task must be claimable again.
	source := newMemSource()
	source.tasks = append(source.tasks, &Task{
		ID:          7,
		Kind:        "import",
		Status:      StatusRunning,
		Attempts:    1,
		MaxAttempts: 5,
		RunAt:       source.now.Add(-time.Hour),
		LockedUntil: source.now.Add(-time.Minute),
	})

	var handled []int64
	worker := newTestWorker(source, &handled)

	processed, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if !processed {
		t.Fatal("expected the orphaned task to be redelivered")
	}
	if len(handled) != 1 || handled[0] != 7 {
		t.Fatalf("handled = %v, want [7]", handled)
	}
	if got := source.tasks[0].Attempts; got != 2 {
		t.Fatalf("attempts = %d, want 2 (redelivery counts as a fresh attempt)", got)
	}
	if source.tasks[0].Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", source.tasks[0].Status)
	}
}

func TestWorkerLeavesLeasedTaskAlone(t *testing.T) {
	source := newMemSource()
	source.tasks = append(source.tasks, &Task{
		ID:          3,
		Kind:        "import",
		Status:      StatusRunning,
		Attempts:    1,
		MaxAttempts: 5,
		LockedUntil: source.now.Add(5 * time.Minute),
	})

	var handled []int64
	worker := newTestWorker(source, &handled)

	processed, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if processed {
		t.Fatal("a task under an unexpired lease must not be reclaimed")
	}
	if len(handled) != 0 {
		t.Fatalf("handled = %v, want none", handled)
	}
}

func TestWorkerFailsTaskAndReschedules(t *testing.T) {
	source := newMemSource()
	source.tasks = append(source.tasks, &Task{ID: 2, Kind: "import", Status: StatusPending, MaxAttempts: 5, RunAt: source.now})

	worker := NewWorker(source, time.Second, time.Second, zerolog.Nop())
	worker.Register("import", func(context.Context, Task) error {
		return errors.New("boom")
	})

	processed, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if !processed {
		t.Fatal("expected a task to be processed")
	}
	if len(source.failed) != 1 || source.failed[0] != 2 {
		t.Fatalf("failed = %v, want [2]", source.failed)
	}
	task := source.tasks[0]
	if task.Status != StatusPending {
		t.Fatalf("status = %q, want pending for retry", task.Status)
	}
	if !task.LockedUntil.IsZero() {
		t.Fatal("lease must be released when a task is rescheduled")
	}
	if !task.RunAt.After(source.now) {
		t.Fatal("retry must be delayed by backoff")
	}
}
