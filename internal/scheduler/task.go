package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/weblate/distributor/internal/domain"
)

// Func is the body of a task. It receives the task so periodic work can
// cancel itself.
type Func func(ctx context.Context, t *Task) error

// Task is a handle on scheduled work.
type Task struct {
	id     uint64
	name   string
	where  domain.TaskContext
	fn     Func
	period uint64

	// guarded by Scheduler.mu
	due       uint64
	seq       uint64
	heapIndex int

	state     atomic.Int32
	cancelled atomic.Bool
	runs      atomic.Int64

	mu  sync.Mutex
	err error

	done     chan struct{}
	doneOnce sync.Once
	sched    *Scheduler
}

func newTask(s *Scheduler, name string, where domain.TaskContext, fn Func, period uint64) *Task {
	return &Task{
		id:        s.nextID.Add(1),
		name:      name,
		where:     where,
		fn:        fn,
		period:    period,
		heapIndex: -1,
		done:      make(chan struct{}),
		sched:     s,
	}
}

// ID returns the task id, unique per scheduler.
func (t *Task) ID() uint64 { return t.id }

// Name returns the label given at submission, used in logs.
func (t *Task) Name() string { return t.name }

// Context reports where the task runs.
func (t *Task) Context() domain.TaskContext { return t.where }

// Periodic reports whether the task repeats.
func (t *Task) Periodic() bool { return t.period > 0 }

// State returns the current lifecycle state.
func (t *Task) State() domain.TaskState { return domain.TaskState(t.state.Load()) }

// Runs returns how many times the body has executed.
func (t *Task) Runs() int64 { return t.runs.Load() }

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the error of the most recent run, including recovered panics.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Cancel stops the task from running again. It is idempotent. A task that
// is running finishes its current run and is not re-enqueued.
func (t *Task) Cancel() {
	if t.State().Terminal() {
		return
	}
	t.cancelled.Store(true)
	if t.state.CompareAndSwap(int32(domain.TaskPending), int32(domain.TaskCancelled)) {
		t.sched.unschedule(t)
		t.finish()
	}
}

func (t *Task) String() string {
	if t.name != "" {
		return fmt.Sprintf("task#%d(%s)", t.id, t.name)
	}
	return fmt.Sprintf("task#%d", t.id)
}

// drop cancels a pending task without touching the scheduler.
func (t *Task) drop() {
	t.cancelled.Store(true)
	if t.state.CompareAndSwap(int32(domain.TaskPending), int32(domain.TaskCancelled)) {
		t.finish()
	}
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *Task) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// call runs the body, turning a panic into an error.
func (t *Task) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx, t)
}
