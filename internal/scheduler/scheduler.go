// Package scheduler runs work on the single tick goroutine and on a bounded
// async pool.
//
// The host (or Pump) calls Tick once per game tick. Tasks submitted with
// RunOnTick before a Tick call run during that call, in submission order,
// and tasks submitted while it runs wait for the next one. Delays and
// periods count ticks, not wall time.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/weblate/distributor/internal/domain"
)

// Config holds scheduler configuration.
type Config struct {
	// AsyncWorkers bounds concurrently running async tasks.
	AsyncWorkers int
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{AsyncWorkers: 4}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Tick         uint64
	PendingTick  int
	Delayed      int
	QueuedAsync  int
	RunningAsync int64
	Workers      int
	Closed       bool
}

// Scheduler is safe for concurrent use. Tick must only be called from one
// goroutine at a time.
type Scheduler struct {
	logger  *zap.Logger
	workers int64
	sem     *semaphore.Weighted

	tick   atomic.Uint64
	nextID atomic.Uint64

	mu      sync.Mutex
	inbox   []*Task
	delayed taskHeap
	seq     uint64
	closed  bool

	asyncMu    sync.Mutex
	asyncQueue []*Task
	wake       chan struct{}
	running    atomic.Int64

	tickCtx     context.Context
	cancelTick  context.CancelFunc
	asyncCtx    context.Context
	cancelAsync context.CancelFunc
	feedCtx     context.Context
	cancelFeed  context.CancelFunc

	startOnce  sync.Once
	feederDone chan struct{}
}

// New creates a scheduler. Call Start to begin running async tasks.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.AsyncWorkers <= 0 {
		cfg.AsyncWorkers = DefaultConfig().AsyncWorkers
	}
	s := &Scheduler{
		logger:  logger,
		workers: int64(cfg.AsyncWorkers),
		sem:     semaphore.NewWeighted(int64(cfg.AsyncWorkers)),
		wake:    make(chan struct{}, 1),
	}
	s.tickCtx, s.cancelTick = context.WithCancel(context.Background())
	s.asyncCtx, s.cancelAsync = context.WithCancel(context.Background())
	s.feedCtx, s.cancelFeed = context.WithCancel(context.Background())
	return s
}

// Start launches the async feeder. It is safe to call more than once.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.feederDone = make(chan struct{})
		go s.feed()
		s.logger.Info("scheduler started", zap.Int64("async_workers", s.workers))
	})
}

// CurrentTick returns the number of ticks run so far.
func (s *Scheduler) CurrentTick() uint64 {
	return s.tick.Load()
}

// RunOnTick queues fn for the next Tick. It never blocks.
func (s *Scheduler) RunOnTick(name string, fn Func) (*Task, error) {
	t := newTask(s, name, domain.ContextTick, fn, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSchedulerShutdown
	}
	s.inbox = append(s.inbox, t)
	return t, nil
}

// RunAsync hands fn to the async pool. The caller never waits for it.
func (s *Scheduler) RunAsync(name string, fn Func) (*Task, error) {
	t := newTask(s, name, domain.ContextAsync, fn, 0)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSchedulerShutdown
	}
	s.asyncMu.Lock()
	s.asyncQueue = append(s.asyncQueue, t)
	s.asyncMu.Unlock()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t, nil
}

// RunDelayed runs fn on the tick goroutine ticks ticks from now.
// A delay below one means the next tick.
func (s *Scheduler) RunDelayed(name string, fn Func, ticks uint64) (*Task, error) {
	return s.schedule(newTask(s, name, domain.ContextTick, fn, 0), ticks)
}

// RunPeriodic runs fn on the tick goroutine after delay ticks and then every
// period ticks until cancelled. A failing run is logged and the series
// continues.
func (s *Scheduler) RunPeriodic(name string, fn Func, delay, period uint64) (*Task, error) {
	if period == 0 {
		return nil, errors.New("period must be at least one tick")
	}
	return s.schedule(newTask(s, name, domain.ContextTick, fn, period), delay)
}

// Cancel cancels t. It is idempotent.
func (s *Scheduler) Cancel(t *Task) {
	if t != nil {
		t.Cancel()
	}
}

func (s *Scheduler) schedule(t *Task, delay uint64) (*Task, error) {
	if delay == 0 {
		delay = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSchedulerShutdown
	}
	s.pushLocked(t, dueAfter(s.tick.Load(), delay))
	return t, nil
}

// dueAfter saturates at the largest tick instead of wrapping.
func dueAfter(now, ticks uint64) uint64 {
	if ticks > math.MaxUint64-now {
		return math.MaxUint64
	}
	return now + ticks
}

func (s *Scheduler) pushLocked(t *Task, due uint64) {
	s.seq++
	t.due = due
	t.seq = s.seq
	heap.Push(&s.delayed, t)
}

func (s *Scheduler) unschedule(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.heapIndex >= 0 && t.heapIndex < len(s.delayed) && s.delayed[t.heapIndex] == t {
		heap.Remove(&s.delayed, t.heapIndex)
	}
}

// Tick advances the tick counter and runs, on the calling goroutine, every
// task queued with RunOnTick before the call, then every delayed task now
// due, in due order.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.tick.Add(1)
	batch := s.inbox
	s.inbox = nil
	var due []*Task
	for len(s.delayed) > 0 && s.delayed[0].due <= now {
		due = append(due, heap.Pop(&s.delayed).(*Task))
	}
	s.mu.Unlock()

	for _, t := range batch {
		s.runTick(t, now)
	}
	for _, t := range due {
		s.runTick(t, now)
	}
}

func (s *Scheduler) runTick(t *Task, now uint64) {
	if !t.state.CompareAndSwap(int32(domain.TaskPending), int32(domain.TaskRunning)) {
		return
	}
	s.execute(s.tickCtx, t)

	if t.period == 0 {
		t.state.Store(int32(domain.TaskCompleted))
		t.finish()
		return
	}

	if !t.cancelled.Load() {
		t.state.Store(int32(domain.TaskPending))
		s.mu.Lock()
		if !s.closed && t.State() == domain.TaskPending {
			s.pushLocked(t, dueAfter(now, t.period))
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
	// cancelled during the run, or the scheduler closed meanwhile
	t.cancelled.Store(true)
	t.state.Store(int32(domain.TaskCancelled))
	t.finish()
}

func (s *Scheduler) execute(ctx context.Context, t *Task) {
	err := t.call(ctx)
	t.runs.Add(1)
	t.setErr(err)
	if err != nil {
		s.logger.Error("scheduled task failed",
			zap.Uint64("task", t.id),
			zap.String("name", t.name),
			zap.String("context", string(t.where)),
			zap.Int64("run", t.runs.Load()),
			zap.Error(err))
	}
}

// feed moves queued async tasks onto worker goroutines, one semaphore
// slot each.
func (s *Scheduler) feed() {
	defer close(s.feederDone)
	for {
		if s.feedCtx.Err() != nil {
			return
		}
		t := s.popAsync()
		if t == nil {
			select {
			case <-s.wake:
				continue
			case <-s.feedCtx.Done():
				return
			}
		}
		if err := s.sem.Acquire(s.feedCtx, 1); err != nil {
			t.drop()
			return
		}
		if !t.state.CompareAndSwap(int32(domain.TaskPending), int32(domain.TaskRunning)) {
			s.sem.Release(1)
			continue
		}
		s.running.Add(1)
		go func(t *Task) {
			defer func() {
				s.running.Add(-1)
				s.sem.Release(1)
			}()
			s.execute(s.asyncCtx, t)
			t.state.Store(int32(domain.TaskCompleted))
			t.finish()
		}(t)
	}
}

func (s *Scheduler) popAsync() *Task {
	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()
	if len(s.asyncQueue) == 0 {
		return nil
	}
	t := s.asyncQueue[0]
	s.asyncQueue[0] = nil
	s.asyncQueue = s.asyncQueue[1:]
	return t
}

// Shutdown rejects new work, cancels every pending task and waits for
// running async tasks until ctx ends. When ctx ends first their contexts are
// cancelled and ErrDrainTimeout is returned without waiting further.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	inbox := s.inbox
	delayed := s.delayed
	s.inbox, s.delayed = nil, nil
	for _, t := range delayed {
		t.heapIndex = -1
	}
	s.mu.Unlock()

	dropped := len(inbox) + len(delayed)
	for _, t := range inbox {
		t.drop()
	}
	for _, t := range delayed {
		t.drop()
	}

	s.cancelFeed()
	if s.feederDone != nil {
		<-s.feederDone
	}
	s.asyncMu.Lock()
	queued := s.asyncQueue
	s.asyncQueue = nil
	s.asyncMu.Unlock()
	for _, t := range queued {
		t.drop()
	}
	dropped += len(queued)
	s.cancelTick()

	s.logger.Info("scheduler shutting down",
		zap.Int("dropped", dropped),
		zap.Int64("running_async", s.running.Load()))

	if err := s.sem.Acquire(ctx, s.workers); err != nil {
		s.cancelAsync()
		s.logger.Warn("async tasks did not finish in time",
			zap.Int64("running_async", s.running.Load()))
		return domain.ErrDrainTimeout
	}
	s.sem.Release(s.workers)
	s.cancelAsync()
	return nil
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Tick:        s.tick.Load(),
		PendingTick: len(s.inbox),
		Delayed:     len(s.delayed),
		Closed:      s.closed,
		Workers:     int(s.workers),
	}
	s.mu.Unlock()

	s.asyncMu.Lock()
	st.QueuedAsync = len(s.asyncQueue)
	s.asyncMu.Unlock()
	st.RunningAsync = s.running.Load()
	return st
}
