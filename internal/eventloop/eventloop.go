package eventloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
)

// Task source names used by the stream bridge.
const (
	Networking      = "networking"
	DOMManipulation = "dom-manipulation"
)

// Canceller drops tasks that were queued before their owner went away.
// Cancel may be called from any goroutine.
type Canceller struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewCanceller returns a live canceller.
func NewCanceller() *Canceller { return &Canceller{done: make(chan struct{})} }

// Cancel marks every task queued with c as dead.
func (c *Canceller) Cancel() {
	c.cancelled.Store(true)
	c.once.Do(func() { close(c.done) })
}

// Done is closed once Cancel is called.
func (c *Canceller) Done() <-chan struct{} { return c.done }

// Cancelled reports whether Cancel was called.
func (c *Canceller) Cancelled() bool { return c != nil && c.cancelled.Load() }

type queuedTask struct {
	fn        func()
	source    string
	canceller *Canceller
}

// EventLoop is the owning execution context for streams. Tasks may be
// queued from any goroutine; they run, in FIFO order, only on the goroutine
// that calls RunOnce/RunUntilIdle/Drain/Run. A microtask checkpoint follows
// every task.
type EventLoop struct {
	mu      sync.Mutex
	tasks   []queuedTask
	pending int
	closed  bool
	wake    chan struct{}

	// Owned by the loop goroutine.
	microtasks   []func()
	inCheckpoint bool

	logger *zap.Logger
}

// New creates a new EventLoop. A nil logger disables logging.
func New(logger *zap.Logger) *EventLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLoop{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Queue appends fn to the generic task queue.
func (el *EventLoop) Queue(fn func()) error {
	return el.enqueue(queuedTask{fn: fn, source: DOMManipulation})
}

// TaskSource returns a handle that tags tasks with name.
func (el *EventLoop) TaskSource(name string) *TaskSource {
	return &TaskSource{name: name, loop: el}
}

func (el *EventLoop) enqueue(t queuedTask) error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return fmt.Errorf("queueing %s task: %w", t.source, core.ErrLoopClosed)
	}
	el.tasks = append(el.tasks, t)
	el.mu.Unlock()
	el.signal()
	return nil
}

func (el *EventLoop) signal() {
	select {
	case el.wake <- struct{}{}:
	default:
	}
}

// QueueMicrotask schedules fn for the next microtask checkpoint. It must be
// called on the loop goroutine.
func (el *EventLoop) QueueMicrotask(fn func()) {
	el.microtasks = append(el.microtasks, fn)
}

// PerformMicrotaskCheckpoint runs microtasks until the queue is empty,
// including microtasks queued by microtasks. Nested calls are no-ops.
func (el *EventLoop) PerformMicrotaskCheckpoint() {
	if el.inCheckpoint {
		return
	}
	el.inCheckpoint = true
	defer func() { el.inCheckpoint = false }()
	for len(el.microtasks) > 0 {
		fn := el.microtasks[0]
		el.microtasks[0] = nil
		el.microtasks = el.microtasks[1:]
		fn()
	}
	el.microtasks = nil
}

// RunOnce runs the oldest queued task followed by a microtask checkpoint.
// Tasks whose canceller fired are discarded. It returns false when the task
// queue was empty.
func (el *EventLoop) RunOnce() bool {
	el.mu.Lock()
	if len(el.tasks) == 0 {
		el.mu.Unlock()
		return false
	}
	t := el.tasks[0]
	el.tasks[0] = queuedTask{}
	el.tasks = el.tasks[1:]
	el.mu.Unlock()

	if t.canceller.Cancelled() {
		el.logger.Debug("dropping cancelled task", zap.String("source", t.source))
		return true
	}
	t.fn()
	el.PerformMicrotaskCheckpoint()
	return true
}

// RunUntilIdle flushes microtasks, then runs tasks until none are queued.
// Work still owned by producer goroutines is not waited for. It reports
// whether anything ran.
func (el *EventLoop) RunUntilIdle() bool {
	ran := len(el.microtasks) > 0
	el.PerformMicrotaskCheckpoint()
	for el.RunOnce() {
		ran = true
	}
	return ran
}

// WaitForTask blocks until a task is queued, a producer finishes, the loop
// closes or ctx is done. It reports whether a task is queued.
func (el *EventLoop) WaitForTask(ctx context.Context) bool {
	if el.hasTasks() {
		return true
	}
	select {
	case <-el.wake:
	case <-ctx.Done():
	}
	return el.hasTasks()
}

func (el *EventLoop) hasTasks() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.tasks) > 0
}

// AddPending records an outstanding producer that will queue tasks later.
func (el *EventLoop) AddPending() {
	el.mu.Lock()
	el.pending++
	el.mu.Unlock()
}

// DonePending balances a prior AddPending.
func (el *EventLoop) DonePending() {
	el.mu.Lock()
	if el.pending > 0 {
		el.pending--
	}
	el.mu.Unlock()
	el.signal()
}

// HasPending returns true if tasks are queued or producers are outstanding.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.tasks) > 0 || el.pending > 0
}

// Drain runs tasks until the loop is idle with no outstanding producers, or
// until the deadline passes. Must be called on the loop goroutine.
func (el *EventLoop) Drain(deadline time.Time) error {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	for {
		el.RunUntilIdle()
		if !el.HasPending() {
			return nil
		}
		select {
		case <-el.wake:
		case <-ctx.Done():
			el.RunUntilIdle()
			if !el.HasPending() {
				return nil
			}
			return fmt.Errorf("draining event loop: %w", ctx.Err())
		}
	}
}

// Run processes tasks until ctx is done or the loop is closed.
func (el *EventLoop) Run(ctx context.Context) error {
	for {
		el.RunUntilIdle()
		el.mu.Lock()
		closed := el.closed
		el.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-el.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects further tasks and discards queued ones.
func (el *EventLoop) Close() {
	el.mu.Lock()
	dropped := len(el.tasks)
	el.closed = true
	el.tasks = nil
	el.mu.Unlock()
	el.signal()
	if dropped > 0 {
		el.logger.Debug("event loop closed with queued tasks", zap.Int("dropped", dropped))
	}
}

// Closed reports whether Close was called.
func (el *EventLoop) Closed() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.closed
}

// Reset clears all queued work and reopens the loop.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	el.tasks = nil
	el.pending = 0
	el.closed = false
	el.mu.Unlock()
	el.microtasks = nil
	select {
	case <-el.wake:
	default:
	}
}

// TaskSource queues tasks tagged with a source name.
type TaskSource struct {
	name string
	loop *EventLoop
}

// Name returns the task source name.
func (ts *TaskSource) Name() string { return ts.name }

// Queue appends fn to the loop's task queue.
func (ts *TaskSource) Queue(fn func()) error {
	return ts.loop.enqueue(queuedTask{fn: fn, source: ts.name})
}

// QueueWithCanceller appends fn; the task is skipped if c fires first.
func (ts *TaskSource) QueueWithCanceller(fn func(), c *Canceller) error {
	return ts.loop.enqueue(queuedTask{fn: fn, source: ts.name, canceller: c})
}
