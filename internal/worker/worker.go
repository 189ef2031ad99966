// ============================================================================
// Workhorse Worker - Capability-Aware Task Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: One goroutine that claims tasks from the queue and runs them
//           through the handler of the task's capability
//
// Main loop (Work):
//   ┌────────────────────────────────────────────────────────┐
//   │ for not Stop and not Quit                              │
//   │   ├─ select capability (multi-capability workers)      │
//   │   │    unload old handler, create + load new one       │
//   │   ├─ claim a task (blocking for dedicated workers)     │
//   │   ├─ clear Idle, handler.Process(task, env)            │
//   │   └─ TaskFinished, set Idle                            │
//   │ unload the active handler                              │
//   └────────────────────────────────────────────────────────┘
//
// Capability selection:
//   Only when no handler is loaded or the active bucket is empty. The
//   largest pending bucket among the allowed capabilities wins; ties go to
//   the configured order. A worker with nothing to do sleeps on a queue
//   subscription and is woken by any queue change or by Stop/Quit.
//
// Failure handling:
//   - Task errors and panics are logged and counted; the task is still
//     finished and never retried.
//   - A handler that fails to load is discarded; the worker waits
//     LoadRetryDelay (or until stopped) and starts a new cycle.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/workhorse/internal/flag"
	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/queue"
	"github.com/ChuLiYu/workhorse/internal/task"
	"github.com/ChuLiYu/workhorse/pkg/types"
)

// Worker executes tasks for a fixed set of capabilities.
type Worker struct {
	id         int
	caps       []string
	reg        *hardware.Registry
	log        *logging.Logger
	obs        Observer
	retryDelay time.Duration

	flags    flag.Flag[State]
	wake     chan struct{} // queue changed; capacity 1
	done     chan struct{} // closed on the first Stop or Quit
	doneOnce sync.Once
	q        atomic.Pointer[queue.Queue]

	// handler is owned by the Work goroutine; mu only guards the name
	// read by Status.
	handler hardware.Handler
	mu      sync.Mutex
	active  string

	processed atomic.Uint64
	failed    atomic.Uint64
}

// New validates cfg against its registry and returns an idle worker.
func New(cfg Config) (*Worker, error) {
	if len(cfg.Capabilities) == 0 {
		return nil, fmt.Errorf("worker %d: %w", cfg.ID, ErrNoCapabilities)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("worker %d: %w", cfg.ID, ErrNoRegistry)
	}
	if err := cfg.Registry.Validate(cfg.Capabilities...); err != nil {
		return nil, fmt.Errorf("worker %d: %w", cfg.ID, err)
	}

	w := &Worker{
		id:         cfg.ID,
		caps:       dedupe(cfg.Capabilities),
		reg:        cfg.Registry,
		log:        cfg.Logger,
		obs:        cfg.Observer,
		retryDelay: cfg.LoadRetryDelay,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if w.log == nil {
		w.log = logging.Nop()
	}
	if w.obs == nil {
		w.obs = nopObserver{}
	}
	if w.retryDelay <= 0 {
		w.retryDelay = DefaultLoadRetryDelay
	}
	w.flags.Add(StateIdle)
	return w, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// ID returns the worker's identifier.
func (w *Worker) ID() int { return w.id }

// Capabilities returns the allowed capabilities in tie-break order.
func (w *Worker) Capabilities() []string {
	out := make([]string, len(w.caps))
	copy(out, w.caps)
	return out
}

// Work runs the main loop against q until Stop or Quit. It blocks.
func (w *Worker) Work(q *queue.Queue) {
	w.q.Store(q)
	w.log.Info("worker started", "worker", w.id, "capabilities", w.caps)

	if len(w.caps) > 1 {
		id := q.Subscribe(w.poke)
		defer q.Unsubscribe(id)
	}
	defer w.shutdown()

	for !w.stopping() {
		var t task.Task
		if len(w.caps) == 1 {
			t = w.nextDedicated(q)
		} else {
			t = w.nextShared(q)
		}
		if t == nil {
			continue
		}
		w.process(q, t)
	}
}

// nextDedicated keeps the single handler loaded and blocks in the queue.
func (w *Worker) nextDedicated(q *queue.Queue) task.Task {
	capability := w.caps[0]
	if w.handler == nil && !w.switchTo(capability) {
		w.backoff()
		return nil
	}
	t, err := q.WaitNextTask(context.Background(), capability, w.stopping)
	if err != nil {
		w.log.Error("wait for task failed", "worker", w.id, "capability", capability, "error", err)
		w.backoff()
		return nil
	}
	return t
}

// nextShared reselects a capability when idle and claims without blocking.
func (w *Worker) nextShared(q *queue.Queue) task.Task {
	if w.handler == nil || q.Pending(w.active) == 0 {
		best := w.pick(q.GetTaskCounts())
		if best == "" {
			w.sleep()
			return nil
		}
		if w.handler == nil || best != w.active {
			if !w.switchTo(best) {
				w.backoff()
				return nil
			}
		}
	}
	// nil when another worker won the race; the loop reselects.
	return q.GetNextTask(w.active)
}

// pick returns the allowed capability with the most pending tasks, or ""
// when none has any.
func (w *Worker) pick(counts map[string]int) string {
	best, most := "", 0
	for _, c := range w.caps {
		if n := counts[c]; n > most {
			best, most = c, n
		}
	}
	return best
}

// switchTo unloads the current handler and loads one for capability.
func (w *Worker) switchTo(capability string) bool {
	if w.handler != nil {
		w.unload()
	}

	h, err := w.reg.Create(capability)
	if err != nil {
		w.log.Error("create handler failed", "worker", w.id, "capability", capability, "error", err)
		w.obs.LoadFailed(capability)
		return false
	}

	start := time.Now()
	if err := hardware.Load(h, w.log); err != nil {
		w.log.Error("load handler failed", "worker", w.id, "capability", capability, "error", err)
		w.obs.LoadFailed(capability)
		return false
	}
	took := time.Since(start)
	w.obs.HandlerLoaded(capability, took)
	w.log.Debug("handler loaded", "worker", w.id, "capability", capability, "took", took)

	w.handler = h
	w.setActive(capability)
	return true
}

func (w *Worker) unload() {
	h := w.handler
	w.handler = nil
	w.setActive("")

	if err := hardware.Unload(h, w.log); err != nil {
		w.log.Error("unload handler failed", "worker", w.id, "capability", h.TypeName(), "error", err)
		return
	}
	w.obs.HandlerUnloaded(h.TypeName())
	w.log.Debug("handler unloaded", "worker", w.id, "capability", h.TypeName())
}

func (w *Worker) process(q *queue.Queue, t task.Task) {
	w.flags.Clear(StateIdle)
	defer w.flags.Add(StateIdle)

	env := task.NewEnv(w.log.With("task", t.ID()), q, w.quitting)
	if err := w.run(t, env); err != nil {
		w.failed.Add(1)
		w.obs.TaskFailed(t.Capability())
		w.log.Error("task failed", "worker", w.id, "task", t.ID(), "capability", t.Capability(), "error", err)
	}
	w.processed.Add(1)
	q.TaskFinished(t)
}

func (w *Worker) run(t task.Task, env task.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrTaskPanic, t.ID(), r)
		}
	}()
	return w.handler.Process(t, env)
}

func (w *Worker) shutdown() {
	if w.handler != nil {
		w.unload()
	}
	w.flags.Add(StateIdle)
	w.log.Info("worker stopped", "worker", w.id,
		"processed", w.processed.Load(), "failed", w.failed.Load())
}

func (w *Worker) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) sleep() {
	select {
	case <-w.wake:
	case <-w.done:
	}
}

func (w *Worker) backoff() {
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.done:
	}
}

func (w *Worker) stopping() bool { return w.flags.Any(StateStop, StateQuit) }
func (w *Worker) quitting() bool { return w.flags.Get(StateQuit) }

func (w *Worker) setActive(name string) {
	w.mu.Lock()
	w.active = name
	w.mu.Unlock()
}

// signal wakes the loop wherever it is parked.
func (w *Worker) signal() {
	w.doneOnce.Do(func() { close(w.done) })
	w.poke()
	if q := w.q.Load(); q != nil {
		q.NotifyAll()
	}
}

// Stop asks the worker to exit after its current task. It does not wait.
func (w *Worker) Stop() {
	w.flags.Add(StateStop)
	w.signal()
}

// Quit is Stop plus a request for the running task body to return early
// through Env.Stopping.
func (w *Worker) Quit() {
	w.flags.Add(StateQuit)
	w.signal()
}

// IsIdle reports whether the worker is outside Process.
func (w *Worker) IsIdle() bool {
	return w.flags.Get(StateIdle)
}

// Status returns a point-in-time view for monitoring.
func (w *Worker) Status() types.WorkerStatus {
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	return types.WorkerStatus{
		ID:           w.id,
		Capabilities: w.Capabilities(),
		Active:       active,
		Idle:         w.IsIdle(),
		Processed:    w.processed.Load(),
		Failed:       w.failed.Load(),
	}
}
