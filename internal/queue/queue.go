// ============================================================================
// Workhorse Task Queue - Capability-Partitioned Hand-off
// ============================================================================
//
// Package: internal/queue
// File: queue.go
// Purpose: Thread-safe hand-off point between producers and workers
//
// Layout:
//   ┌──────────────────────────────────────────────┐
//   │ Queue                                        │
//   │  buckets["CPU"] ─ mu, cond, FIFO, subs       │
//   │  buckets["GPU"] ─ mu, cond, FIFO, subs       │
//   │  inFlight       ─ inFlightMu, set of claims  │
//   │  outstanding    ─ atomic pending + in-flight │
//   └──────────────────────────────────────────────┘
//
// Task state transitions:
//   AddTask      -> pending (bucket)
//   GetNextTask  -> in-flight (moved while the bucket lock is held)
//   TaskFinished -> gone
//
// A task instance is live from AddTask until TaskFinished. Adding a live
// instance again fails with ErrDuplicateTask, so a task is never pending and
// in flight at once and is never claimed twice.
//
// Lock order: bucket.mu before inFlightMu. No lock is ever held while a
// subscriber callback or a task body runs.
//
// Quiescence:
//   outstanding is incremented before a task becomes visible and decremented
//   only after it leaves the in-flight set. A task spawns its children before
//   it is finished, so outstanding never reads zero while work remains.
//
// ============================================================================

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/task"
)

var (
	// ErrNilTask is returned when AddTask receives nil.
	ErrNilTask = errors.New("nil task")
	// ErrDuplicateTask is returned when AddTask receives an instance that is
	// still pending or in flight.
	ErrDuplicateTask = errors.New("task already queued or in flight")
)

// Observer is told about every state change. metrics.Collector implements it.
type Observer interface {
	TaskEnqueued(capability string)
	TaskDropped(capability string)
	TaskClaimed(capability string, waited time.Duration)
	TaskFinished(capability string, ran time.Duration)
}

type nopObserver struct{}

func (nopObserver) TaskEnqueued(string)                {}
func (nopObserver) TaskDropped(string)                 {}
func (nopObserver) TaskClaimed(string, time.Duration)  {}
func (nopObserver) TaskFinished(string, time.Duration) {}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for dropped tasks and bookkeeping errors.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.obs = o
		}
	}
}

type entry struct {
	task       task.Task
	enqueuedAt time.Time
}

type bucket struct {
	mu    sync.Mutex
	cond  *sync.Cond
	tasks []entry
	subs  subscribers
}

func newBucket() *bucket {
	b := &bucket{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Queue is a set of per-capability FIFO buckets plus a global in-flight set.
type Queue struct {
	buckets map[string]*bucket // fixed at construction, read without locking
	names   []string

	inFlightMu sync.Mutex
	inFlight   map[task.Task]time.Time // claimed task -> claim time
	live       map[task.Task]struct{}  // pending or in flight; guarded by inFlightMu

	outstanding atomic.Int64
	nextSubID   atomic.Uint64
	subs        subscribers

	log *logging.Logger
	obs Observer
}

// New creates a Queue with one bucket per capability name.
func New(capabilities []string, opts ...Option) *Queue {
	q := &Queue{
		buckets:  make(map[string]*bucket, len(capabilities)),
		inFlight: make(map[task.Task]time.Time),
		live:     make(map[task.Task]struct{}),
		log:      logging.Nop(),
		obs:      nopObserver{},
	}
	for _, name := range capabilities {
		if _, dup := q.buckets[name]; dup {
			continue
		}
		q.buckets[name] = newBucket()
		q.names = append(q.names, name)
	}
	sort.Strings(q.names)

	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewFromRegistry sizes the buckets from every capability known to r.
func NewFromRegistry(r *hardware.Registry, opts ...Option) *Queue {
	return New(r.RegisteredTypes(), opts...)
}

// Capabilities returns the bucket names in sorted order.
func (q *Queue) Capabilities() []string {
	out := make([]string, len(q.names))
	copy(out, q.names)
	return out
}

func (q *Queue) bucket(capability string) (*bucket, error) {
	b, ok := q.buckets[capability]
	if !ok {
		return nil, fmt.Errorf("%w: %q", hardware.ErrUnknownCapability, capability)
	}
	return b, nil
}

// AddTask appends t to the bucket of its capability and wakes subscribers.
// Tasks for capabilities without a bucket are dropped and reported as
// ErrUnknownCapability: no worker could ever claim them. An instance that is
// already pending or in flight is rejected with ErrDuplicateTask.
func (q *Queue) AddTask(t task.Task) error {
	if t == nil {
		return ErrNilTask
	}
	capability := t.Capability()
	b, err := q.bucket(capability)
	if err != nil {
		q.log.Warn("dropping task for unregistered capability",
			"task", t.ID(), "capability", capability)
		q.obs.TaskDropped(capability)
		return err
	}

	q.inFlightMu.Lock()
	if _, dup := q.live[t]; dup {
		q.inFlightMu.Unlock()
		q.log.Warn("rejecting task that is already live", "task", t.ID(), "capability", capability)
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID())
	}
	q.live[t] = struct{}{}
	q.outstanding.Add(1)
	q.inFlightMu.Unlock()

	b.mu.Lock()
	b.tasks = append(b.tasks, entry{task: t, enqueuedAt: time.Now()})
	b.cond.Broadcast()
	b.mu.Unlock()

	q.obs.TaskEnqueued(capability)
	b.subs.call()
	q.subs.call()
	return nil
}

// popLocked moves the oldest entry of b into the in-flight set.
// b.mu must be held and b.tasks non-empty.
func (q *Queue) popLocked(b *bucket) entry {
	e := b.tasks[0]
	b.tasks[0] = entry{}
	b.tasks = b.tasks[1:]
	if len(b.tasks) == 0 {
		b.tasks = nil // let the backing array go once drained
	}

	q.inFlightMu.Lock()
	q.inFlight[e.task] = time.Now()
	q.inFlightMu.Unlock()
	return e
}

func (q *Queue) claimed(b *bucket, e entry) {
	q.obs.TaskClaimed(e.task.Capability(), time.Since(e.enqueuedAt))
	b.subs.call()
	q.subs.call()
}

// GetNextTask pops the oldest pending task for capability and marks it
// in-flight. It returns nil when the bucket is empty or unknown.
func (q *Queue) GetNextTask(capability string) task.Task {
	b, err := q.bucket(capability)
	if err != nil {
		return nil
	}

	b.mu.Lock()
	if len(b.tasks) == 0 {
		b.mu.Unlock()
		return nil
	}
	e := q.popLocked(b)
	b.mu.Unlock()

	q.claimed(b, e)
	return e.task
}

// WaitNextTask is the blocking form of GetNextTask. It returns:
//   - (task, nil) once a task is claimed
//   - (nil, nil) when stop reports true; stop is checked before every claim
//   - (nil, ctx.Err()) when ctx is done
//
// Callers that flip the state stop observes must call NotifyAll afterwards so
// blocked waiters re-evaluate it.
func (q *Queue) WaitNextTask(ctx context.Context, capability string, stop func() bool) (task.Task, error) {
	b, err := q.bucket(capability)
	if err != nil {
		return nil, err
	}

	if ctx.Done() != nil {
		release := context.AfterFunc(ctx, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer release()
	}

	b.mu.Lock()
	for {
		if stop != nil && stop() {
			b.mu.Unlock()
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		if len(b.tasks) > 0 {
			break
		}
		b.cond.Wait()
	}
	e := q.popLocked(b)
	b.mu.Unlock()

	q.claimed(b, e)
	return e.task, nil
}

// TaskFinished removes t from the in-flight set and notifies subscribers.
// Finishing a task that is not in flight is logged and otherwise ignored.
func (q *Queue) TaskFinished(t task.Task) {
	if t == nil {
		return
	}

	q.inFlightMu.Lock()
	claimedAt, ok := q.inFlight[t]
	if ok {
		delete(q.inFlight, t)
		delete(q.live, t)
	}
	q.inFlightMu.Unlock()

	if !ok {
		q.log.Warn("finished task was not in flight", "task", t.ID(), "capability", t.Capability())
		return
	}
	q.outstanding.Add(-1)

	q.obs.TaskFinished(t.Capability(), time.Since(claimedAt))
	if b, err := q.bucket(t.Capability()); err == nil {
		b.subs.call()
	}
	q.subs.call()
}

// GetTaskCounts returns the pending count of every bucket.
func (q *Queue) GetTaskCounts() map[string]int {
	counts := make(map[string]int, len(q.buckets))
	for name, b := range q.buckets {
		b.mu.Lock()
		counts[name] = len(b.tasks)
		b.mu.Unlock()
	}
	return counts
}

// Pending returns the pending count of one bucket; 0 for unknown names.
func (q *Queue) Pending(capability string) int {
	b, err := q.bucket(capability)
	if err != nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// GetInProgressTasks returns the size of the in-flight set.
func (q *Queue) GetInProgressTasks() int {
	q.inFlightMu.Lock()
	defer q.inFlightMu.Unlock()
	return len(q.inFlight)
}

// Outstanding returns pending plus in-flight tasks as one consistent number.
func (q *Queue) Outstanding() int {
	return int(q.outstanding.Load())
}

// Quiescent reports whether nothing is pending or in flight.
func (q *Queue) Quiescent() bool {
	return q.outstanding.Load() == 0
}

// NotifyAll wakes every goroutine blocked in WaitNextTask.
func (q *Queue) NotifyAll() {
	for _, b := range q.buckets {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}
