// ============================================================================
// Workhorse Worker Pool - Worker Lifecycle Management
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: Start a fixed set of workers against one queue and join them
//
// Lifecycle:
//   1. NewPool(workers...) - collect constructed workers
//   2. Start(q)            - one goroutine per worker running Work(q)
//   3. Stop()              - Stop every worker, wait for all to exit
//   Quit() may be called at any point before Stop to interrupt task bodies.
//
// Concurrency control:
//   - WaitGroup: tracks worker goroutines for graceful shutdown
//   - Mutex: protects the started/stopped state
//
// ============================================================================

package worker

import (
	"errors"
	"sync"

	"github.com/ChuLiYu/workhorse/internal/queue"
	"github.com/ChuLiYu/workhorse/pkg/types"
)

var (
	// ErrPoolClosed is returned when starting a pool that was stopped.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolStarted is returned when starting a pool twice.
	ErrPoolStarted = errors.New("worker pool already started")
)

// Pool runs a fixed set of workers.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// NewPool wraps already constructed workers.
func NewPool(workers ...*Worker) *Pool {
	return &Pool{workers: workers}
}

// Start launches every worker against q.
func (p *Pool) Start(q *queue.Queue) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolClosed
	}
	if p.started {
		return ErrPoolStarted
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Work(q)
		}(w)
	}
	p.started = true
	return nil
}

// Stop sets Stop on every worker and waits for all of them to exit.
// Repeated calls return immediately.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
}

// Quit sets Quit on every worker without waiting.
func (p *Pool) Quit() {
	for _, w := range p.workers {
		w.Quit()
	}
}

// Workers returns the managed workers.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// GetWorkerCount returns the number of workers.
func (p *Pool) GetWorkerCount() int {
	return len(p.workers)
}

// IsStarted reports whether Start has succeeded.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// IdleCount returns how many workers are outside Process.
func (p *Pool) IdleCount() int {
	n := 0
	for _, w := range p.workers {
		if w.IsIdle() {
			n++
		}
	}
	return n
}

// Statuses returns one status per worker, in construction order.
func (p *Pool) Statuses() []types.WorkerStatus {
	out := make([]types.WorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Status())
	}
	return out
}
