// ============================================================================
// Workhorse Scheduler - Worker Fleet Coordinator
// ============================================================================
//
// Package: internal/scheduler
// File: scheduler.go
// Function: Build the worker fleet from configuration, run it against a
//           queue, detect completion, and shut it down
//
// Lifecycle:
//   New  -> validate worker groups, open per-worker logs, build workers
//   Run  -> start workers + status loop, poll until quiescent / Quit / ctx
//   Stop -> Stop every worker, join, write the final status, close logs
//
// State:
//   Running ──(Run returns, Quit, Stop)──> Draining ──(Stop joined)──> Stopped
//
// Loops:
//   - Run's poll loop:    every PollInterval, checks quiescence and Quit
//   - statusLoop:         every StatusInterval, publishes a StatusSnapshot
//                         to metrics gauges and the status file
//
// Shutdown order (mirrors the worker pool's graceful stop):
//   1. set Stop, close stopCh          (loops exit, Run returns)
//   2. pool.Stop()                     (workers finish current task, unload)
//   3. loopWg.Wait()                   (status loop joined)
//   4. final status write, close worker logs
//
// ============================================================================

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/workhorse/internal/flag"
	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/metrics"
	"github.com/ChuLiYu/workhorse/internal/queue"
	"github.com/ChuLiYu/workhorse/internal/snapshot"
	"github.com/ChuLiYu/workhorse/internal/worker"
	"github.com/ChuLiYu/workhorse/pkg/types"
)

const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultStatusInterval = time.Second
)

var (
	// ErrNoWorkers is returned by New when the configuration yields no worker.
	ErrNoWorkers = errors.New("no workers configured")
	// ErrInvalidWorkerCount is returned for a worker group with Count < 1.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")
)

// WorkerGroup is Count identical workers sharing one capability list.
type WorkerGroup struct {
	Capabilities []string `yaml:"capabilities"`
	Count        int      `yaml:"count"`
}

// Config describes the fleet and the scheduler's loops.
type Config struct {
	Workers        []WorkerGroup
	PollInterval   time.Duration
	StopWhenIdle   bool // Run returns once nothing is pending or in flight
	LoadRetryDelay time.Duration

	// LogDir holds worker<i>.log per worker; empty means workers share the
	// scheduler's logger.
	LogDir    string
	LogLevel  logging.Level
	LogFormat string

	StatusPath     string // empty disables the status file
	StatusInterval time.Duration
}

// State is the scheduler's coarse lifecycle.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type signal uint8

const (
	sigStop signal = iota
	sigQuit
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics reports worker events to c and refreshes its gauges.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// Scheduler owns a fixed set of workers.
type Scheduler struct {
	cfg Config
	log *logging.Logger

	pool       *worker.Pool
	workerLogs []*logging.Logger // opened by New, closed by Stop
	metrics    *metrics.Collector
	status     *snapshot.Manager

	flags    flag.Flag[signal]
	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup
	q        atomic.Pointer[queue.Queue]

	mu      sync.Mutex
	stopped bool
}

// New validates cfg against reg and builds one worker per configured slot.
func New(cfg Config, reg *hardware.Registry, logger *logging.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}

	s := &Scheduler{
		cfg:    cfg,
		log:    logger,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.StatusPath != "" {
		s.status = snapshot.NewManager(cfg.StatusPath)
	}

	workers, err := s.buildWorkers(reg)
	if err != nil {
		s.closeWorkerLogs()
		return nil, err
	}
	s.pool = worker.NewPool(workers...)
	s.state.Store(int32(StateRunning))
	return s, nil
}

func (s *Scheduler) buildWorkers(reg *hardware.Registry) ([]*worker.Worker, error) {
	var workers []*worker.Worker
	for gi, g := range s.cfg.Workers {
		if g.Count < 1 {
			return nil, fmt.Errorf("worker group %d: %w", gi, ErrInvalidWorkerCount)
		}
		if err := reg.Validate(g.Capabilities...); err != nil {
			return nil, fmt.Errorf("worker group %d: %w", gi, err)
		}

		for n := 0; n < g.Count; n++ {
			id := len(workers)
			wlog, err := s.workerLogger(id)
			if err != nil {
				return nil, err
			}

			wcfg := worker.Config{
				ID:             id,
				Capabilities:   g.Capabilities,
				Registry:       reg,
				Logger:         wlog,
				LoadRetryDelay: s.cfg.LoadRetryDelay,
			}
			if s.metrics != nil {
				wcfg.Observer = s.metrics
			}
			w, err := worker.New(wcfg)
			if err != nil {
				return nil, err
			}
			workers = append(workers, w)
		}
	}
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}
	return workers, nil
}

func (s *Scheduler) workerLogger(id int) (*logging.Logger, error) {
	if s.cfg.LogDir == "" {
		return s.log, nil
	}
	l, err := logging.New(logging.Config{
		Path:   filepath.Join(s.cfg.LogDir, fmt.Sprintf("worker%d.log", id)),
		Level:  s.cfg.LogLevel,
		Format: s.cfg.LogFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("worker %d log: %w", id, err)
	}
	s.workerLogs = append(s.workerLogs, l)
	return l, nil
}

func (s *Scheduler) closeWorkerLogs() {
	for _, l := range s.workerLogs {
		if err := l.Close(); err != nil {
			s.log.Warn("close worker log failed", "error", err)
		}
	}
	s.workerLogs = nil
}

// Run starts the workers against q and blocks until the queue is quiescent
// (with StopWhenIdle), Quit or Stop is called, or ctx is done. It sets the
// Stop flag before returning; call Stop to join the workers.
func (s *Scheduler) Run(ctx context.Context, q *queue.Queue) error {
	if err := s.pool.Start(q); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	s.q.Store(q)
	s.log.Info("scheduler started",
		"workers", s.pool.GetWorkerCount(),
		"stop_when_idle", s.cfg.StopWhenIdle)

	s.loopWg.Add(1)
	go s.statusLoop(q)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if s.flags.Get(sigQuit) {
			s.log.Info("quit requested")
			s.requestStop()
			return nil
		}
		if s.cfg.StopWhenIdle && s.Quiescent(q) {
			s.log.Info("all work finished")
			s.requestStop()
			return nil
		}

		select {
		case <-ctx.Done():
			s.requestStop()
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

// statusLoop publishes a snapshot every StatusInterval until stopCh closes.
func (s *Scheduler) statusLoop(q *queue.Queue) {
	defer s.loopWg.Done()
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.publish(q)
		}
	}
}

func (s *Scheduler) publish(q *queue.Queue) {
	snap := s.Snapshot(q)
	if s.metrics != nil {
		s.metrics.UpdateQueueStats(snap.Pending, snap.InProgress)
		s.metrics.SetIdleWorkers(s.pool.IdleCount())
	}
	if s.status != nil {
		if err := s.status.Write(snap); err != nil {
			s.log.Warn("write status failed", "path", s.status.GetPath(), "error", err)
		}
	}
}

// requestStop sets the Stop flag and releases every loop. Idempotent.
func (s *Scheduler) requestStop() {
	s.flags.Add(sigStop)
	s.stopOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		close(s.stopCh)
	})
}

// Stop asks every worker to finish its current task and waits for all of
// them. A final status snapshot is written if a queue was running.
// Repeated calls return immediately.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.requestStop()
	s.pool.Stop()
	s.loopWg.Wait()

	s.state.Store(int32(StateStopped))
	if q := s.q.Load(); q != nil {
		s.publish(q)
	}
	s.closeWorkerLogs()
	s.log.Info("scheduler stopped")
}

// Quit is the harder stop: running task bodies see Env.Stopping turn true.
// Callers still call Stop to join.
func (s *Scheduler) Quit() {
	s.flags.Add(sigQuit)
	s.pool.Quit()
	s.requestStop()
}

// StopRequested reports whether Stop or Quit has been requested.
func (s *Scheduler) StopRequested() bool {
	return s.flags.Any(sigStop, sigQuit)
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Quiescent reports whether q has nothing pending and nothing in flight.
// Worker idle flags are not consulted: a worker marks itself idle only after
// TaskFinished, and Stop joins it anyway.
func (s *Scheduler) Quiescent(q *queue.Queue) bool {
	return q.Quiescent()
}

// WorkerStatuses returns one status per worker.
func (s *Scheduler) WorkerStatuses() []types.WorkerStatus {
	return s.pool.Statuses()
}

// WorkerCount returns the number of workers.
func (s *Scheduler) WorkerCount() int {
	return s.pool.GetWorkerCount()
}

// Snapshot builds the monitoring view of s and q.
func (s *Scheduler) Snapshot(q *queue.Queue) types.StatusSnapshot {
	return types.StatusSnapshot{
		SchemaVer:  snapshot.SchemaVersion,
		TakenAt:    time.Now().UnixMilli(),
		State:      s.State().String(),
		Pending:    q.GetTaskCounts(),
		InProgress: q.GetInProgressTasks(),
		Workers:    s.pool.Statuses(),
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}
