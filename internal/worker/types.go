package worker

import (
	"errors"
	"time"

	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/logging"
)

// State bits held in a worker's flag.
type State uint8

const (
	StateStop State = iota // finish the current task, claim nothing new
	StateQuit              // as Stop, and task bodies are asked to return early
	StateIdle              // not inside Process
)

// DefaultLoadRetryDelay is used when Config.LoadRetryDelay is zero.
const DefaultLoadRetryDelay = time.Second

var (
	// ErrNoCapabilities is returned by New for a worker with an empty capability list.
	ErrNoCapabilities = errors.New("worker has no capabilities")
	// ErrNoRegistry is returned by New when Config.Registry is nil.
	ErrNoRegistry = errors.New("worker has no registry")
	// ErrTaskPanic wraps a panic recovered from a task body.
	ErrTaskPanic = errors.New("task panicked")
)

// Config describes one worker.
type Config struct {
	ID             int
	Capabilities   []string // allowed capabilities, in tie-break order
	Registry       *hardware.Registry
	Logger         *logging.Logger
	Observer       Observer
	LoadRetryDelay time.Duration
}

// Observer receives the worker-side events of the task lifecycle.
// metrics.Collector implements it.
type Observer interface {
	TaskFailed(capability string)
	HandlerLoaded(capability string, took time.Duration)
	HandlerUnloaded(capability string)
	LoadFailed(capability string)
}

type nopObserver struct{}

func (nopObserver) TaskFailed(string)                   {}
func (nopObserver) HandlerLoaded(string, time.Duration) {}
func (nopObserver) HandlerUnloaded(string)              {}
func (nopObserver) LoadFailed(string)                   {}
