// Package task defines the unit-of-work contract scheduled by workhorse.
package task

import (
	"github.com/google/uuid"

	"github.com/ChuLiYu/workhorse/internal/logging"
)

// Task is one unit of schedulable work tagged with exactly one capability.
//
// Tasks are compared by identity: implementations must be pointer types so
// that two Task values are equal only when they are the same instance.
type Task interface {
	// ID returns a stable identifier used in logs and metrics.
	ID() string
	// Capability names the bucket the task belongs to. It never changes.
	Capability() string
	// Run performs the work. Follow-on tasks are enqueued through env.Spawn.
	Run(env Env) error
}

// Spawner enqueues follow-on tasks. The queue implements it.
type Spawner interface {
	AddTask(t Task) error
}

// Env is bound to a task for the duration of one Run call.
type Env struct {
	Logger *logging.Logger
	// Spawn enqueues a follow-on task; it is the only way a task body may
	// reach the queue.
	Spawn func(Task) error
	// Stopping reports whether the worker has been asked to quit. Long task
	// bodies poll it to exit early.
	Stopping func() bool
}

// NewEnv binds a logger, a spawner and a stop predicate. Nil arguments are
// replaced by no-op defaults.
func NewEnv(logger *logging.Logger, s Spawner, stopping func() bool) Env {
	if logger == nil {
		logger = logging.Nop()
	}
	env := Env{Logger: logger, Stopping: stopping}
	if s != nil {
		env.Spawn = s.AddTask
	} else {
		env.Spawn = func(Task) error { return nil }
	}
	if env.Stopping == nil {
		env.Stopping = func() bool { return false }
	}
	return env
}

// Base carries the identity and capability tag. Concrete tasks embed it.
type Base struct {
	id         string
	capability string
}

// NewBase returns a Base with a fresh random ID.
func NewBase(capability string) Base {
	return Base{id: uuid.NewString(), capability: capability}
}

// ID implements Task.
func (b *Base) ID() string { return b.id }

// Capability implements Task.
func (b *Base) Capability() string { return b.capability }

// Func adapts a function into a Task; handy for tests and ad-hoc work.
type Func struct {
	Base
	fn func(env Env) error
}

// NewFunc creates a Task for capability that runs fn.
func NewFunc(capability string, fn func(env Env) error) *Func {
	return &Func{Base: NewBase(capability), fn: fn}
}

// Run implements Task.
func (f *Func) Run(env Env) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(env)
}
