// Package hardware defines capability handlers: the owners of the heavy,
// possibly shared resource (a model, an OCR engine) behind one capability,
// and the process-wide registry that constructs them by name.
package hardware

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/task"
	"github.com/ChuLiYu/workhorse/pkg/types"
)

var (
	// ErrUnknownCapability is returned for capability names absent from a Registry.
	ErrUnknownCapability = errors.New("capability not registered")
	// ErrNotLoaded is returned by Process when the handler has not been loaded.
	ErrNotLoaded = errors.New("handler not loaded")
	// ErrTaskMismatch is returned when a handler receives a task it cannot run.
	ErrTaskMismatch = errors.New("task does not match handler")
)

// Handler owns the loaded/unloaded state of one capability's resource.
//
// Lifecycle: constructed by a Registry -> Load -> zero or more Process ->
// Unload -> discarded. Load and Unload for handlers of the same type name
// must go through the package-level Load and Unload helpers, which hold the
// per-type lock.
type Handler interface {
	TypeName() string
	SetTypeName(name string)
	Resources() types.Resources

	Load(log *logging.Logger) error
	Process(t task.Task, env task.Env) error
	Unload(log *logging.Logger) error
}

// Base implements the bookkeeping part of Handler. Handlers embed it.
type Base struct {
	name      string
	resources types.Resources
}

// NewBase returns a Base declaring res.
func NewBase(res types.Resources) Base {
	return Base{resources: res}
}

// TypeName returns the name bound at registration.
func (b *Base) TypeName() string { return b.name }

// SetTypeName binds the registered name. Called by Registry.Create.
func (b *Base) SetTypeName(name string) { b.name = name }

// Resources returns the declared resource requirements.
func (b *Base) Resources() types.Resources { return b.resources }

// Load is a no-op for handlers without a resource.
func (b *Base) Load(*logging.Logger) error { return nil }

// Unload is a no-op for handlers without a resource.
func (b *Base) Unload(*logging.Logger) error { return nil }

// CPU runs tasks directly; it has nothing to load.
type CPU struct {
	Base
}

// NewCPU is the registry constructor for plain CPU work.
func NewCPU() Handler {
	return &CPU{}
}

// Process runs t on the calling goroutine.
func (c *CPU) Process(t task.Task, env task.Env) error {
	return t.Run(env)
}

// Preparer is a task that needs the resource of a Model handler before Run.
type Preparer[M any] interface {
	task.Task
	Prepare(model M)
}

// Model is a handler around a resource of type M, such as an inference
// network, created by a load function and released by an optional unload.
type Model[M any] struct {
	Base
	load   func(log *logging.Logger) (M, error)
	unload func(model M) error

	model  M
	loaded bool
}

// NewModel returns a constructor suitable for Registry.Register.
func NewModel[M any](res types.Resources, load func(log *logging.Logger) (M, error), unload func(model M) error) func() Handler {
	return func() Handler {
		return &Model[M]{Base: NewBase(res), load: load, unload: unload}
	}
}

// Load creates the resource. Loading an already loaded Model is a no-op.
func (m *Model[M]) Load(log *logging.Logger) error {
	if m.loaded {
		return nil
	}
	log.Info("loading resource", "capability", m.TypeName())
	model, err := m.load(log)
	if err != nil {
		return fmt.Errorf("load %s: %w", m.TypeName(), err)
	}
	m.model = model
	m.loaded = true
	return nil
}

// Process hands the resource to t and runs it.
func (m *Model[M]) Process(t task.Task, env task.Env) error {
	if !m.loaded {
		return fmt.Errorf("%s: %w", m.TypeName(), ErrNotLoaded)
	}
	p, ok := t.(Preparer[M])
	if !ok {
		return fmt.Errorf("%w: %s cannot run task %s (%T)", ErrTaskMismatch, m.TypeName(), t.ID(), t)
	}
	p.Prepare(m.model)
	return p.Run(env)
}

// Unload releases the resource.
func (m *Model[M]) Unload(log *logging.Logger) error {
	if !m.loaded {
		return nil
	}
	var err error
	if m.unload != nil {
		err = m.unload(m.model)
	}
	var zero M
	m.model = zero
	m.loaded = false
	if err != nil {
		return fmt.Errorf("unload %s: %w", m.TypeName(), err)
	}
	log.Info("unloaded resource", "capability", m.TypeName())
	return nil
}

// Loaded reports whether the resource is currently held.
func (m *Model[M]) Loaded() bool {
	return m.loaded
}
