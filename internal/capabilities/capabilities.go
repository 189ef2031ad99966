// Package capabilities is the explicit list of capability handlers built
// into the workhorse binary.
package capabilities

import (
	"fmt"

	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/tasks"
)

// Option adjusts the built-in handlers.
type Option func(*options)

type options struct {
	detector tasks.DetectorConfig
}

// WithDetector overrides the GPU detector configuration.
func WithDetector(cfg tasks.DetectorConfig) Option {
	return func(o *options) { o.detector = cfg }
}

// RegisterBuiltins registers CPU and GPU with r. Registering into a registry
// that already holds one of the names is an error, since the earlier
// registration would silently win.
func RegisterBuiltins(r *hardware.Registry, opts ...Option) error {
	o := options{detector: tasks.DefaultDetectorConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	builtins := []struct {
		name string
		ctor hardware.Constructor
	}{
		{tasks.CapCPU, hardware.NewCPU},
		{tasks.CapGPU, hardware.NewModel(o.detector.Resources(), tasks.LoadDetector(o.detector), nil)},
	}
	for _, b := range builtins {
		if !r.Register(b.name, b.ctor) {
			return fmt.Errorf("register %s: name already taken", b.name)
		}
	}
	return nil
}
