package tasks

import (
	"github.com/ChuLiYu/workhorse/internal/task"
)

const defaultIterations = 1_000_000

// TestCPU burns CPU in a counting loop and logs progress; used to exercise
// the scheduler without touching disk.
type TestCPU struct {
	task.Base
	Iterations int
	Result     uint64
}

// NewTestCPU returns a TestCPU; iterations <= 0 selects the default.
func NewTestCPU(iterations int) *TestCPU {
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return &TestCPU{Base: task.NewBase(CapCPU), Iterations: iterations}
}

// Run implements task.Task.
func (t *TestCPU) Run(env task.Env) error {
	step := t.Iterations / 4
	if step == 0 {
		step = 1
	}

	var sum uint64
	for i := 0; i < t.Iterations; i++ {
		if i%step == 0 {
			if env.Stopping() {
				return ErrInterrupted
			}
			env.Logger.Debug("test-cpu progress", "done", i, "of", t.Iterations)
		}
		sum += uint64(i) ^ (sum >> 3)
	}
	t.Result = sum
	env.Logger.Info("test-cpu finished", "iterations", t.Iterations)
	return nil
}
