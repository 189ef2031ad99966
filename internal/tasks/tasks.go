// Package tasks holds the built-in task bodies the workhorse binary can
// schedule from a task file, and the Detector resource behind the GPU
// capability.
//
// Pipeline used by the demo task file:
//
//	split-file (CPU) ──spawn per line──> detect (GPU) ──spawn per finding──> record (CPU)
package tasks

import (
	"errors"
)

// Capability names used by the built-in tasks.
const (
	CapCPU = "CPU"
	CapGPU = "GPU"
)

// Task kinds accepted by Decode.
const (
	KindTestCPU   = "test-cpu"
	KindMoveFile  = "move-file"
	KindSplitFile = "split-file"
	KindDetect    = "detect"
	KindRecord    = "record"
)

var (
	// ErrUnknownKind is returned by Decode for an unrecognised kind.
	ErrUnknownKind = errors.New("unknown task kind")
	// ErrInvalidParams is returned by Decode when required parameters are missing.
	ErrInvalidParams = errors.New("invalid task parameters")
	// ErrInterrupted is returned by a task body that stopped early on Quit.
	ErrInterrupted = errors.New("task interrupted")
)

// Kinds returns every kind Decode understands with the capability it runs on.
func Kinds() map[string]string {
	return map[string]string{
		KindTestCPU:   CapCPU,
		KindMoveFile:  CapCPU,
		KindSplitFile: CapCPU,
		KindDetect:    CapGPU,
		KindRecord:    CapCPU,
	}
}
