// Package types defines the domain models shared across workhorse packages.
package types

import (
	"time"
)

// TaskStatus is the lifecycle state of a task inside the queue.
type TaskStatus string

const (
	StatusPending  TaskStatus = "pending"   // queued in its capability bucket
	StatusInFlight TaskStatus = "in_flight" // claimed by a worker, not yet finished
	StatusFinished TaskStatus = "finished"  // released by the worker
	StatusFailed   TaskStatus = "failed"    // Run returned an error or panicked
)

// Resources declares what a capability handler needs and how expensive it
// is to switch into or out of it.
type Resources struct {
	MemoryMB      int           `json:"memory_mb" yaml:"memory_mb"`
	LoadLatency   time.Duration `json:"load_latency" yaml:"load_latency"`
	UnloadLatency time.Duration `json:"unload_latency" yaml:"unload_latency"`
}

// SwitchCost is the expected time to load this resource plus unload it later.
func (r Resources) SwitchCost() time.Duration {
	return r.LoadLatency + r.UnloadLatency
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	ID           int      `json:"id"`
	Capabilities []string `json:"capabilities"`
	Active       string   `json:"active,omitempty"` // capability whose handler is loaded
	Idle         bool     `json:"idle"`
	Processed    uint64   `json:"processed"`
	Failed       uint64   `json:"failed"`
}

// StatusSnapshot is the monitoring view written periodically by the
// scheduler and read back by the status command.
type StatusSnapshot struct {
	SchemaVer  int            `json:"schema_ver"`
	TakenAt    int64          `json:"taken_at"` // Unix milliseconds
	State      string         `json:"state"`
	Pending    map[string]int `json:"pending"`
	InProgress int            `json:"in_progress"`
	Workers    []WorkerStatus `json:"workers"`
}

// TotalPending sums the pending counts of every capability.
func (s StatusSnapshot) TotalPending() int {
	total := 0
	for _, n := range s.Pending {
		total += n
	}
	return total
}
