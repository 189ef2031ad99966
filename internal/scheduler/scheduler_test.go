package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/metrics"
	"github.com/ChuLiYu/workhorse/internal/queue"
	"github.com/ChuLiYu/workhorse/internal/snapshot"
	"github.com/ChuLiYu/workhorse/internal/task"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestRegistry() *hardware.Registry {
	r := hardware.NewRegistry()
	r.Register("CPU", hardware.NewCPU)
	r.Register("GPU", hardware.NewCPU)
	return r
}

func testConfig(groups ...WorkerGroup) Config {
	return Config{
		Workers:        groups,
		PollInterval:   5 * time.Millisecond,
		StopWhenIdle:   true,
		LoadRetryDelay: 10 * time.Millisecond,
		StatusInterval: 10 * time.Millisecond,
	}
}

func createTestScheduler(t *testing.T, cfg Config, opts ...Option) (*Scheduler, *queue.Queue) {
	t.Helper()
	reg := newTestRegistry()
	s, err := New(cfg, reg, logging.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, queue.NewFromRegistry(reg)
}

func runAsync(s *Scheduler, ctx context.Context, q *queue.Queue) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, q) }()
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func counterValue(t *testing.T, g prometheus.Gatherer, name, capability string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "capability") == capability {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// ============================================================================
// Construction
// ============================================================================

func TestNewBuildsWorkers(t *testing.T) {
	s, _ := createTestScheduler(t, testConfig(
		WorkerGroup{Capabilities: []string{"CPU"}, Count: 3},
		WorkerGroup{Capabilities: []string{"GPU", "CPU"}, Count: 1},
	))

	assert.Equal(t, 4, s.WorkerCount())
	statuses := s.WorkerStatuses()
	require.Len(t, statuses, 4)
	assert.Equal(t, 3, statuses[3].ID)
	assert.Equal(t, []string{"GPU", "CPU"}, statuses[3].Capabilities)
	assert.Equal(t, StateRunning, s.State())
	assert.False(t, s.StopRequested())
}

func TestNewRejectsBadConfig(t *testing.T) {
	reg := newTestRegistry()

	_, err := New(testConfig(WorkerGroup{Capabilities: []string{"TPU"}, Count: 1}), reg, nil)
	assert.ErrorIs(t, err, hardware.ErrUnknownCapability)

	_, err = New(testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 0}), reg, nil)
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)

	_, err = New(testConfig(), reg, nil)
	assert.ErrorIs(t, err, ErrNoWorkers)
}

func TestNewAppliesDefaults(t *testing.T) {
	s, err := New(Config{Workers: []WorkerGroup{{Capabilities: []string{"CPU"}, Count: 1}}}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer s.Stop()

	assert.Equal(t, DefaultPollInterval, s.Config().PollInterval)
	assert.Equal(t, DefaultStatusInterval, s.Config().StatusInterval)
}

func TestPerWorkerLogFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 2})
	cfg.LogDir = dir
	cfg.LogLevel = logging.LevelInfo
	s, q := createTestScheduler(t, cfg)

	require.NoError(t, q.AddTask(task.NewFunc("CPU", nil)))
	require.NoError(t, waitRun(t, runAsync(s, context.Background(), q)))
	s.Stop()

	for _, name := range []string{"worker0.log", "worker1.log"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Contains(t, string(data), "worker started")
	}
}

// ============================================================================
// Run / Stop / Quit
// ============================================================================

func TestRunStopsWhenIdle(t *testing.T) {
	s, q := createTestScheduler(t, testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 4}))

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, q.AddTask(task.NewFunc("CPU", func(task.Env) error {
			ran.Add(1)
			return nil
		})))
	}

	require.NoError(t, waitRun(t, runAsync(s, context.Background(), q)))
	assert.True(t, s.StopRequested())
	assert.Equal(t, StateDraining, s.State())

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, int32(50), ran.Load())
	assert.True(t, q.Quiescent())
}

// finishOrder records task names in the order their bodies return.
type finishOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *finishOrder) task(capability, name string) task.Task {
	return task.NewFunc(capability, func(task.Env) error {
		o.mu.Lock()
		o.names = append(o.names, name)
		o.mu.Unlock()
		return nil
	})
}

func (o *finishOrder) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.names...)
}

func TestDedicatedWorkersFinishInInsertionOrder(t *testing.T) {
	s, q := createTestScheduler(t, testConfig(
		WorkerGroup{Capabilities: []string{"CPU"}, Count: 1},
		WorkerGroup{Capabilities: []string{"GPU"}, Count: 1},
	))

	order := &finishOrder{}
	require.NoError(t, q.AddTask(order.task("CPU", "cpu-1")))
	require.NoError(t, q.AddTask(order.task("CPU", "cpu-2")))
	require.NoError(t, q.AddTask(order.task("GPU", "gpu-1")))
	require.NoError(t, q.AddTask(order.task("CPU", "cpu-3")))

	require.NoError(t, waitRun(t, runAsync(s, context.Background(), q)))
	s.Stop()

	var cpu []string
	for _, name := range order.get() {
		if name != "gpu-1" {
			cpu = append(cpu, name)
		}
	}
	assert.Equal(t, []string{"cpu-1", "cpu-2", "cpu-3"}, cpu)
	assert.Contains(t, order.get(), "gpu-1")
	assert.Equal(t, map[string]int{"CPU": 0, "GPU": 0}, q.GetTaskCounts())
	assert.Equal(t, 0, q.GetInProgressTasks())
}

func TestWorkAfterQuiescenceIsClaimed(t *testing.T) {
	cfg := testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 1})
	cfg.StopWhenIdle = false
	s, q := createTestScheduler(t, cfg)
	errCh := runAsync(s, context.Background(), q)

	order := &finishOrder{}
	require.NoError(t, q.AddTask(order.task("CPU", "first")))
	require.Eventually(t, func() bool { return len(order.get()) == 1 && s.Quiescent(q) },
		2*time.Second, 5*time.Millisecond)

	// let the worker park on the empty bucket before new work arrives
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.AddTask(order.task("CPU", "second")))
	require.Eventually(t, func() bool { return len(order.get()) == 2 && s.Quiescent(q) },
		2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.NoError(t, waitRun(t, errCh))
	assert.Equal(t, []string{"first", "second"}, order.get())
}

func TestQuiescentFollowsQueue(t *testing.T) {
	s, q := createTestScheduler(t, testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 1}))
	assert.True(t, s.Quiescent(q))

	require.NoError(t, q.AddTask(task.NewFunc("CPU", nil)))
	assert.False(t, s.Quiescent(q), "pending work")

	tk := q.GetNextTask("CPU")
	require.NotNil(t, tk)
	assert.False(t, s.Quiescent(q), "in flight")

	q.TaskFinished(tk)
	assert.True(t, s.Quiescent(q))
}

func TestRunContextCancel(t *testing.T) {
	cfg := testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 1})
	cfg.StopWhenIdle = false
	s, q := createTestScheduler(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(s, ctx, q)
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitRun(t, errCh), context.Canceled)
	assert.True(t, s.StopRequested())
}

func TestStopEndsRun(t *testing.T) {
	cfg := testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 2})
	cfg.StopWhenIdle = false
	s, q := createTestScheduler(t, cfg)

	errCh := runAsync(s, context.Background(), q)
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()

	assert.NoError(t, waitRun(t, errCh))
	assert.Equal(t, StateStopped, s.State())
}

func TestQuitInterruptsTaskBody(t *testing.T) {
	cfg := testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 1})
	cfg.StopWhenIdle = false
	s, q := createTestScheduler(t, cfg)

	started := make(chan struct{})
	var sawStop atomic.Bool
	require.NoError(t, q.AddTask(task.NewFunc("CPU", func(env task.Env) error {
		close(started)
		for !env.Stopping() {
			time.Sleep(time.Millisecond)
		}
		sawStop.Store(true)
		return nil
	})))
	require.NoError(t, q.AddTask(task.NewFunc("CPU", nil)))

	errCh := runAsync(s, context.Background(), q)
	<-started
	s.Quit()

	require.NoError(t, waitRun(t, errCh))
	s.Stop()
	assert.True(t, sawStop.Load())
	assert.Equal(t, 1, q.Pending("CPU"), "no new claims after Quit")
}

func TestGracefulStopDoesNotInterrupt(t *testing.T) {
	cfg := testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 1})
	cfg.StopWhenIdle = false
	s, q := createTestScheduler(t, cfg)

	started := make(chan struct{})
	var finished, interrupted atomic.Bool
	require.NoError(t, q.AddTask(task.NewFunc("CPU", func(env task.Env) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		interrupted.Store(env.Stopping())
		finished.Store(true)
		return nil
	})))

	errCh := runAsync(s, context.Background(), q)
	<-started
	s.Stop()
	require.NoError(t, waitRun(t, errCh))

	assert.True(t, finished.Load())
	assert.False(t, interrupted.Load())
	assert.True(t, q.Quiescent())
}

// ============================================================================
// Monitoring
// ============================================================================

func TestStatusFileWritten(t *testing.T) {
	cfg := testConfig(WorkerGroup{Capabilities: []string{"CPU"}, Count: 2})
	cfg.StatusPath = filepath.Join(t.TempDir(), "status.json")
	s, q := createTestScheduler(t, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.AddTask(task.NewFunc("CPU", nil)))
	}
	require.NoError(t, waitRun(t, runAsync(s, context.Background(), q)))
	s.Stop()

	snap, err := snapshot.NewManager(cfg.StatusPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "stopped", snap.State)
	assert.Equal(t, 0, snap.TotalPending())
	require.Len(t, snap.Workers, 2)
	assert.Equal(t, uint64(5), snap.Workers[0].Processed+snap.Workers[1].Processed)
}

func TestSnapshotView(t *testing.T) {
	s, q := createTestScheduler(t, testConfig(WorkerGroup{Capabilities: []string{"GPU"}, Count: 1}))
	require.NoError(t, q.AddTask(task.NewFunc("CPU", nil)))

	snap := s.Snapshot(q)
	assert.Equal(t, snapshot.SchemaVersion, snap.SchemaVer)
	assert.Equal(t, "running", snap.State)
	assert.Equal(t, 1, snap.Pending["CPU"])
	assert.Len(t, snap.Workers, 1)
}

func TestMetricsWiring(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, q := createTestScheduler(t,
		testConfig(WorkerGroup{Capabilities: []string{"CPU", "GPU"}, Count: 1}),
		WithMetrics(metrics.NewCollector(reg)))

	require.NoError(t, q.AddTask(task.NewFunc("CPU", nil)))
	require.NoError(t, q.AddTask(task.NewFunc("GPU", func(task.Env) error { return assert.AnError })))
	require.NoError(t, waitRun(t, runAsync(s, context.Background(), q)))
	s.Stop()

	assert.Equal(t, 1.0, counterValue(t, reg, "workhorse_tasks_failed_total", "GPU"))
	assert.Equal(t, 1.0, counterValue(t, reg, "workhorse_handler_loads_total", "CPU"))
	assert.Equal(t, 1.0, counterValue(t, reg, "workhorse_handler_loads_total", "GPU"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "State(9)", State(9).String())
}
