package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/snapshot"
	"github.com/ChuLiYu/workhorse/internal/tasks"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd)
	assert.Equal(t, "workhorse", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	assert.True(t, names["run"], "should have 'run' command")
	assert.True(t, names["status"], "should have 'status' command")
	assert.True(t, names["capabilities"], "should have 'capabilities' command")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Short, "Start")
	assert.NotNil(t, cmd.RunE)

	tasksFlag := cmd.Flags().Lookup("tasks")
	require.NotNil(t, tasksFlag)
	assert.Equal(t, "t", tasksFlag.Shorthand)
	assert.NotNil(t, cmd.Flags().Lookup("tui"))
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.Equal(t, "status", cmd.Use)
	assert.Contains(t, cmd.Short, "status")
	assert.NotNil(t, cmd.RunE)
}

// ============================================================================
// Config
// ============================================================================

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
workers:
  - capabilities: [CPU]
    count: 2
  - capabilities: [GPU, CPU]
    count: 1

scheduler:
  poll_interval: 20ms
  stop_when_idle: false
  load_retry_delay: 250ms

logging:
  dir: ./logs
  level: debug
  format: json

status:
  path: ./run/status.json
  interval: 2s

metrics:
  enabled: true
  port: 8080

detector:
  load_latency: 5ms
  memory_mb: 512
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Workers, 2)
	assert.Equal(t, []string{"CPU"}, cfg.Workers[0].Capabilities)
	assert.Equal(t, 2, cfg.Workers[0].Count)
	assert.Equal(t, []string{"GPU", "CPU"}, cfg.Workers[1].Capabilities)

	assert.Equal(t, 20*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.False(t, cfg.Scheduler.StopWhenIdle)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.LoadRetryDelay)

	assert.Equal(t, "./logs", cfg.Logging.Dir)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "./run/status.json", cfg.Status.Path)
	assert.Equal(t, 2*time.Second, cfg.Status.Interval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 8080, cfg.Metrics.Port)

	// pattern was not set, so the default survives
	det := cfg.DetectorConfig()
	assert.Equal(t, tasks.DefaultPlatePattern, det.Pattern)
	assert.Equal(t, 5*time.Millisecond, det.LoadLatency)
	assert.Equal(t, 512, det.MemoryMB)

	sc := cfg.SchedulerConfig()
	assert.Equal(t, logging.LevelDebug, sc.LogLevel)
	assert.Equal(t, "./logs", sc.LogDir)
	assert.Equal(t, filepath.Join("./logs", "workhorse.log"), cfg.LoggingConfig().Path)
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.yaml", "")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Empty(t, cfg.LoggingConfig().Path, "no log dir means stderr")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "invalid.yaml", `
workers:
  - count: "not a number"
  invalid yaml structure
    broken indentation
`)

	cfg, err := loadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := map[string]string{
		"no workers":      "workers: []\n",
		"no capabilities": "workers:\n  - count: 1\n",
		"zero count":      "workers:\n  - capabilities: [CPU]\n    count: 0\n",
		"bad format":      "logging:\n  format: xml\n",
		"bad port":        "metrics:\n  enabled: true\n  port: 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeFile(t, t.TempDir(), "c.yaml", body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfigSummary(t *testing.T) {
	lines := DefaultConfig().Summary()
	require.NotEmpty(t, lines)
	assert.Equal(t, "3 x [CPU]", lines[0])
	assert.Equal(t, "1 x [GPU]", lines[1])
}

// ============================================================================
// Commands
// ============================================================================

func testConfig(t *testing.T, dir string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers[0].Count = 2
	cfg.Scheduler.PollInterval = 5 * time.Millisecond
	cfg.Scheduler.LoadRetryDelay = 10 * time.Millisecond
	cfg.Logging.Level = "error"
	cfg.Status.Path = filepath.Join(dir, "status.json")
	cfg.Status.Interval = 20 * time.Millisecond
	cfg.Detector.LoadLatency = time.Millisecond
	return cfg
}

func TestRunSystem_Pipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	frames := writeFile(t, dir, "frames.txt", "car ABC-1234 at gate\nno plate here\n\nvan XY999 and KLM-0042\n")
	output := filepath.Join(dir, "plates.tsv")
	taskFile := writeFile(t, dir, "tasks.json", fmt.Sprintf(`[
  {"kind": "split-file", "params": {"path": %q, "output": %q}},
  {"kind": "test-cpu", "params": {"iterations": 1000}}
]`, frames, output))

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runSystem(ctx, cfg, runOptions{tasksFile: taskFile}, &out))

	// split + test-cpu + 3 detect + 3 record
	assert.Contains(t, out.String(), "processed 8 tasks (0 failed)")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)

	snap, err := snapshot.NewManager(cfg.Status.Path).Load()
	require.NoError(t, err)
	assert.Equal(t, "stopped", snap.State)
	assert.Zero(t, snap.TotalPending())
	assert.Zero(t, snap.InProgress)
	assert.Len(t, snap.Workers, 3)

	var status bytes.Buffer
	require.NoError(t, showStatus(cfg, &status))
	assert.Contains(t, status.String(), "state:        stopped")
	assert.Contains(t, status.String(), "pending:      0")
}

func TestRunSystem_BadTaskFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	taskFile := writeFile(t, dir, "tasks.json", `[{"kind": "teleport"}]`)

	err := runSystem(context.Background(), cfg, runOptions{tasksFile: taskFile}, &bytes.Buffer{})
	assert.ErrorIs(t, err, tasks.ErrUnknownKind)
}

func TestRunSystem_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Scheduler.StopWhenIdle = false

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := runSystem(ctx, cfg, runOptions{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShowStatus_NoFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Status.Path = filepath.Join(t.TempDir(), "missing.json")

	var out bytes.Buffer
	require.NoError(t, showStatus(cfg, &out))
	assert.Contains(t, out.String(), "no status at")
}

func TestShowCapabilities(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, showCapabilities(DefaultConfig(), &out))

	text := out.String()
	assert.Contains(t, text, "CPU")
	assert.Contains(t, text, "GPU")
	assert.Contains(t, text, "memory=2048MB")
	for kind := range tasks.Kinds() {
		assert.Contains(t, text, kind)
	}
}

func TestStatusCommandExecute(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.json")
	cfgPath := writeFile(t, dir, "config.yaml", "status:\n  path: "+statusPath+"\n")

	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "--config", cfgPath})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "no status at "+statusPath)
}
