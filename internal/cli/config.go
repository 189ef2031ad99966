package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/scheduler"
	"github.com/ChuLiYu/workhorse/internal/tasks"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the complete configuration file.
// Maps config file fields through YAML tags.
type Config struct {
	Workers []scheduler.WorkerGroup `yaml:"workers"`

	Scheduler struct {
		PollInterval   time.Duration `yaml:"poll_interval"`
		StopWhenIdle   bool          `yaml:"stop_when_idle"`
		LoadRetryDelay time.Duration `yaml:"load_retry_delay"`
	} `yaml:"scheduler"`

	Logging struct {
		Dir    string `yaml:"dir"` // empty logs to stderr
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"logging"`

	Status struct {
		Path     string        `yaml:"path"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"status"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Detector struct {
		Pattern     string        `yaml:"pattern"`
		LoadLatency time.Duration `yaml:"load_latency"`
		MemoryMB    int           `yaml:"memory_mb"`
	} `yaml:"detector"`
}

// DefaultConfig returns the configuration used for keys absent from the file.
func DefaultConfig() *Config {
	cfg := &Config{
		Workers: []scheduler.WorkerGroup{
			{Capabilities: []string{tasks.CapCPU}, Count: 3},
			{Capabilities: []string{tasks.CapGPU}, Count: 1},
		},
	}
	cfg.Scheduler.PollInterval = scheduler.DefaultPollInterval
	cfg.Scheduler.StopWhenIdle = true
	cfg.Scheduler.LoadRetryDelay = time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Status.Path = "status.json"
	cfg.Status.Interval = scheduler.DefaultStatusInterval
	cfg.Metrics.Port = 9090

	det := tasks.DefaultDetectorConfig()
	cfg.Detector.Pattern = det.Pattern
	cfg.Detector.LoadLatency = det.LoadLatency
	cfg.Detector.MemoryMB = det.MemoryMB
	return cfg
}

// loadConfig reads path on top of DefaultConfig and validates the result.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is loadConfig for callers outside the package.
func LoadConfig(path string) (*Config, error) {
	return loadConfig(path)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if len(c.Workers) == 0 {
		return fmt.Errorf("%w: at least one worker group is required", ErrInvalidConfig)
	}
	for i, g := range c.Workers {
		if len(g.Capabilities) == 0 {
			return fmt.Errorf("%w: worker group %d has no capabilities", ErrInvalidConfig, i)
		}
		if g.Count < 1 {
			return fmt.Errorf("%w: worker group %d count must be positive", ErrInvalidConfig, i)
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json, got %q", ErrInvalidConfig, c.Logging.Format)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("%w: metrics.port %d out of range", ErrInvalidConfig, c.Metrics.Port)
	}
	return nil
}

// SchedulerConfig maps the file onto scheduler.Config.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Workers:        c.Workers,
		PollInterval:   c.Scheduler.PollInterval,
		StopWhenIdle:   c.Scheduler.StopWhenIdle,
		LoadRetryDelay: c.Scheduler.LoadRetryDelay,
		LogDir:         c.Logging.Dir,
		LogLevel:       logging.ParseLevel(c.Logging.Level),
		LogFormat:      c.Logging.Format,
		StatusPath:     c.Status.Path,
		StatusInterval: c.Status.Interval,
	}
}

// DetectorConfig maps the detector section onto tasks.DetectorConfig.
func (c *Config) DetectorConfig() tasks.DetectorConfig {
	return tasks.DetectorConfig{
		Pattern:     c.Detector.Pattern,
		LoadLatency: c.Detector.LoadLatency,
		MemoryMB:    c.Detector.MemoryMB,
	}
}

// LoggingConfig returns the process logger's configuration.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.Config{
		Level:  logging.ParseLevel(c.Logging.Level),
		Format: c.Logging.Format,
	}
	if c.Logging.Dir != "" {
		lc.Path = filepath.Join(c.Logging.Dir, "workhorse.log")
	}
	return lc
}

// Summary returns one line per worker group plus the main settings.
func (c *Config) Summary() []string {
	lines := make([]string, 0, len(c.Workers)+2)
	for _, g := range c.Workers {
		lines = append(lines, fmt.Sprintf("%d x [%s]", g.Count, strings.Join(g.Capabilities, ", ")))
	}
	lines = append(lines, fmt.Sprintf("poll %s, stop when idle: %t", c.Scheduler.PollInterval, c.Scheduler.StopWhenIdle))
	if c.Logging.Dir != "" {
		lines = append(lines, "logs: "+c.Logging.Dir)
	}
	return lines
}
