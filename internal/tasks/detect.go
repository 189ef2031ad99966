package tasks

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/task"
	"github.com/ChuLiYu/workhorse/pkg/types"
)

// DefaultPlatePattern matches licence-plate-like tokens such as ABC-1234.
const DefaultPlatePattern = `\b[A-Z]{2,3}-?[0-9]{3,4}\b`

// DetectorConfig describes the detector resource.
type DetectorConfig struct {
	Pattern     string
	LoadLatency time.Duration // simulated model load time
	MemoryMB    int
}

// DefaultDetectorConfig is used by the built-in GPU capability.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Pattern:     DefaultPlatePattern,
		LoadLatency: 200 * time.Millisecond,
		MemoryMB:    2048,
	}
}

// Resources reports what loading the detector costs.
func (c DetectorConfig) Resources() types.Resources {
	return types.Resources{MemoryMB: c.MemoryMB, LoadLatency: c.LoadLatency}
}

// Detector is the loaded model: a compiled pattern standing in for network
// weights. It is read-only after load and safe for concurrent use.
type Detector struct {
	pattern  *regexp.Regexp
	loadedAt time.Time
}

// LoadDetector returns a load function for hardware.NewModel.
func LoadDetector(cfg DetectorConfig) func(log *logging.Logger) (*Detector, error) {
	return func(log *logging.Logger) (*Detector, error) {
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = DefaultPlatePattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile detector pattern: %w", err)
		}
		if cfg.LoadLatency > 0 {
			time.Sleep(cfg.LoadLatency)
		}
		log.Debug("detector ready", "pattern", pattern, "took", cfg.LoadLatency)
		return &Detector{pattern: re, loadedAt: time.Now()}, nil
	}
}

// Detect returns every match in text.
func (d *Detector) Detect(text string) []string {
	return d.pattern.FindAllString(text, -1)
}

// LoadedAt returns when the detector finished loading.
func (d *Detector) LoadedAt() time.Time {
	return d.loadedAt
}

// Detect runs the detector over one piece of text and spawns a Record per
// finding. It runs on the GPU capability, which hands it the Detector
// through Prepare.
type Detect struct {
	task.Base
	Text   string
	Source string
	Output string

	detector *Detector
	Found    []string
}

// NewDetect returns a Detect task.
func NewDetect(text, source, output string) *Detect {
	return &Detect{Base: task.NewBase(CapGPU), Text: text, Source: source, Output: output}
}

// Prepare implements hardware.Preparer[*Detector].
func (t *Detect) Prepare(d *Detector) {
	t.detector = d
}

// Run implements task.Task.
func (t *Detect) Run(env task.Env) error {
	if t.detector == nil {
		return fmt.Errorf("detect %s: no detector prepared", t.ID())
	}
	t.Found = t.detector.Detect(t.Text)
	for _, plate := range t.Found {
		if t.Output == "" {
			env.Logger.Info("detected", "source", t.Source, "plate", plate)
			continue
		}
		if err := env.Spawn(NewRecord(t.Output, t.Source+"\t"+plate)); err != nil {
			return fmt.Errorf("spawn record: %w", err)
		}
	}
	return nil
}
