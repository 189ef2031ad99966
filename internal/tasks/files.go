package tasks

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ChuLiYu/workhorse/internal/task"
)

// MoveFile copies Src to Dst, creating Dst's directory, and removes Src
// afterwards when RemoveSrc is set.
type MoveFile struct {
	task.Base
	Src       string
	Dst       string
	RemoveSrc bool
}

// NewMoveFile returns a MoveFile task.
func NewMoveFile(src, dst string, removeSrc bool) *MoveFile {
	return &MoveFile{Base: task.NewBase(CapCPU), Src: src, Dst: dst, RemoveSrc: removeSrc}
}

// Run implements task.Task.
func (t *MoveFile) Run(env task.Env) error {
	if err := copyFile(t.Src, t.Dst); err != nil {
		return err
	}
	if t.RemoveSrc {
		if err := os.Remove(t.Src); err != nil {
			return fmt.Errorf("remove %s: %w", t.Src, err)
		}
	}
	env.Logger.Info("file moved", "src", t.Src, "dst", t.Dst, "removed_src", t.RemoveSrc)
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close destination: %w", cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return out.Sync()
}

// SplitFile reads a text file and spawns one Detect task per non-empty
// line, the text analogue of cutting a video into frames.
type SplitFile struct {
	task.Base
	Path   string
	Output string // passed to every spawned Detect
}

// NewSplitFile returns a SplitFile task.
func NewSplitFile(path, output string) *SplitFile {
	return &SplitFile{Base: task.NewBase(CapCPU), Path: path, Output: output}
}

// Run implements task.Task.
func (t *SplitFile) Run(env task.Env) error {
	f, err := os.Open(t.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.Path, err)
	}
	defer f.Close()

	spawned := 0
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		if env.Stopping() {
			env.Logger.Warn("split interrupted", "path", t.Path, "spawned", spawned)
			return ErrInterrupted
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		child := NewDetect(text, fmt.Sprintf("%s:%d", t.Path, line), t.Output)
		if err := env.Spawn(child); err != nil {
			return fmt.Errorf("spawn detect for line %d: %w", line, err)
		}
		spawned++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", t.Path, err)
	}

	env.Logger.Info("file split", "path", t.Path, "spawned", spawned)
	return nil
}

// recordMu serializes appends from concurrent Record tasks.
var recordMu sync.Mutex

// Record appends one line to Output.
type Record struct {
	task.Base
	Output string
	Line   string
}

// NewRecord returns a Record task.
func NewRecord(output, line string) *Record {
	return &Record{Base: task.NewBase(CapCPU), Output: output, Line: line}
}

// Run implements task.Task.
func (t *Record) Run(env task.Env) error {
	recordMu.Lock()
	defer recordMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.Output), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(t.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	if _, err := f.WriteString(t.Line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	env.Logger.Debug("recorded", "output", t.Output, "line", t.Line)
	return nil
}
