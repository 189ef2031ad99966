package tasks

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ChuLiYu/workhorse/internal/task"
)

// Entry is one entry of a task file.
type Entry struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

type testCPUParams struct {
	Iterations int `json:"iterations"`
}

type moveFileParams struct {
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	RemoveSrc bool   `json:"remove_src"`
}

type splitFileParams struct {
	Path   string `json:"path"`
	Output string `json:"output"`
}

type detectParams struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Output string `json:"output"`
}

type recordParams struct {
	Output string `json:"output"`
	Line   string `json:"line"`
}

func unmarshalParams(kind string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, kind, err)
	}
	return nil
}

func missing(kind, field string) error {
	return fmt.Errorf("%w: %s requires %q", ErrInvalidParams, kind, field)
}

// Decode builds the task named by kind from its JSON parameters.
func Decode(kind string, params json.RawMessage) (task.Task, error) {
	switch kind {
	case KindTestCPU:
		var p testCPUParams
		if err := unmarshalParams(kind, params, &p); err != nil {
			return nil, err
		}
		return NewTestCPU(p.Iterations), nil

	case KindMoveFile:
		var p moveFileParams
		if err := unmarshalParams(kind, params, &p); err != nil {
			return nil, err
		}
		if p.Src == "" {
			return nil, missing(kind, "src")
		}
		if p.Dst == "" {
			return nil, missing(kind, "dst")
		}
		return NewMoveFile(p.Src, p.Dst, p.RemoveSrc), nil

	case KindSplitFile:
		var p splitFileParams
		if err := unmarshalParams(kind, params, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, missing(kind, "path")
		}
		return NewSplitFile(p.Path, p.Output), nil

	case KindDetect:
		var p detectParams
		if err := unmarshalParams(kind, params, &p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, missing(kind, "text")
		}
		return NewDetect(p.Text, p.Source, p.Output), nil

	case KindRecord:
		var p recordParams
		if err := unmarshalParams(kind, params, &p); err != nil {
			return nil, err
		}
		if p.Output == "" {
			return nil, missing(kind, "output")
		}
		return NewRecord(p.Output, p.Line), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// DecodeAll decodes a task file body: a JSON array of Entry.
func DecodeAll(data []byte) ([]task.Task, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse task list: %w", err)
	}
	out := make([]task.Task, 0, len(entries))
	for i, s := range entries {
		t, err := Decode(s.Kind, s.Params)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadFile reads and decodes a task file.
func LoadFile(path string) ([]task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return DecodeAll(data)
}
