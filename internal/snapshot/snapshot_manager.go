package snapshot

// ============================================================================
// Responsibilities:
// 1. Serialize the scheduler's monitoring view to a JSON status file
// 2. Atomic writes (temp file + rename) so readers never see a torn file
// 3. Validate the schema version on load
//
// The file is a read-only view for `workhorse status`; it is never used to
// restore queue contents.
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/workhorse/pkg/types"
)

// SchemaVersion is the current status file layout.
const SchemaVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("status file is corrupted")
	ErrIncompatibleVersion = errors.New("status file schema version is incompatible")
)

// Manager reads and writes one status file.
type Manager struct {
	path string
	mu   sync.Mutex // serializes writers within this process
}

// NewManager returns a Manager for path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write atomically replaces the status file with data.
//
// Flow:
// 1. write <path>.tmp
// 2. os.Rename over the real file
func (m *Manager) Write(data types.StatusSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data.SchemaVer = SchemaVersion
	if data.TakenAt == 0 {
		data.TakenAt = time.Now().UnixMilli()
	}
	if data.Pending == nil {
		data.Pending = map[string]int{}
	}

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create status dir: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write temp status: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename status: %w", err)
	}
	return nil
}

// Load reads the status file. A missing file yields an empty snapshot with
// no workers, so callers can tell "never written" apart using Exists.
func (m *Manager) Load() (types.StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var data types.StatusSnapshot

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.StatusSnapshot{
				SchemaVer: SchemaVersion,
				Pending:   map[string]int{},
			}, nil
		}
		return data, fmt.Errorf("failed to read status: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	if data.Pending == nil {
		data.Pending = map[string]int{}
	}
	return data, nil
}

// Exists reports whether the status file has been written.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Remove deletes the status file; a missing file is not an error.
func (m *Manager) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove status: %w", err)
	}
	return nil
}

// GetPath returns the status file path.
func (m *Manager) GetPath() string {
	return m.path
}
