package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// StateFile mirrors scheduler status to disk so a second CLI invocation can
// inspect or stop a schedule owned by another process. The status file is
// rewritten after every run; the stop marker is an empty file whose presence
// asks the owning process to shut down.
type StateFile struct {
	statusPath string
	stopPath   string
}

// NewStateFile places the status and stop files under dir.
func NewStateFile(dir string) (*StateFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scheduler state dir: %w", err)
	}
	return &StateFile{
		statusPath: filepath.Join(dir, "schedule.json"),
		stopPath:   filepath.Join(dir, "schedule.stop"),
	}, nil
}

// WriteStatus replaces the on-disk status snapshot.
func (f *StateFile) WriteStatus(statuses []OwnerStatus) error {
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scheduler status: %w", err)
	}

	tmp := f.statusPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write scheduler status: %w", err)
	}
	if err := os.Rename(tmp, f.statusPath); err != nil {
		return fmt.Errorf("commit scheduler status: %w", err)
	}
	return nil
}

// ReadStatus loads the last snapshot. A missing file reads as no schedules.
func (f *StateFile) ReadStatus() ([]OwnerStatus, error) {
	data, err := os.ReadFile(f.statusPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scheduler status: %w", err)
	}

	var statuses []OwnerStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("decode scheduler status: %w", err)
	}
	return statuses, nil
}

// RequestStop drops the stop marker for the owning process to pick up.
func (f *StateFile) RequestStop() error {
	if err := os.WriteFile(f.stopPath, nil, 0o644); err != nil {
		return fmt.Errorf("write stop marker: %w", err)
	}
	return nil
}

// StopRequested reports whether a stop marker is present.
func (f *StateFile) StopRequested() bool {
	_, err := os.Stat(f.stopPath)
	return err == nil
}

// Clear removes the status snapshot and any stop marker, typically on
// scheduler shutdown.
func (f *StateFile) Clear() error {
	for _, path := range []string{f.statusPath, f.stopPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}
