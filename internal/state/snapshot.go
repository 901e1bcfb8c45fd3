package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotFile persists snapshots as a timestamp-named JSON file with
// crash-safe writes: the snapshot is written to a temporary file first and
// then renamed over the target, so a crash mid-write never corrupts the
// last good snapshot.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile creates the snapshot directory if needed and picks the
// file name for this process run, keyed by the creation timestamp.
func NewSnapshotFile(dir string, createdAt time.Time) (*SnapshotFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	name := createdAt.Format("2006-01-02_15-04-05") + ".json"
	return &SnapshotFile{path: filepath.Join(dir, name)}, nil
}

// Path returns the snapshot file path for this run.
func (f *SnapshotFile) Path() string {
	return f.path
}

// Write replaces the snapshot file contents atomically.
func (f *SnapshotFile) Write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp) // best effort cleanup
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Read loads the persisted snapshot back. Used by tests and by operators
// inspecting a run's final state.
func (f *SnapshotFile) Read() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Negotiations == nil {
		snap.Negotiations = make(map[string]Negotiation)
	}
	if snap.Directory == nil {
		snap.Directory = make(map[string]string)
	}
	return snap, nil
}
