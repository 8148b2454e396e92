package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	lockName   = "daemon.lock"
	statusName = "daemon.json"
)

// State is the daemon's lifecycle stage.
type State string

const (
	StateStarting State = "starting"
	StateIndexing State = "indexing"
	StateWatching State = "watching"
	StateStopped  State = "stopped"
)

// Status is the daemon's liveness record, mirrored to daemon.json in the
// state directory while it runs.
type Status struct {
	Running       bool      `json:"running"`
	PID           int       `json:"pid"`
	RunID         string    `json:"run_id"`
	Version       string    `json:"version"`
	SchemaVersion int       `json:"schema_version"`
	StartedAt     time.Time `json:"started_at"`
	LastUpdate    time.Time `json:"last_update,omitzero"`
	Files         int       `json:"files"`
	Symbols       int       `json:"symbols"`
	State         State     `json:"state"`
}

// ReadStatus loads the status file from stateDir. A missing file or one
// whose process is gone reports a stopped daemon.
func ReadStatus(stateDir string) (Status, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, statusName))
	if errors.Is(err, fs.ErrNotExist) {
		return Status{State: StateStopped}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("parse status: %w", err)
	}
	if !processAlive(st.PID) {
		st.Running = false
		st.State = StateStopped
	}
	return st, nil
}

// writeStatus replaces the status file atomically.
func writeStatus(stateDir string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(stateDir, statusName+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(stateDir, statusName))
}

func removeStatus(stateDir string) error {
	err := os.Remove(filepath.Join(stateDir, statusName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
