package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Loop states written to status files.
const (
	StatusReady = "ready"
	StatusIdle  = "idle"
	StatusError = "error"
)

// StatusFile describes a running loop.
type StatusFile struct {
	Loop    string     `json:"loop" yaml:"loop"`
	Status  string     `json:"status" yaml:"status"`
	PID     int        `json:"pid,omitempty" yaml:"pid,omitempty"`
	Started time.Time  `json:"started" yaml:"started"`
	LastRun *time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	Error   string     `json:"error,omitempty" yaml:"error,omitempty"` // last run's error, if any
	Detail  string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// WriteStatus replaces the status file atomically.
func WriteStatus(path string, status *StatusFile) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file.
func RemoveStatus(path string) error {
	return os.Remove(path)
}

// StatusPath returns the status file path of a loop.
func StatusPath(dataDir, loop string) string {
	return filepath.Join(dataDir, loop+".status")
}

// LoopStatus is the observed state of one loop.
type LoopStatus struct {
	Loop    string      `json:"loop" yaml:"loop"`
	Running bool        `json:"running" yaml:"running"`
	Status  *StatusFile `json:"status,omitempty" yaml:"status,omitempty"`
}

// Statuses reports every known loop. A loop is running when its PID file
// names a live process; its status file is included when readable.
func Statuses(dataDir string) []LoopStatus {
	out := make([]LoopStatus, 0, len(Loops))
	for _, loop := range Loops {
		ls := LoopStatus{Loop: loop, Running: IsRunning(PIDPath(dataDir, loop))}
		if st, err := ReadStatus(StatusPath(dataDir, loop)); err == nil {
			ls.Status = st
		}
		out = append(out, ls)
	}
	return out
}
