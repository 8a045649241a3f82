// Package daemon holds the process lifecycle shared by snaptrack's long
// running loops: PID files, stale-PID recovery and per-loop status files.
// Each loop (monitor, janitor, scrape, serve) runs in its own process and
// at most one instance of each may run per data directory.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// Loop names, also used as PID and status file stems.
const (
	LoopMonitor = "monitor"
	LoopJanitor = "janitor"
	LoopScraper = "scrape"
	LoopWeb     = "serve"
)

// Loops lists every loop in display order.
var Loops = []string{LoopMonitor, LoopJanitor, LoopScraper, LoopWeb}

// ErrAlreadyRunning is returned when another process holds the loop.
var ErrAlreadyRunning = errors.New("loop already running")

// PIDPath returns the PID file path of a loop.
func PIDPath(dataDir, loop string) string {
	return filepath.Join(dataDir, loop+".pid")
}

// WritePIDFile writes the current process ID to a file.
func WritePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}

	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsRunning checks if the process named by a PID file is alive.
func IsRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}

// Instance is a claimed loop. The claim is an advisory lock next to the
// PID file; the PID and status files are informational.
type Instance struct {
	loop       string
	pidPath    string
	statusPath string
	lock       *flock.Flock
	started    time.Time
	log        *logging.Logger
}

// Acquire claims loop in dataDir. Stale artifacts left by a dead process
// are removed first; extra names additional stale files to remove, such
// as a database LOCK. It returns ErrAlreadyRunning when a live process
// holds the loop.
func Acquire(dataDir, loop string, log *logging.Logger, extra ...string) (*Instance, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	pidPath := PIDPath(dataDir, loop)
	lock := flock.New(pidPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", loop, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, loop)
	}

	if err := RecoverFromStale(pidPath, log, extra...); errors.Is(err, ErrAlreadyRunning) {
		// The lock was free, so the recorded PID was reused by another process.
		log.Warn("pid file names an unrelated process, replacing", "pid_file", pidPath, "error", err)
		for _, path := range extra {
			_ = os.Remove(path)
		}
	}

	if err := WritePIDFile(pidPath); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("writing pid file: %w", err)
	}

	inst := &Instance{
		loop:       loop,
		pidPath:    pidPath,
		statusPath: StatusPath(dataDir, loop),
		lock:       lock,
		started:    time.Now().UTC(),
		log:        log,
	}
	if err := inst.write(StatusReady, time.Time{}, nil, ""); err != nil {
		log.Warn("failed to write status file", "error", err)
	}
	return inst, nil
}

// Loop returns the claimed loop name.
func (i *Instance) Loop() string {
	return i.loop
}

// Report records the outcome of a run in the status file. Failures to
// write are logged.
func (i *Instance) Report(at time.Time, runErr error, detail string) {
	state := StatusIdle
	if runErr != nil {
		state = StatusError
	}
	if err := i.write(state, at, runErr, detail); err != nil {
		i.log.Warn("failed to write status file", "error", err)
	}
}

// Release removes the PID and status files and drops the claim.
func (i *Instance) Release() error {
	var errs []error
	if err := RemovePIDFile(i.pidPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := RemoveStatus(i.statusPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := i.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (i *Instance) write(state string, at time.Time, runErr error, detail string) error {
	status := StatusFile{
		Loop:    i.loop,
		Status:  state,
		PID:     os.Getpid(),
		Started: i.started,
		Detail:  detail,
	}
	if !at.IsZero() {
		t := at.UTC()
		status.LastRun = &t
	}
	if runErr != nil {
		status.Error = runErr.Error()
	}
	return WriteStatus(i.statusPath, &status)
}
