package daemon

import (
	"fmt"
	"os"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// RecoverFromStale checks for and cleans up artifacts of a dead process.
// Returns nil if cleanup succeeded or wasn't needed.
// Returns ErrAlreadyRunning if the process in the PID file is alive.
func RecoverFromStale(pidPath string, log *logging.Logger, extra ...string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		// No PID file or an unreadable one leaves nothing to recover.
		return nil
	}

	if pid == os.Getpid() {
		return nil
	}
	if IsProcessRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	if log == nil {
		log = logging.Nop()
	}
	log.Warn("cleaning up stale process files", "stale_pid", pid, "pid_file", pidPath)

	// Remove stale files (ignore errors - files may not exist)
	_ = os.Remove(pidPath)
	for _, path := range extra {
		_ = os.Remove(path)
	}

	return nil
}
