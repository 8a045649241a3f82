package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jamesainslie/snaptrack/pkg/daemon"
)

func TestRecoverFromStale_NoPIDFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "monitor.pid")

	if err := daemon.RecoverFromStale(pidPath, nil); err != nil {
		t.Errorf("Expected nil when no PID file exists, got %v", err)
	}
}

func TestRecoverFromStale_ProcessRunning(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "monitor.pid")

	// The parent (go test) is alive and is not this process.
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getppid())), 0644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}

	err := daemon.RecoverFromStale(pidPath, nil)
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning when process is running, got %v", err)
	}

	if _, err := os.Stat(pidPath); os.IsNotExist(err) {
		t.Error("PID file should not have been removed when process is running")
	}
}

func TestRecoverFromStale_StaleProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "monitor.pid")

	seenDir := filepath.Join(dir, "seen")
	if err := os.MkdirAll(seenDir, 0755); err != nil {
		t.Fatalf("Failed to create seen directory: %v", err)
	}
	lockPath := filepath.Join(seenDir, "LOCK")

	stalePID := 999999999
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(stalePID)), 0644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	if err := os.WriteFile(lockPath, []byte("fake lock"), 0644); err != nil {
		t.Fatalf("Failed to write lock file: %v", err)
	}

	if err := daemon.RecoverFromStale(pidPath, nil, lockPath); err != nil {
		t.Errorf("Expected nil after cleaning up stale process, got %v", err)
	}

	for _, path := range []string{pidPath, lockPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("File %s should have been removed after recovery", path)
		}
	}
}

func TestRecoverFromStale_OwnPID(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "serve.pid")
	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatal(err)
	}

	if err := daemon.RecoverFromStale(pidPath, nil); err != nil {
		t.Errorf("Expected nil for this process's own PID, got %v", err)
	}
}

func TestRecoverFromStale_InvalidPIDFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "monitor.pid")

	if err := os.WriteFile(pidPath, []byte("not-a-number"), 0644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}

	if err := daemon.RecoverFromStale(pidPath, nil); err != nil {
		t.Errorf("Expected nil for invalid PID file, got %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !daemon.IsProcessRunning(os.Getpid()) {
		t.Error("Expected current process to be running")
	}
	if daemon.IsProcessRunning(999999999) {
		t.Error("Expected non-existent PID to not be running")
	}
	if daemon.IsProcessRunning(0) {
		t.Error("Expected PID 0 to not be running")
	}
}
