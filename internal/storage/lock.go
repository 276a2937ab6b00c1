package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ProcessLockFile is the lock file name inside the data directory
const ProcessLockFile = ".sigtrend.lock"

// ErrLocked is returned when another live process holds the data directory
var ErrLocked = errors.New("data directory is locked by another process")

// ProcessLock is the lock file format. Project locks are process-local, so
// only one sigtrend process may drive the pipeline against a data directory.
type ProcessLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// LockDir returns the directory holding the process lock for cfg: the
// sqlite database's directory, or fallback for other backends.
func LockDir(cfg *Config, fallback string) string {
	if cfg != nil && (cfg.Backend == "" || cfg.Backend == BackendSQLite) && cfg.SQLite.Path != "" {
		return filepath.Dir(cfg.SQLite.Path)
	}
	return fallback
}

// AcquireProcessLock writes a lock file into dir. A lock left by a process
// that no longer exists is overwritten. Returns the lock file path for
// ReleaseProcessLock.
func AcquireProcessLock(dir, holder string) (lockPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create lock directory: %w", err)
	}
	lockPath = filepath.Join(dir, ProcessLockFile)

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing ProcessLock
		if json.Unmarshal(data, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w: %s (PID %d on %s, started %s)", ErrLocked,
				existing.Holder, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	lock := ProcessLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write lock file: %w", err)
	}
	return lockPath, nil
}

// ReleaseProcessLock removes the lock file. An empty path is a no-op.
func ReleaseProcessLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// isProcessAlive reports whether pid exists. Processes on other hosts
// cannot be checked and count as alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM: exists but owned by someone else
	return errors.Is(err, syscall.EPERM)
}
