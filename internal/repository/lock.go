package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// staleAfter is how long a lock may go untouched before another process takes it over.
const staleAfter = 12 * time.Hour

// LockInfo is the metadata written into a save directory's lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Owner     string    `json:"owner"` // "solo", "host", "client"
	Timestamp time.Time `json:"timestamp"`
}

// FileLock keeps two tavern processes from autosaving into the same directory.
type FileLock struct {
	path  string
	file  *os.File
	owner string
}

// NewFileLock creates a lock at path on behalf of owner.
func NewFileLock(path, owner string) *FileLock {
	return &FileLock{path: path, owner: owner}
}

// Acquire takes the lock, taking over a stale one.
func (l *FileLock) Acquire() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close lock file", "path", l.path, "error", closeErr)
		}

		existing, readErr := l.read()
		if readErr == nil && existing.stale() {
			slog.Warn("taking over stale save lock", "path", l.path, "pid", existing.PID)
			_ = os.Remove(l.path)
			return l.Acquire()
		}
		if readErr == nil {
			age := time.Since(existing.Timestamp).Round(time.Second)
			return fmt.Errorf("saves locked by %s session (PID %d on %s, %v ago)",
				existing.Owner, existing.PID, existing.Hostname, age)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.file = file

	hostname, _ := os.Hostname()
	data, _ := json.MarshalIndent(LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		Owner:     l.owner,
		Timestamp: time.Now(),
	}, "", "  ")
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write lock metadata: %w", err)
	}
	return nil
}

// Release drops the lock and removes the lock file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("failed to release flock", "path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("failed to close lock file", "path", l.path, "error", err)
	}
	l.file = nil
	return os.Remove(l.path)
}

func (l *FileLock) read() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// stale reports whether the holder is gone or the lock is older than staleAfter.
func (i *LockInfo) stale() bool {
	process, err := os.FindProcess(i.PID)
	if err != nil {
		return true
	}
	// FindProcess always succeeds on Unix.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return true
	}
	return time.Since(i.Timestamp) > staleAfter
}
