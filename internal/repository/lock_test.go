package repository

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".lock")
	lock := NewFileLock(lockPath, "solo")

	require.NoError(t, lock.Acquire())

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var info LockInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "solo", info.Owner)

	require.NoError(t, lock.Release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))

	// Releasing twice is harmless.
	assert.NoError(t, lock.Release())
}

func TestFileLock_MultipleAcquire(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".lock")
	lock1 := NewFileLock(lockPath, "host")
	lock2 := NewFileLock(lockPath, "solo")

	require.NoError(t, lock1.Acquire())
	defer lock1.Release()

	err := lock2.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by host session")
}

func TestFileLock_LeftoverFileWithoutHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".lock")
	leftover, _ := json.Marshal(LockInfo{PID: os.Getpid(), Owner: "solo", Timestamp: time.Now().Add(-time.Hour)})
	require.NoError(t, os.WriteFile(lockPath, leftover, 0644))

	lock := NewFileLock(lockPath, "solo")
	require.NoError(t, lock.Acquire(), "a file nobody flocks does not block")
	defer lock.Release()
}

func TestLockInfo_Stale(t *testing.T) {
	fresh := LockInfo{PID: os.Getpid(), Timestamp: time.Now()}
	assert.False(t, fresh.stale())

	old := LockInfo{PID: os.Getpid(), Timestamp: time.Now().Add(-2 * staleAfter)}
	assert.True(t, old.stale())
}

func TestSaveStore_Lock(t *testing.T) {
	store := NewSaveStore(filepath.Join(t.TempDir(), "nested", "saves"))

	lock, err := store.Lock("solo")
	require.NoError(t, err)
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}
