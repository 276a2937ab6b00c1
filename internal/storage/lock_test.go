package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLock(t *testing.T, dir string, lock ProcessLock) {
	t.Helper()
	data, err := json.Marshal(lock)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProcessLockFile), data, 0o644))
}

func TestAcquireProcessLock(t *testing.T) {
	dir := t.TempDir()

	path, err := AcquireProcessLock(dir, "sigtrend-serve")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ProcessLockFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lock ProcessLock
	require.NoError(t, json.Unmarshal(data, &lock))
	assert.Equal(t, "sigtrend-serve", lock.Holder)
	assert.Equal(t, os.Getpid(), lock.PID)

	// Held by this (live) process
	_, err = AcquireProcessLock(dir, "sigtrend-run")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, ReleaseProcessLock(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	path, err = AcquireProcessLock(dir, "sigtrend-run")
	require.NoError(t, err)
	require.NoError(t, ReleaseProcessLock(path))
}

func TestAcquireProcessLockReplacesDeadHolder(t *testing.T) {
	dir := t.TempDir()
	hostname, err := os.Hostname()
	require.NoError(t, err)

	writeLock(t, dir, ProcessLock{
		Holder:    "sigtrend-serve",
		PID:       2147483646,
		Hostname:  hostname,
		StartedAt: time.Now().Add(-time.Hour),
	})

	path, err := AcquireProcessLock(dir, "sigtrend-run")
	require.NoError(t, err)
	defer ReleaseProcessLock(path)
}

func TestAcquireProcessLockRemoteHolder(t *testing.T) {
	dir := t.TempDir()
	writeLock(t, dir, ProcessLock{
		Holder:    "sigtrend-serve",
		PID:       1,
		Hostname:  "some-other-host.invalid",
		StartedAt: time.Now(),
	})

	_, err := AcquireProcessLock(dir, "sigtrend-run")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestReleaseProcessLockMissing(t *testing.T) {
	assert.NoError(t, ReleaseProcessLock(""))
	assert.NoError(t, ReleaseProcessLock(filepath.Join(t.TempDir(), ProcessLockFile)))
}

func TestLockDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SQLite.Path = filepath.Join("data", "signals.db")
	assert.Equal(t, "data", LockDir(cfg, ".sigtrend"))

	cfg.Backend = BackendPostgres
	assert.Equal(t, ".sigtrend", LockDir(cfg, ".sigtrend"))
	assert.Equal(t, ".sigtrend", LockDir(nil, ".sigtrend"))
}
