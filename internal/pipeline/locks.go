package pipeline

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// LockRegistry holds one exclusive lock per project. It is process-local:
// create one and share it between every orchestrator in the process.
type LockRegistry struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	now     func() time.Time
}

type lockEntry struct {
	sem        *semaphore.Weighted
	acquiredAt time.Time
}

// NewLockRegistry creates an empty registry
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		entries: make(map[string]*lockEntry),
		now:     time.Now,
	}
}

// TryAcquire takes the project's lock without blocking. On success the
// returned release func must be called exactly once; extra calls are ignored.
func (r *LockRegistry) TryAcquire(projectID string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[projectID]
	if !exists {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		r.entries[projectID] = e
	}
	if !e.sem.TryAcquire(1) {
		return nil, false
	}
	e.acquiredAt = r.now()

	sem := e.sem
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, true
}

// HeldSince reports when the project's lock was taken, if it is held.
func (r *LockRegistry) HeldSince(projectID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[projectID]
	if !exists {
		return time.Time{}, false
	}
	if !e.sem.TryAcquire(1) {
		return e.acquiredAt, true
	}
	e.sem.Release(1)
	return time.Time{}, false
}

// ForceRelease discards the project's lock so the next TryAcquire succeeds.
// The previous holder's release func still works but no longer guards
// anything.
func (r *LockRegistry) ForceRelease(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, projectID)
}
