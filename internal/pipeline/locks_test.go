package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRegistryExclusive(t *testing.T) {
	r := NewLockRegistry()

	release, ok := r.TryAcquire("p1")
	require.True(t, ok)

	_, ok = r.TryAcquire("p1")
	assert.False(t, ok, "second acquire must fail while held")

	other, ok := r.TryAcquire("p2")
	require.True(t, ok, "projects do not exclude each other")
	other()

	release()
	release() // Extra calls are ignored

	release, ok = r.TryAcquire("p1")
	require.True(t, ok)
	release()
}

func TestLockRegistryHeldSince(t *testing.T) {
	r := NewLockRegistry()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	_, held := r.HeldSince("p1")
	assert.False(t, held)

	release, ok := r.TryAcquire("p1")
	require.True(t, ok)
	since, held := r.HeldSince("p1")
	assert.True(t, held)
	assert.Equal(t, at, since)

	release()
	_, held = r.HeldSince("p1")
	assert.False(t, held)
}

func TestLockRegistryForceRelease(t *testing.T) {
	r := NewLockRegistry()

	stale, ok := r.TryAcquire("p1")
	require.True(t, ok)

	r.ForceRelease("p1")
	fresh, ok := r.TryAcquire("p1")
	require.True(t, ok)

	// The old holder releasing must not free the new holder's lock.
	stale()
	_, ok = r.TryAcquire("p1")
	assert.False(t, ok)

	fresh()
}

func TestLockRegistryConcurrentAcquire(t *testing.T) {
	r := NewLockRegistry()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.TryAcquire("p1"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
