package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimits_AllowsWithinLimits(t *testing.T) {
	limits := NewConnectionLimits(10, 5, 100, 100)

	ok, reason := limits.Acquire("10.0.0.1")
	require.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, int64(1), limits.Current())

	limits.Release("10.0.0.1")
	assert.Equal(t, int64(0), limits.Current())
}

func TestConnectionLimits_GlobalCap(t *testing.T) {
	limits := NewConnectionLimits(2, 5, 100, 100)

	for i := 0; i < 2; i++ {
		ok, _ := limits.Acquire(fmt.Sprintf("10.0.0.%d", i))
		require.True(t, ok)
	}

	ok, reason := limits.Acquire("10.0.0.99")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)
}

func TestConnectionLimits_PerIPCap(t *testing.T) {
	limits := NewConnectionLimits(100, 2, 100, 100)

	ok, _ := limits.Acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)

	// Other IPs still have room.
	ok, _ = limits.Acquire("10.0.0.2")
	assert.True(t, ok)
}

func TestConnectionLimits_PerIPRejectionReleasesGlobalSlot(t *testing.T) {
	limits := NewConnectionLimits(100, 1, 100, 100)

	ok, _ := limits.Acquire("10.0.0.1")
	require.True(t, ok)

	ok, _ = limits.Acquire("10.0.0.1")
	require.False(t, ok)
	assert.Equal(t, int64(1), limits.Current())
}

func TestConnectionLimits_RateLimit(t *testing.T) {
	limits := NewConnectionLimits(100, 100, 1, 2)

	ok, _ := limits.Acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)
}

func TestConnectionLimits_ReleaseCleansUpIPEntry(t *testing.T) {
	limits := NewConnectionLimits(100, 5, 100, 100)

	ok, _ := limits.Acquire("10.0.0.1")
	require.True(t, ok)
	limits.Release("10.0.0.1")

	limits.mu.Lock()
	_, exists := limits.perIP["10.0.0.1"]
	limits.mu.Unlock()
	assert.False(t, exists)
}

func TestConnectionLimits_ConcurrentAcquire(t *testing.T) {
	limits := NewConnectionLimits(50, 50, 10_000, 10_000)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limits.Acquire("10.0.0.1"); ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Len(t, granted, 50)
	assert.Equal(t, int64(50), limits.Current())
}
