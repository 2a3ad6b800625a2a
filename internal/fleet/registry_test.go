package fleet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryInsertRefusesDuplicate(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	assert.True(t, r.Insert(NewHandle("t1", &fakeRuntime{}, now)))
	assert.False(t, r.Insert(NewHandle("t1", &fakeRuntime{}, now)))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	h := NewHandle("t1", &fakeRuntime{}, time.Now())
	r.Insert(h)

	assert.Same(t, h, r.Remove("t1"))
	assert.Nil(t, r.Remove("t1"))
	assert.Nil(t, r.Get("t1"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentInsertOneWinner(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Insert(NewHandle("t1", &fakeRuntime{}, now)) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, 1, r.Len())
}

func TestHandleProbeBookkeeping(t *testing.T) {
	h := NewHandle("t1", &fakeRuntime{}, time.Now())
	assert.True(t, h.Healthy())
	assert.Equal(t, 0, h.ConsecutiveFailures())

	at := time.Now()
	h.MarkProbe(false, at)
	h.MarkProbe(false, at)
	assert.False(t, h.Healthy())
	assert.Equal(t, 2, h.ConsecutiveFailures())

	// Any success resets the streak.
	h.MarkProbe(true, at)
	assert.True(t, h.Healthy())
	assert.Equal(t, 0, h.ConsecutiveFailures())
	assert.Equal(t, at, h.LastProbe())
}
