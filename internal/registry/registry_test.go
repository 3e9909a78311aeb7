package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ id string }

func (f fakeHandle) ID() string { return f.id }

func TestAddGetRemove(t *testing.T) {
	r := New()
	r.Add(fakeHandle{"Worker-1"})

	h, ok := r.Get("Worker-1")
	require.True(t, ok)
	assert.Equal(t, "Worker-1", h.ID())
	assert.Equal(t, 1, r.Count())

	r.Remove("Worker-1")
	_, ok = r.Get("Worker-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	r := New()
	r.Remove("Worker-missing")
	assert.Equal(t, 0, r.Count())
}

func TestAddReplacesExistingID(t *testing.T) {
	r := New()
	r.Add(fakeHandle{"Worker-1"})
	r.Add(fakeHandle{"Worker-1"})

	assert.Equal(t, 1, r.Count())
}

func TestSnapshotToleratesLaterRemoval(t *testing.T) {
	r := New()
	r.Add(fakeHandle{"Worker-1"})
	r.Add(fakeHandle{"Worker-2"})

	snap := r.Snapshot()
	r.Remove("Worker-1")
	r.Remove("Worker-2")

	assert.Len(t, snap, 2, "a prior snapshot must not be mutated by later removals")
	assert.Equal(t, 0, r.Count())
}

func TestRangeStopsEarlyWhenFnReturnsFalse(t *testing.T) {
	r := New()
	r.Add(fakeHandle{"Worker-1"})
	r.Add(fakeHandle{"Worker-2"})

	seen := 0
	r.Range(func(Handle) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen)
}

func TestConcurrentAddAndRemoveDoesNotRace(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h := fakeHandle{id: "Worker-concurrent"}
			r.Add(h)
			r.Get(h.ID())
			r.Remove(h.ID())
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}
