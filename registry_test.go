package redisrpc

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndComplete(t *testing.T) {
	r := newRegistry()

	slot, err := r.register("id-1")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, 1, r.size())

	resp := &Response{ID: "id-1", Success: true}
	assert.True(t, r.complete("id-1", resp))
	assert.Equal(t, 0, r.size())

	out := <-slot.wait()
	require.NoError(t, out.err)
	assert.Same(t, resp, out.resp)
}

func TestRegistryDuplicateID(t *testing.T) {
	r := newRegistry()

	_, err := r.register("id-1")
	require.NoError(t, err)

	_, err = r.register("id-1")
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, r.size())
}

func TestRegistryCompleteUnknownID(t *testing.T) {
	r := newRegistry()
	assert.False(t, r.complete("missing", &Response{ID: "missing"}))
}

func TestRegistryRemove(t *testing.T) {
	r := newRegistry()

	_, err := r.register("id-1")
	require.NoError(t, err)

	r.remove("id-1")
	assert.Equal(t, 0, r.size())
	assert.False(t, r.complete("id-1", &Response{ID: "id-1"}))

	// Removing twice is harmless.
	r.remove("id-1")
}

func TestRegistryCancelAll(t *testing.T) {
	r := newRegistry()

	var slots []*pending
	for i := 0; i < 10; i++ {
		slot, err := r.register(fmt.Sprintf("id-%d", i))
		require.NoError(t, err)
		slots = append(slots, slot)
	}

	r.cancelAll(ErrClosed)
	assert.Equal(t, 0, r.size())

	for _, slot := range slots {
		out := <-slot.wait()
		assert.ErrorIs(t, out.err, ErrClosed)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := newRegistry()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("id-%d", i)
		slot, err := r.register(id)
		require.NoError(t, err)

		wg.Add(2)
		go func() {
			defer wg.Done()
			r.complete(id, &Response{ID: id, Success: true})
		}()
		go func() {
			defer wg.Done()
			select {
			case <-slot.wait():
			case <-time.After(time.Second):
				t.Error("slot never completed")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.size())
}

func TestRegistryCompleteRemoveRace(t *testing.T) {
	r := newRegistry()

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("id-%d", i)
		_, err := r.register(id)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.complete(id, &Response{ID: id})
		}()
		go func() {
			defer wg.Done()
			r.remove(id)
		}()
		wg.Wait()

		assert.Equal(t, 0, r.size())
	}
}
