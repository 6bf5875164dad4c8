package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := New()

	lease, err := r.Register("T-1")
	require.NoError(t, err)

	assert.Equal(t, "T-1", lease.ID())
	assert.NotEqual(t, uuid.Nil, lease.RunID())
	assert.False(t, lease.StartTime().IsZero())
	assert.True(t, lease.Active())
	assert.True(t, r.IsActive("T-1"))
	assert.Equal(t, 1, r.Len())
}

func TestRegister_AlreadyExists(t *testing.T) {
	r := New()

	_, err := r.Register("T-1")
	require.NoError(t, err)

	_, err = r.Register("T-1")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_EmptyID(t *testing.T) {
	_, err := New().Register("")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestUnregister(t *testing.T) {
	r := New()
	lease, err := r.Register("T-1")
	require.NoError(t, err)

	removed := r.Unregister("T-1")
	require.Same(t, lease, removed)

	assert.False(t, lease.Active())
	assert.False(t, r.IsActive("T-1"))

	select {
	case <-lease.Done():
	default:
		t.Fatal("Done should be closed after Unregister")
	}

	assert.Nil(t, r.Unregister("T-1"), "second unregister is a no-op")
}

func TestRelease_DoesNotRemoveNewerLease(t *testing.T) {
	r := New()

	old, err := r.Register("T-1")
	require.NoError(t, err)
	r.Unregister("T-1")

	// ID сразу доступен для нового start
	fresh, err := r.Register("T-1")
	require.NoError(t, err)

	assert.False(t, old.Release(), "old lease must not release the new registration")
	assert.True(t, fresh.Active())
	assert.True(t, r.IsActive("T-1"))

	assert.True(t, fresh.Release())
	assert.False(t, r.IsActive("T-1"))
	assert.False(t, fresh.Release(), "release is idempotent")
}

func TestUnregisterAll(t *testing.T) {
	r := New()
	for _, id := range []string{"b", "a", "c"} {
		_, err := r.Register(id)
		require.NoError(t, err)
	}

	leases := r.UnregisterAll()
	require.Len(t, leases, 3)
	assert.Equal(t, "a", leases[0].ID())

	for _, l := range leases {
		assert.False(t, l.Active())
	}
	assert.Equal(t, 0, r.Len())
}

func TestSnapshot_Sorted(t *testing.T) {
	r := New()
	for _, id := range []string{"z", "m", "a"} {
		_, err := r.Register(id)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a", "m", "z"}, r.IDs())
	assert.Len(t, r.Snapshot(), 3)
}

func TestRegister_ConcurrentSameID(t *testing.T) {
	r := New()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register("T-1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one start wins")
}

func TestRegistry_ConcurrentMixedAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("T-%d", i%4)
		wg.Add(3)
		go func() {
			defer wg.Done()
			if l, err := r.Register(id); err == nil {
				l.Release()
			}
		}()
		go func() {
			defer wg.Done()
			r.IsActive(id)
		}()
		go func() {
			defer wg.Done()
			r.Unregister(id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
