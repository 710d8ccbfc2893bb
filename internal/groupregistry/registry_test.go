package groupregistry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Anthya1104/rain-striper/internal/groupregistry"
)

const (
	testArity     = 24 // D=4 double-parity group
	testBlockSize = 64
)

func newTestRegistry(maxGroups int) *groupregistry.Registry {
	return groupregistry.New(maxGroups, testArity, testBlockSize, 16)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	t.Run("CreatesWithRequestedShape", func(t *testing.T) {
		r := newTestRegistry(4)
		g := r.GetOrCreate(0)
		assert.NotNil(t, g)
		assert.Equal(t, testArity, g.NumBlocks(), "groups must be created with the registry's arity")
		assert.Equal(t, testBlockSize, g.Block(0).Size(), "groups must use the registry's block size")
	})

	t.Run("SameOffsetSameGroup", func(t *testing.T) {
		r := newTestRegistry(4)
		a := r.GetOrCreate(1024)
		b := r.GetOrCreate(1024)
		assert.Same(t, a, b, "the same offset must resolve to the same resident group")
		assert.Equal(t, 1, r.Size())
	})
}

func TestRegistry_AdmissionBound(t *testing.T) {
	r := newTestRegistry(2)
	r.GetOrCreate(0)
	r.GetOrCreate(1024)
	assert.Equal(t, 2, r.Size(), "the registry admits up to maxGroups groups")

	t.Run("ExistingOffsetBypassesLimit", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			r.GetOrCreate(1024)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("GetOrCreate for a resident offset must not block on admission")
		}
	})

	t.Run("NewOffsetBlocksUntilRecycle", func(t *testing.T) {
		admitted := make(chan struct{})
		go func() {
			r.GetOrCreate(2048)
			close(admitted)
		}()

		select {
		case <-admitted:
			t.Fatal("a new offset must wait while the registry is full")
		case <-time.After(50 * time.Millisecond):
		}

		// Two GetOrCreate calls were made against offset 1024; release
		// both holders, then recycle to free the slot.
		r.Release(1024)
		r.Release(1024)
		r.Recycle(1024)

		select {
		case <-admitted:
		case <-time.After(time.Second):
			t.Fatal("recycling a group must wake the admission waiter")
		}
		assert.Equal(t, 2, r.Size())
	})
}

func TestRegistry_Recycle(t *testing.T) {
	t.Run("SkipsWhileHeld", func(t *testing.T) {
		r := newTestRegistry(4)
		r.GetOrCreate(0)

		r.Recycle(0)
		assert.Equal(t, 1, r.Size(), "recycle must skip a group a holder still references")

		r.Release(0)
		r.Recycle(0)
		assert.Equal(t, 0, r.Size(), "once released, recycle must evict the group")
	})

	t.Run("UnknownOffsetIsNoop", func(t *testing.T) {
		r := newTestRegistry(4)
		r.Recycle(4096)
		assert.Equal(t, 0, r.Size())
	})
}

func TestRegistry_AllOffsetsAndLookup(t *testing.T) {
	r := newTestRegistry(4)
	r.GetOrCreate(0)
	r.GetOrCreate(1024)

	offs := r.AllOffsets()
	assert.ElementsMatch(t, []int64{0, 1024}, offs, "AllOffsets must snapshot every resident group")

	g, ok := r.Lookup(1024)
	assert.True(t, ok)
	assert.Equal(t, int64(1024), g.Offset())

	_, ok = r.Lookup(9999)
	assert.False(t, ok, "Lookup must not create groups")
}
