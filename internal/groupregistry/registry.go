// Package groupregistry implements the bounded map of group-offset to
// *raingroup.Group with admission control and reference-counted
// recycling that backs the streaming write pipeline.
package groupregistry

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Anthya1104/rain-striper/internal/raingroup"
)

// DefaultMaxGroups is the soft admission bound: it couples the write
// pipeline's memory footprint to maxGroups * group size.
const DefaultMaxGroups = 32

// entry couples a group with the registry's view of how many external
// holders still reference it. The map entry itself is the registry's
// own reference and is not counted in refs; a group is only evicted by
// Recycle, and only once every external holder has released.
type entry struct {
	group *raingroup.Group
	refs  int
}

// Registry is the bounded, recycling group map.
type Registry struct {
	maxGroups int
	blockSize int
	align     int
	totalBlk  int // arity of each group (N*D)

	mu      sync.Mutex
	cond    *sync.Cond
	entries map[int64]*entry
}

// New creates a registry that creates groups with the given arity,
// block size and alignment, admitting at most maxGroups concurrently
// (0 selects DefaultMaxGroups).
func New(maxGroups, totalBlocksPerGroup, blockSize, align int) *Registry {
	if maxGroups <= 0 {
		maxGroups = DefaultMaxGroups
	}
	r := &Registry{
		maxGroups: maxGroups,
		blockSize: blockSize,
		align:     align,
		totalBlk:  totalBlocksPerGroup,
		entries:   make(map[int64]*entry),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// GetOrCreate returns the group for offset, creating it if necessary.
// An existing group is returned immediately, bypassing the admission
// limit. A brand new group blocks on the condition variable until
// len(entries) < maxGroups.
func (r *Registry) GetOrCreate(offset int64) *raingroup.Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[offset]; ok {
		e.refs++
		return e.group
	}

	for len(r.entries) >= r.maxGroups {
		r.cond.Wait()
		if e, ok := r.entries[offset]; ok {
			// Someone else created it for us while we waited.
			e.refs++
			return e.group
		}
	}

	g := raingroup.New(offset, r.totalBlk, r.blockSize, r.align)
	r.entries[offset] = &entry{group: g, refs: 1}
	return g
}

// Release drops one external reference to the group at offset, as
// taken by GetOrCreate. It never evicts: the map entry stays resident
// until the parity worker (or the Close drain) calls Recycle.
func (r *Registry) Release(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[offset]; ok && e.refs > 0 {
		e.refs--
	}
}

// Recycle evicts the group at offset if no external holder still
// references it, waking one admission waiter. If another reference is
// still held, the call is a no-op and the group stays resident until a
// later Recycle.
func (r *Registry) Recycle(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[offset]
	if !ok {
		return
	}
	if e.refs > 0 {
		return
	}
	delete(r.entries, offset)
	logrus.WithFields(logrus.Fields{
		"component": "groupregistry",
		"offset":    offset,
	}).Debug("group recycled")
	r.cond.Signal()
}

// AllOffsets returns a snapshot of the currently resident group
// offsets, used to drain the registry at Close.
func (r *Registry) AllOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	offs := make([]int64, 0, len(r.entries))
	for off := range r.entries {
		offs = append(offs, off)
	}
	return offs
}

// Size reports the current admitted group count.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Lookup returns the group at offset if resident, without affecting
// its refcount.
func (r *Registry) Lookup(offset int64) (*raingroup.Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[offset]
	if !ok {
		return nil, false
	}
	return e.group, true
}
