// Package raingroup implements an ordered collection of blocks forming
// one parity group, with pending async write futures and a lock the
// parity worker uses to serialize recompute and flush against external
// recyclers.
package raingroup

import (
	"sync"

	"github.com/Anthya1104/rain-striper/internal/rainblock"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

// Group is one parity group: a fixed-arity sequence of blocks, an
// offset identifying it within the logical file, and the in-flight
// async futures belonging to its writes.
type Group struct {
	offset    int64
	blockSize int

	arena  *rainblock.Arena
	blocks []*rainblock.Block

	mu      sync.Mutex // guards pending only
	pending []*stripeio.Future

	extMu sync.Mutex // serializes the parity worker against recyclers

	// ParityError is set by the parity worker when it cannot complete
	// this group, at the same point it sets RainCore's sticky
	// parity_error flag.
	ParityError bool
}

// New creates a group of the given arity (total blocks, data +
// parity) and block size, per GroupRegistry.get_or_create's contract.
func New(offset int64, totalBlocks, blockSize, align int) *Group {
	arena := rainblock.NewArena(blockSize, align)
	blocks := make([]*rainblock.Block, totalBlocks)
	for i := range blocks {
		idx := arena.Alloc()
		blocks[i] = rainblock.NewBlock(arena.Slot(idx))
	}
	return &Group{
		offset:    offset,
		blockSize: blockSize,
		arena:     arena,
		blocks:    blocks,
	}
}

// Offset returns the logical file offset of the group's first byte.
func (g *Group) Offset() int64 { return g.offset }

// Block returns the i-th block (data or parity) of the group.
func (g *Group) Block(i int) *rainblock.Block { return g.blocks[i] }

// NumBlocks returns the group's arity.
func (g *Group) NumBlocks() int { return len(g.blocks) }

// StoreFuture appends f to the group's in-flight future list.
func (g *Group) StoreFuture(f *stripeio.Future) {
	g.mu.Lock()
	g.pending = append(g.pending, f)
	g.mu.Unlock()
}

// WaitAsyncOK drains the pending future list, waiting for every future
// and returning true iff all of them completed without error.
func (g *Group) WaitAsyncOK() bool {
	g.mu.Lock()
	pending := g.pending
	g.pending = nil
	g.mu.Unlock()

	ok := true
	for _, f := range pending {
		if err := f.Err(); err != nil {
			ok = false
		}
	}
	return ok
}

// FillWithZeros zero-fills every block's uncovered byte range.
func (g *Group) FillWithZeros() bool {
	for _, b := range g.blocks {
		if !b.FillWithZeros() {
			return false
		}
	}
	return true
}

// Lock/Unlock serialize the parity worker's recompute-and-flush
// against a concurrent recycler.
func (g *Group) Lock()   { g.extMu.Lock() }
func (g *Group) Unlock() { g.extMu.Unlock() }
