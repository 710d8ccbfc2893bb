package parity

import (
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/Anthya1104/rain-striper/internal/raingroup"
)

// ReedSolomon computes row parity over D data blocks and P parity
// blocks using a GF(2^8) coding matrix, generalizing double-parity to
// any P >= 1. Each row of D+P blocks within a group is one
// reedsolomon shard set; the coding matrix is deterministic in (D, P),
// so independently-opened handles always agree on it.
type ReedSolomon struct {
	D, P int
	enc  reedsolomon.Encoder
}

// NewReedSolomon builds a Reed-Solomon engine for d data and p parity
// stripes.
func NewReedSolomon(d, p int) (*ReedSolomon, error) {
	enc, err := reedsolomon.New(d, p)
	if err != nil {
		return nil, fmt.Errorf("parity: create reed-solomon encoder (d=%d p=%d): %w", d, p, err)
	}
	return &ReedSolomon{D: d, P: p, enc: enc}, nil
}

func (e *ReedSolomon) VectorWordSize() int { return VectorWordSize }

func (e *ReedSolomon) width() int { return e.D + e.P }

// ComputeParity encodes each row of the group independently: D data
// shards in, P parity shards filled in place.
func (e *ReedSolomon) ComputeParity(g *raingroup.Group) error {
	n := e.width()
	if g.NumBlocks()%n != 0 {
		return fmt.Errorf("parity: reed-solomon group has %d blocks, not a multiple of %d", g.NumBlocks(), n)
	}
	rows := g.NumBlocks() / n
	for r := 0; r < rows; r++ {
		base := r * n
		shards := make([][]byte, n)
		for i := 0; i < n; i++ {
			shards[i] = g.Block(base + i).DataPtr()
		}
		if err := e.enc.Encode(shards); err != nil {
			return fmt.Errorf("parity: reed-solomon encode row %d: %w", r, err)
		}
	}
	return nil
}

// Recover reconstructs every missing block of every row that has at
// most P missing shards. It reports whether every row with a gap was
// fully reconstructed.
func (e *ReedSolomon) Recover(g *raingroup.Group, present []bool) bool {
	n := e.width()
	rows := g.NumBlocks() / n
	ok := true

	for r := 0; r < rows; r++ {
		base := r * n
		shards := make([][]byte, n)
		missing := 0
		for i := 0; i < n; i++ {
			if present[base+i] {
				shards[i] = g.Block(base + i).DataPtr()
			} else {
				missing++
			}
		}
		if missing == 0 {
			continue
		}
		if missing > e.P {
			ok = false
			continue
		}
		if err := e.enc.Reconstruct(shards); err != nil {
			ok = false
			continue
		}
		for i := 0; i < n; i++ {
			if !present[base+i] {
				copy(g.Block(base+i).DataPtr(), shards[i])
				present[base+i] = true
			}
		}
	}
	return ok
}
