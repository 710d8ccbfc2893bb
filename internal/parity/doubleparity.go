package parity

import (
	"fmt"

	"github.com/Anthya1104/rain-striper/internal/raingroup"
)

// DoubleParity computes row (P) parity plus one modular diagonal (DP)
// parity per group, tolerating exactly 2 losses. Blocks are arranged
// flat within a group as D rows of N = D+2 columns: D data columns,
// one P column, one DP column. One diagonal (the one through flat
// index D) carries no DP block and is omitted from recovery.
type DoubleParity struct {
	D int
}

// NewDoubleParity builds a double-parity engine for d data stripes (P
// is always 2 for this scheme).
func NewDoubleParity(d int) *DoubleParity { return &DoubleParity{D: d} }

func (e *DoubleParity) VectorWordSize() int { return VectorWordSize }

func (e *DoubleParity) n() int           { return e.D + 2 }
func (e *DoubleParity) totalBlocks() int { return e.D * e.n() }

// simpleParityIndices returns each row's P block flat index:
// D, D+N, D+2N, ..., per getSimpleParityIndices.
func (e *DoubleParity) simpleParityIndices() []int {
	n := e.n()
	out := make([]int, e.D)
	for i := 0; i < e.D; i++ {
		out[i] = e.D + i*n
	}
	return out
}

// doubleParityIndices returns each row's DP block flat index:
// D+1, D+1+N, ..., per getDoubleParityIndices.
func (e *DoubleParity) doubleParityIndices() []int {
	n := e.n()
	out := make([]int, e.D)
	for i := 0; i < e.D; i++ {
		out[i] = e.D + 1 + i*n
	}
	return out
}

// horizontalStripe returns the row containing id (its D data columns
// plus the P column), or nil if id is itself the DP column, which has
// no horizontal stripe, per validHorizStripe.
func (e *DoubleParity) horizontalStripe(id int) []int {
	n := e.n()
	base := (id / n) * n
	if id == base+e.D+1 {
		return nil
	}
	out := make([]int, e.D+1)
	for i := 0; i <= e.D; i++ {
		out[i] = base + i
	}
	return out
}

// diagonalStripe returns the modular diagonal through id, or nil if
// id lies on the omitted diagonal (the one through flat index D),
// per getDiagonalStripe.
func (e *DoubleParity) diagonalStripe(blockID int) []int {
	d := e.D
	total := e.totalBlocks()
	dpIdx := e.doubleParityIndices()

	if blockID == d {
		return nil
	}

	stripe := []int{blockID}
	dpAdded := false
	if containsInt(dpIdx, blockID) {
		blockID = blockID % (d + 1)
		stripe = append(stripe, blockID)
		dpAdded = true
	}

	previous := blockID
	jump := d + 3
	idLast := total - 1

	for i := 0; i < d-1; i++ {
		next := previous + jump
		if next > idLast {
			next %= idLast
			if next >= d+1 {
				next = (previous + jump) % jump
			}
		} else if containsInt(dpIdx, next) {
			next = previous + 2
		}
		stripe = append(stripe, next)
		previous = next
		if next == d {
			return nil
		}
	}

	if !dpAdded {
		stripe = append(stripe, e.dParityBlockID(stripe))
	}
	return stripe
}

// dParityBlockID returns the DP block flat index owning stripe, per
// getDParityBlockId: (min+1)*(D+1) + min, where min is the stripe's
// smallest flat index.
func (e *DoubleParity) dParityBlockID(stripe []int) int {
	min := stripe[0]
	for _, v := range stripe[1:] {
		if v < min {
			min = v
		}
	}
	return (min+1)*(e.D+1) + min
}

// MapBigToSmall maps a flat group index (including P/DP columns) to
// its pure-data index in [0, D*D), or ok=false if big is a P/DP
// column, per mapBigToSmallBlock.
func (e *DoubleParity) MapBigToSmall(big int) (small int, ok bool) {
	n := e.n()
	if big%n == e.D || big%n == e.D+1 {
		return 0, false
	}
	return (big/n)*e.D + big%n, true
}

// MapSmallToBig is the inverse of MapBigToSmall, per mapSmallToBigBlock.
func (e *DoubleParity) MapSmallToBig(small int) int {
	return (small/e.D)*e.n() + small%e.D
}

// ComputeParity recomputes every row's P block by XOR-reducing its D
// data blocks, then every row's DP block by XOR-reducing the diagonal
// assigned to it, per computeParity.
func (e *DoubleParity) ComputeParity(g *raingroup.Group) error {
	d := e.D
	n := e.n()
	total := e.totalBlocks()
	if g.NumBlocks() != total {
		return fmt.Errorf("parity: double-parity group has %d blocks, want %d", g.NumBlocks(), total)
	}

	for i := 0; i < d; i++ {
		rowStart := i * n
		pIdx := d + i*n
		pBlock := g.Block(pIdx).DataPtr()
		xorMany(pBlock, g.Block(rowStart).DataPtr(), g.Block(rowStart+1).DataPtr())
		for c := 2; c < d; c++ {
			xorInto(pBlock, g.Block(rowStart+c).DataPtr())
		}
	}

	used := make(map[int]bool, total)
	dpIdx := make([]int, d)
	for i := 0; i < d; i++ {
		dpIdx[i] = d + 1 + i*n
		used[dpIdx[i]] = true
	}
	jump := n + 1
	for i := 0; i < d; i++ {
		dp := dpIdx[i]
		dpBlock := g.Block(dp).DataPtr()
		next := i + jump
		xorMany(dpBlock, g.Block(i).DataPtr(), g.Block(next).DataPtr())
		used[i] = true
		used[next] = true

		for j := 0; j < d-2; j++ {
			aux := next + jump
			if aux < total && !used[aux] {
				next = aux
			} else {
				next++
				for used[next] {
					next++
				}
			}
			xorInto(dpBlock, g.Block(next).DataPtr())
			used[next] = true
		}
	}
	return nil
}

// Recover runs a block-by-block worklist: pop a missing block, try
// its horizontal stripe then its diagonal stripe;
// reconstruct and requeue previously-stuck blocks on success, set it
// aside on failure. Terminates when the worklist is empty (success) or
// a full pass leaves every remaining block stuck (failure).
func (e *DoubleParity) Recover(g *raingroup.Group, present []bool) bool {
	status := append([]bool(nil), present...)

	var corrupt []int
	for i, ok := range status {
		if !ok {
			corrupt = append(corrupt, i)
		}
	}
	var stuck []int

	for len(corrupt) > 0 {
		id := corrupt[len(corrupt)-1]
		corrupt = corrupt[:len(corrupt)-1]

		stripe := e.horizontalStripe(id)
		if stripe == nil || !validStripe(stripe, status) {
			stripe = e.diagonalStripe(id)
			if stripe == nil || !validStripe(stripe, status) {
				stuck = append(stuck, id)
				continue
			}
		}

		reconstructInto(g, id, stripe)
		status[id] = true
		present[id] = true
		corrupt = append(corrupt, stuck...)
		stuck = stuck[:0]
	}

	return len(stuck) == 0
}

func validStripe(stripe []int, status []bool) bool {
	corrupted := 0
	for _, id := range stripe {
		if !status[id] {
			corrupted++
		}
		if corrupted >= 2 {
			return false
		}
	}
	return true
}

func reconstructInto(g *raingroup.Group, id int, stripe []int) {
	dst := g.Block(id).DataPtr()
	for i := range dst {
		dst[i] = 0
	}
	for _, other := range stripe {
		if other == id {
			continue
		}
		xorInto(dst, g.Block(other).DataPtr())
	}
}
