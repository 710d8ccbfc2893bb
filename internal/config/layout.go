package config

import "fmt"

// ParityScheme selects which ParityEngine variant a Layout uses.
type ParityScheme int

const (
	// DoubleParity tolerates exactly 2 losses per group using row
	// parity plus one diagonal parity.
	DoubleParity ParityScheme = iota
	// ReedSolomon generalizes to any P >= 1 using a GF(2^8) coding
	// matrix.
	ReedSolomon
)

func (s ParityScheme) String() string {
	switch s {
	case DoubleParity:
		return "double-parity"
	case ReedSolomon:
		return "reed-solomon"
	default:
		return fmt.Sprintf("parity-scheme(%d)", int(s))
	}
}

// Layout is the immutable-per-open stripe geometry descriptor.
type Layout struct {
	BlockSizeB         uint32
	StripeDataCount    uint16 // D
	StripeParityCount  uint16 // P
	HeaderSizeB        uint32
	Scheme             ParityScheme
}

// StripeTotal returns N = D + P.
func (l *Layout) StripeTotal() int {
	return int(l.StripeDataCount) + int(l.StripeParityCount)
}

// Normalize fills in defaults (header size) and validates the layout
// invariants: N >= 5, block_size_B >= 64, P >= 1.
// block_size_B must also be a multiple of the parity engine's vector
// word size; the caller passes that word size in since it is a
// property of the chosen ParityEngine, not of the layout itself.
func (l *Layout) Normalize(vectorWordSize uint32) error {
	if l.HeaderSizeB == 0 {
		l.HeaderSizeB = DefaultHeaderSizeB
	}
	if l.StripeParityCount < 1 {
		return fmt.Errorf("layout: stripe_parity_count must be >= 1, got %d", l.StripeParityCount)
	}
	if l.StripeTotal() < MinStripeTotal {
		return fmt.Errorf("layout: stripe_total must be >= %d, got %d", MinStripeTotal, l.StripeTotal())
	}
	if l.BlockSizeB < MinBlockSizeB {
		return fmt.Errorf("layout: block_size_B must be >= %d, got %d", MinBlockSizeB, l.BlockSizeB)
	}
	if vectorWordSize > 0 && l.BlockSizeB%vectorWordSize != 0 {
		return fmt.Errorf("layout: block_size_B (%d) must be a multiple of the parity vector word size (%d)", l.BlockSizeB, vectorWordSize)
	}
	return nil
}

// D returns the data-stripe count as an int for arithmetic convenience.
func (l *Layout) D() int { return int(l.StripeDataCount) }

// P returns the parity-stripe count as an int.
func (l *Layout) P() int { return int(l.StripeParityCount) }

// GroupDataBlocks returns D*D, the number of data blocks in one group.
func (l *Layout) GroupDataBlocks() int { return l.D() * l.D() }

// GroupSizeBytes returns D*D*block_size, the logical byte span of one
// group.
func (l *Layout) GroupSizeBytes() int64 {
	return int64(l.GroupDataBlocks()) * int64(l.BlockSizeB)
}

// GroupOffset floors a logical offset down to the start of its group.
func (l *Layout) GroupOffset(logicalOffset int64) int64 {
	gs := l.GroupSizeBytes()
	if gs <= 0 {
		return 0
	}
	return (logicalOffset / gs) * gs
}

// TotalBlocksPerGroup returns the number of blocks (data + parity)
// stored per group, i.e. N*D for both schemes.
func (l *Layout) TotalBlocksPerGroup() int {
	return l.StripeTotal() * l.D()
}
