// Package parity computes parity blocks from a group's data blocks and
// reconstructs missing blocks from survivors. Two variants are
// provided, selected by config.Layout.Scheme.
package parity

import (
	"fmt"

	"github.com/Anthya1104/rain-striper/internal/config"
	"github.com/Anthya1104/rain-striper/internal/raingroup"
)

// Engine computes and reconstructs parity for one group.
type Engine interface {
	// ComputeParity recomputes every parity/DP block of g from its
	// current data blocks.
	ComputeParity(g *raingroup.Group) error

	// Recover attempts to reconstruct every block whose index is false
	// in present, writing reconstructed data back into g's blocks and
	// flipping the corresponding present entry to true. It reports
	// whether every missing block was reconstructed.
	Recover(g *raingroup.Group, present []bool) bool

	// VectorWordSize is the byte alignment/stride this engine expects
	// of block buffers.
	VectorWordSize() int
}

// New builds the Engine matching l.Scheme.
func New(l *config.Layout) (Engine, error) {
	switch l.Scheme {
	case config.DoubleParity:
		if l.P() != 2 {
			return nil, fmt.Errorf("parity: double-parity scheme requires exactly 2 parity stripes, got %d", l.P())
		}
		return NewDoubleParity(l.D()), nil
	case config.ReedSolomon:
		return NewReedSolomon(l.D(), l.P())
	default:
		return nil, fmt.Errorf("parity: unknown scheme %v", l.Scheme)
	}
}
