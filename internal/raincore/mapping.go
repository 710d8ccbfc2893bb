package raincore

import (
	"context"

	"github.com/Anthya1104/rain-striper/internal/header"
	"github.com/Anthya1104/rain-striper/internal/railerr"
)

// loadAndValidateHeaders reads every reachable stripe's header and
// classifies the result: all-new, all-valid, repairable
// (invalid_count <= P), or fatal (invalid_count > P). On success,
// rc.physToLogical/rc.logicalToPhys are populated and any repaired
// headers are written back when the opener is RW or force-recovery and
// the stripe is reachable.
func (rc *RainCore) loadAndValidateHeaders(ctx context.Context) *railerr.Status {
	n := len(rc.stripes)
	valid := make([]bool, n)
	validCount := 0

	for i, sio := range rc.stripes {
		if sio == nil {
			continue
		}
		h, ok, err := header.ReadFrom(ctx, sio, rc.layout.HeaderSizeB, uint64(rc.layout.BlockSizeB))
		if err != nil {
			return rc.fail(railerr.IOError, "open: read header for stripe %d: %v", i, err)
		}
		if !ok {
			continue
		}
		rc.headers[i] = h
		valid[i] = true
		validCount++
	}

	invalidCount := n - validCount

	switch {
	case validCount == 0:
		// Case 1: brand-new file — every stripe gets its own physical
		// index as its logical id, with a fresh, empty header. A stripe
		// that already holds bytes is not a fresh creation: losing every
		// header of an existing file exceeds any parity tolerance.
		for i, sio := range rc.stripes {
			if sio == nil {
				continue
			}
			if st, err := sio.Stat(ctx); err == nil && st.Size > 0 {
				return rc.fail(railerr.IOError, "open: stripe %d has no valid header but holds %d bytes", i, st.Size)
			}
		}
		for i := range rc.stripes {
			rc.headers[i] = header.New(rc.layout.HeaderSizeB, uint32(i), uint64(rc.layout.BlockSizeB))
			rc.headerDirty[i] = true
		}

	case invalidCount == 0:
		// Case 2: every stripe's header is authoritative; duplicate
		// logical ids are a fatal open error.
		seen := make(map[uint32]int, n)
		for i, h := range rc.headers {
			if prev, dup := seen[h.StripeLogicalID]; dup {
				return rc.fail(railerr.IOError, "open: stripes %d and %d both claim logical id %d", prev, i, h.StripeLogicalID)
			}
			seen[h.StripeLogicalID] = i
		}

	case invalidCount <= rc.layout.P():
		ref := rc.referenceHeaderFrom(valid)
		used := make(map[uint32]bool, n)
		for i, ok := range valid {
			if ok {
				used[rc.headers[i].StripeLogicalID] = true
			}
		}
		nextFree := uint32(0)
		for i, ok := range valid {
			if ok {
				continue
			}
			for used[nextFree] {
				nextFree++
			}
			rc.headers[i] = header.New(rc.layout.HeaderSizeB, nextFree, ref.BlockSize)
			rc.headers[i].NumBlocks = ref.NumBlocks
			rc.headers[i].SizeLastBlock = ref.SizeLastBlock
			used[nextFree] = true
			rc.headerDirty[i] = true
			rc.recoveryHappened = true
		}

	default:
		return rc.fail(railerr.IOError, "open: %d invalid header(s) exceeds tolerance of %d", invalidCount, rc.layout.P())
	}

	rc.physToLogical = make([]int, n)
	rc.logicalToPhys = make([]int, n)
	for i, h := range rc.headers {
		logical := int(h.StripeLogicalID)
		rc.physToLogical[i] = logical
		rc.logicalToPhys[logical] = i
	}

	if rc.isRW || rc.forceRecovery {
		rc.writeBackDirtyHeaders(ctx)
	}

	return nil
}

func (rc *RainCore) referenceHeaderFrom(valid []bool) *header.Header {
	for i, ok := range valid {
		if ok {
			return rc.headers[i]
		}
	}
	return nil
}

// writeBackDirtyHeaders persists every header flagged dirty (new or
// repaired) to its reachable stripe. Failures are logged, not fatal: a
// stripe that cannot accept the header write is still usable for the
// rest of the session via the mapping already assigned.
func (rc *RainCore) writeBackDirtyHeaders(ctx context.Context) {
	for i, dirty := range rc.headerDirty {
		if !dirty || rc.stripes[i] == nil {
			continue
		}
		if ok, err := rc.headers[i].WriteTo(ctx, rc.stripes[i]); err != nil || !ok {
			rc.log.WithFields(map[string]any{"stripe": i, "err": err}).Warn("failed to persist repaired header")
			continue
		}
		rc.headerDirty[i] = false
	}
}
