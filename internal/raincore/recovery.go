package raincore

import (
	"context"

	"github.com/Anthya1104/rain-striper/internal/railerr"
	"github.com/Anthya1104/rain-striper/internal/raingroup"
)

// recoverPieces repairs a failed read: partition the failures by
// group offset, reconstruct each affected group, and copy
// the recovered bytes back into the caller's buffer at the
// corresponding logical offsets. baseOffset is the logical offset buf
// starts at.
func (rc *RainCore) recoverPieces(ctx context.Context, failures []readFailure, buf []byte, baseOffset int64) *railerr.Status {
	byGroup := make(map[int64][]readFailure)
	for _, f := range failures {
		g := rc.layout.GroupOffset(f.offset)
		byGroup[g] = append(byGroup[g], f)
	}

	for groupOffset, fails := range byGroup {
		group, present, err := rc.loadGroupForRecovery(ctx, groupOffset)
		if err != nil {
			return err
		}
		missingBefore := missingMask(present)
		if ok := rc.engine.Recover(group, present); !ok {
			return rc.fail(railerr.IOError, "recover: group at offset %d unrecoverable", groupOffset)
		}
		if rc.storeRecoveryOnRead {
			rc.writeBackRecovered(ctx, group, repairedMask(missingBefore, present), groupOffset)
		}
		for _, f := range fails {
			logicalStripe, localOff := rc.globalToLocal(f.offset)
			blockIdx, byteInBlock := rc.blockIndexInGroup(logicalStripe, localOff, groupOffset)
			src := group.Block(blockIdx).DataPtr()[byteInBlock : byteInBlock+f.length]
			dst := buf[f.offset-baseOffset : f.offset-baseOffset+int64(f.length)]
			copy(dst, src)
		}
	}
	return nil
}

// blockIndexInGroup converts (logical stripe, local offset) plus the
// group's base offset into (flat block index within the group, byte
// offset within that block). Only the data-block region is addressed
// here: reads never target parity columns directly.
func (rc *RainCore) blockIndexInGroup(logicalStripe int, localOff, groupOffset int64) (blockIdx int, byteInBlock int) {
	bs := int64(rc.layout.BlockSizeB)
	groupLocalOff := localOff - (groupOffset / int64(rc.layout.D()))
	row := int(groupLocalOff / bs)
	byteInBlock = int(groupLocalOff % bs)
	blockIdx = rc.dataBlockFlatIndex(row, logicalStripe)
	return
}

// dataBlockFlatIndex maps (row, logical data-stripe column) to the
// flat block index within a group, honoring the scheme's column
// layout: double-parity packs D data columns then P, DP per row (width
// D+2); reed-solomon packs D data then P parity per row (width D+P).
func (rc *RainCore) dataBlockFlatIndex(row, col int) int {
	width := rc.layout.D() + rc.layout.P()
	return row*width + col
}

// parityBlockFlatIndex maps (row, parity column index in [0,P)) to the
// flat block index, mirroring dataBlockFlatIndex for the parity
// columns that follow the D data columns in each row.
func (rc *RainCore) parityBlockFlatIndex(row, parityCol int) int {
	width := rc.layout.D() + rc.layout.P()
	return row*width + rc.layout.D() + parityCol
}

// missingMask returns the inverse of a present mask.
func missingMask(present []bool) []bool {
	out := make([]bool, len(present))
	for i, p := range present {
		out[i] = !p
	}
	return out
}

// repairedMask returns the blocks that were missing before Recover and
// are present after it — the set write_back is allowed to persist.
func repairedMask(missingBefore, presentAfter []bool) []bool {
	out := make([]bool, len(presentAfter))
	for i := range out {
		out[i] = missingBefore[i] && presentAfter[i]
	}
	return out
}

// loadGroupForRecovery reads every currently-reachable block of the
// group at groupOffset from the stripes into a scratch RainGroup, and
// reports a present mask over its flat block indices. A short read on
// a reachable stripe counts as present: the bytes past the stripe's
// end are the zero padding parity was computed over, so the block is
// zero-filled rather than treated as lost.
func (rc *RainCore) loadGroupForRecovery(ctx context.Context, groupOffset int64) (*raingroup.Group, []bool, *railerr.Status) {
	d := rc.layout.D()
	width := d + rc.layout.P()
	bs := int64(rc.layout.BlockSizeB)
	total := rc.layout.TotalBlocksPerGroup()

	group := raingroup.New(groupOffset, total, int(rc.layout.BlockSizeB), rc.blockAlign())
	present := make([]bool, total)

	rowBaseLocal := groupOffset / int64(d)

	for row := 0; row < d; row++ {
		for col := 0; col < width; col++ {
			phys := rc.logicalToPhys[col]
			sio := rc.stripes[phys]
			flat := row*width + col
			if sio == nil {
				continue
			}
			localOff := rowBaseLocal + int64(row)*bs
			fileOff := int64(rc.layout.HeaderSizeB) + localOff
			buf := group.Block(flat).DataPtr()
			n, err := sio.Read(ctx, fileOff, buf)
			if err != nil {
				continue
			}
			for i := n; i < int(bs); i++ {
				buf[i] = 0
			}
			present[flat] = true
		}
	}

	return group, present, nil
}

// writeBackRecovered persists every block in the repaired mask back to
// its stripe.
func (rc *RainCore) writeBackRecovered(ctx context.Context, group *raingroup.Group, repaired []bool, groupOffset int64) {
	d := rc.layout.D()
	width := d + rc.layout.P()
	bs := int64(rc.layout.BlockSizeB)
	rowBaseLocal := groupOffset / int64(d)

	for row := 0; row < d; row++ {
		for col := 0; col < width; col++ {
			flat := row*width + col
			if !repaired[flat] {
				continue
			}
			phys := rc.logicalToPhys[col]
			sio := rc.stripes[phys]
			if sio == nil {
				continue
			}
			localOff := rowBaseLocal + int64(row)*bs
			fileOff := int64(rc.layout.HeaderSizeB) + localOff
			_, _ = sio.Write(ctx, fileOff, group.Block(flat).DataPtr())
		}
	}
}

// recoverGroupAt loads the full group at groupOffset, zero-fills any
// still-absent blocks past EOF, and runs Recover with write_back set
// per the caller's request (used by forced-recovery reads).
func (rc *RainCore) recoverGroupAt(ctx context.Context, groupOffset int64, writeBack bool) *railerr.Status {
	group, present, err := rc.loadGroupForRecovery(ctx, groupOffset)
	if err != nil {
		return err
	}
	allPresent := true
	for _, p := range present {
		if !p {
			allPresent = false
			break
		}
	}
	if allPresent {
		return nil
	}
	missingBefore := missingMask(present)
	if !rc.engine.Recover(group, present) {
		return rc.fail(railerr.IOError, "forced recovery: group at offset %d unrecoverable", groupOffset)
	}
	if writeBack {
		rc.writeBackRecovered(ctx, group, repairedMask(missingBefore, present), groupOffset)
	}
	return nil
}

// sparseParityComputation is the completion path for non-streaming
// writes: inspect the piece map, and for every fully-covered
// group, read its D*D data blocks back from the stripes, compute
// parity, and write the parity columns out. When force is set (at
// Close), partially-covered groups are also padded with zeros and
// completed.
func (rc *RainCore) sparseParityComputation(ctx context.Context, force bool) *railerr.Status {
	groupSize := rc.layout.GroupSizeBytes()
	offsets := rc.pieces.FullyCoveredGroups(groupSize)
	if force {
		offsets = append(offsets, rc.pieces.PartiallyCoveredGroups(groupSize)...)
	}

	for _, groupOffset := range offsets {
		// readGroupDataBlocks zero-fills whatever the stripes don't
		// hold, so a partially-covered group comes back already padded.
		group := rc.readGroupDataBlocks(ctx, groupOffset)
		if err := rc.engine.ComputeParity(group); err != nil {
			return railerr.Wrap(railerr.IOError, err, "sparse parity: compute at offset %d", groupOffset)
		}
		rc.writeParityToFiles(ctx, group)
		if !group.WaitAsyncOK() {
			return rc.fail(railerr.IOError, "sparse parity: write-back failed at offset %d", groupOffset)
		}
	}
	return nil
}

// readGroupDataBlocks reads only the D*D data blocks of the group at
// groupOffset (the parity columns are about to be computed fresh), for
// the non-streaming completion path. Bytes a stripe doesn't hold yet
// (short or failed reads) are left zero, which is exactly the padding
// the force-completion pass at Close needs.
func (rc *RainCore) readGroupDataBlocks(ctx context.Context, groupOffset int64) *raingroup.Group {
	d := rc.layout.D()
	width := d + rc.layout.P()
	bs := int64(rc.layout.BlockSizeB)
	total := rc.layout.TotalBlocksPerGroup()
	rowBaseLocal := groupOffset / int64(d)

	group := raingroup.New(groupOffset, total, int(rc.layout.BlockSizeB), rc.blockAlign())
	for row := 0; row < d; row++ {
		for col := 0; col < d; col++ {
			phys := rc.logicalToPhys[col]
			sio := rc.stripes[phys]
			flat := row*width + col
			if sio == nil {
				continue
			}
			localOff := rowBaseLocal + int64(row)*bs
			fileOff := int64(rc.layout.HeaderSizeB) + localOff
			buf := group.Block(flat).DataPtr()
			n, err := sio.Read(ctx, fileOff, buf)
			if err != nil {
				n = 0
			}
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
		}
	}
	return group
}
