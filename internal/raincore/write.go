package raincore

import (
	"context"

	"github.com/Anthya1104/rain-striper/internal/railerr"
)

// Write implements the entry-server write path. The first write of a
// handle's lifetime is assumed streaming; any later
// write whose offset doesn't continue where the previous one left off
// flips the handle to the non-streaming (sparse) pipeline for the rest
// of its life. Non-entry openers write straight through to their local
// stripe.
func (rc *RainCore) Write(ctx context.Context, offset int64, buf []byte) (int, *railerr.Status) {
	if !rc.isOpen {
		return 0, rc.fail(railerr.NotMutable, "write: handle not open")
	}
	if rc.parityError.Load() {
		return 0, rc.fail(railerr.IOError, "write: parity_error is sticky, handle must be closed")
	}

	if !rc.isEntry {
		sio := rc.stripes[rc.replicaIndex]
		if sio == nil {
			return 0, rc.fail(railerr.IOError, "write: local stripe unreachable")
		}
		n, err := sio.Write(ctx, offset, buf)
		if err != nil {
			return 0, railerr.Wrap(railerr.IOError, err, "write: local stripe")
		}
		return n, nil
	}

	rc.exclAccess.Lock()
	defer rc.exclAccess.Unlock()

	if rc.parityError.Load() {
		return 0, rc.fail(railerr.IOError, "write: parity_error is sticky, handle must be closed")
	}

	if !rc.hasWritten {
		rc.hasWritten = true
		rc.isStreaming = true
	} else if offset != rc.lastWriteOffset {
		rc.isStreaming = false
	}

	length := len(buf)
	for _, c := range rc.splitChunks(offset, length) {
		logicalStripe, localOff := rc.globalToLocal(c.offset)
		phys := rc.logicalToPhys[logicalStripe]
		data := buf[c.offset-offset : c.offset-offset+int64(c.length)]

		if rc.isStreaming {
			if err := rc.addDataBlock(ctx, c.offset, data, phys, localOff); err != nil {
				return 0, err
			}
		} else {
			sio := rc.stripes[phys]
			if sio == nil {
				return 0, rc.fail(railerr.IOError, "write: stripe for logical %d unreachable", logicalStripe)
			}
			fileOff := int64(rc.layout.HeaderSizeB) + localOff
			f := sio.WriteAsync(ctx, fileOff, data)
			sio.AsyncHandler().Track(f)
		}
		rc.pieces.Add(c.offset, int64(c.length))
	}

	rc.lastWriteOffset = offset + int64(length)
	if rc.lastWriteOffset > rc.fileSize {
		rc.fileSize = rc.lastWriteOffset
	}
	return length, nil
}

// addDataBlock is the streaming-path primitive: find or create the
// block's group, copy the bytes into the right
// RainBlock sub-range, dispatch the stripe write asynchronously, and
// enqueue the group for parity once the next chunk would exit it.
func (rc *RainCore) addDataBlock(ctx context.Context, chunkOffset int64, data []byte, phys int, localOff int64) *railerr.Status {
	groupOffset := rc.layout.GroupOffset(chunkOffset)
	group := rc.groups.GetOrCreate(groupOffset)
	released := false
	release := func() {
		if !released {
			released = true
			rc.groups.Release(groupOffset)
		}
	}
	defer release()

	if rc.parityError.Load() {
		return rc.fail(railerr.IOError, "write: parity_error observed while awaiting group admission")
	}

	logicalStripe, _ := rc.globalToLocal(chunkOffset)
	bs := int64(rc.layout.BlockSizeB)
	rowBaseLocal := groupOffset / int64(rc.layout.D())
	row := int((localOff - rowBaseLocal) / bs)
	byteInBlock := int(localOff % bs)

	flat := rc.dataBlockFlatIndex(row, logicalStripe)
	block := group.Block(flat)
	if block.Write(data, byteInBlock) == nil {
		return rc.fail(railerr.IOError, "write: block write out of bounds at offset %d", chunkOffset)
	}

	sio := rc.stripes[phys]
	if sio == nil {
		return rc.fail(railerr.IOError, "write: stripe for logical %d unreachable", logicalStripe)
	}
	fileOff := int64(rc.layout.HeaderSizeB) + localOff
	f := sio.WriteAsync(ctx, fileOff, data)
	group.StoreFuture(f)

	groupSize := rc.layout.GroupSizeBytes()
	nextOffset := chunkOffset + int64(len(data))
	if nextOffset >= groupOffset+groupSize {
		// Release before the handoff so the worker's Recycle sees no
		// outstanding holder and can evict the slot promptly.
		release()
		rc.enqueueParity(groupOffset)
	}

	return nil
}
