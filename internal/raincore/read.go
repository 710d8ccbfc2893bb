package raincore

import (
	"context"
	"errors"

	"github.com/Anthya1104/rain-striper/internal/railerr"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

// chunkSpan is one block-aligned piece of a larger read/write request.
type chunkSpan struct {
	offset int64
	length int
}

// splitChunks breaks [offset, offset+length) into pieces that each
// stay within one block's boundary.
func (rc *RainCore) splitChunks(offset int64, length int) []chunkSpan {
	bs := int64(rc.layout.BlockSizeB)
	var out []chunkSpan
	for remaining := int64(length); remaining > 0; {
		withinBlock := offset % bs
		n := bs - withinBlock
		if n > remaining {
			n = remaining
		}
		out = append(out, chunkSpan{offset: offset, length: int(n)})
		offset += n
		remaining -= n
	}
	return out
}

// globalToLocal maps a logical file offset to (logical stripe index,
// local offset within that stripe's data region):
// stripe = (offset / block_size) % D, local_offset =
// (offset / (D*block_size)) * block_size + (offset mod block_size).
func (rc *RainCore) globalToLocal(offset int64) (logicalStripe int, localOffset int64) {
	bs := int64(rc.layout.BlockSizeB)
	d := int64(rc.layout.D())
	logicalStripe = int((offset / bs) % d)
	localOffset = (offset/(d*bs))*bs + offset%bs
	return
}

// getGlobalOff inverts globalToLocal, used to translate a per-stripe
// local offset back into a logical file offset for error reporting.
func (rc *RainCore) getGlobalOff(logicalStripe int, localOffset int64) int64 {
	bs := int64(rc.layout.BlockSizeB)
	d := int64(rc.layout.D())
	row := localOffset / bs
	byteInBlock := localOffset % bs
	return row*(d*bs) + int64(logicalStripe)*bs + byteInBlock
}

type readFailure struct {
	offset int64
	length int
}

// Read implements the entry-server read path: clamp to file_size,
// split into per-block chunks, issue a prefetching read against each
// chunk's physical stripe, and recover anything that failed from
// parity. Non-entry openers pass the read straight to their local
// stripe.
func (rc *RainCore) Read(ctx context.Context, offset int64, buf []byte) (int, *railerr.Status) {
	if !rc.isOpen {
		return 0, rc.fail(railerr.NotMutable, "read: handle not open")
	}

	if !rc.isEntry {
		sio := rc.stripes[rc.replicaIndex]
		if sio == nil {
			return 0, rc.fail(railerr.IOError, "read: local stripe unreachable")
		}
		n, err := sio.Read(ctx, offset, buf)
		if err != nil {
			return 0, railerr.Wrap(railerr.IOError, err, "read: local stripe")
		}
		return n, nil
	}

	rc.exclAccess.Lock()
	defer rc.exclAccess.Unlock()

	if offset > rc.fileSize {
		return 0, rc.fail(railerr.Invalid, "read: offset %d beyond file size %d", offset, rc.fileSize)
	}
	if offset == rc.fileSize {
		return 0, nil
	}
	length := len(buf)
	if offset+int64(length) > rc.fileSize {
		length = int(rc.fileSize - offset)
	}

	if rc.forceRecovery {
		if err := rc.forcedRecoveryRead(ctx, offset, length); err != nil {
			return 0, err
		}
		return length, nil
	}

	var failures []readFailure
	for _, c := range rc.splitChunks(offset, length) {
		logicalStripe, localOff := rc.globalToLocal(c.offset)
		phys := rc.logicalToPhys[logicalStripe]
		sio := rc.stripes[phys]
		dst := buf[c.offset-offset : c.offset-offset+int64(c.length)]
		if sio == nil {
			failures = append(failures, readFailure{c.offset, c.length})
			continue
		}
		n, err := sio.ReadPrefetch(ctx, int64(rc.layout.HeaderSizeB)+localOff, dst)
		if err != nil || n != c.length {
			failures = append(failures, readFailure{c.offset, c.length})
		}
	}

	if len(failures) > 0 {
		if err := rc.recoverPieces(ctx, failures, buf, offset); err != nil {
			return 0, err
		}
	}

	return length, nil
}

// forcedRecoveryRead converts a read into a per-group repair pass:
// each group offset touched by [offset, offset+length) is visited at
// most once per handle lifetime.
func (rc *RainCore) forcedRecoveryRead(ctx context.Context, offset int64, length int) *railerr.Status {
	groupSize := rc.layout.GroupSizeBytes()
	first := rc.layout.GroupOffset(offset)
	last := rc.layout.GroupOffset(offset + int64(length) - 1)

	for g := first; g <= last; g += groupSize {
		rc.recMu.Lock()
		done := rc.recoveredGroups[g]
		if !done {
			rc.recoveredGroups[g] = true
		}
		rc.recMu.Unlock()
		if done {
			continue
		}
		if err := rc.recoverGroupAt(ctx, g, true); err != nil {
			return err
		}
	}
	return nil
}

// ReadV is the vector-read path: reset each touched stripe's async
// handler, split the request per stripe, issue async scatter reads,
// join, and invoke recovery for any stripe-local failure, translating
// its local offset back to a global one.
func (rc *RainCore) ReadV(ctx context.Context, chunks []stripeio.Chunk) (int, *railerr.Status) {
	if !rc.isOpen {
		return 0, rc.fail(railerr.NotMutable, "readv: handle not open")
	}
	if !rc.isEntry {
		sio := rc.stripes[rc.replicaIndex]
		if sio == nil {
			return 0, rc.fail(railerr.IOError, "readv: local stripe unreachable")
		}
		n, err := sio.ReadVector(ctx, chunks)
		if err != nil {
			return 0, railerr.Wrap(railerr.IOError, err, "readv: local stripe")
		}
		return n, nil
	}

	rc.exclAccess.Lock()
	defer rc.exclAccess.Unlock()

	perStripe := make(map[int][]stripeio.Chunk)
	for _, c := range chunks {
		for _, span := range rc.splitChunks(c.Offset, len(c.Buf)) {
			logicalStripe, localOff := rc.globalToLocal(span.offset)
			phys := rc.logicalToPhys[logicalStripe]
			dst := c.Buf[span.offset-c.Offset : span.offset-c.Offset+int64(span.length)]
			localFileOff := int64(rc.layout.HeaderSizeB) + localOff
			perStripe[phys] = append(perStripe[phys], stripeio.Chunk{Offset: localFileOff, Buf: dst})
		}
	}

	// failuresFor maps a stripe's local chunks back to logical file
	// offsets for the recovery pass.
	failuresFor := func(phys int, cks []stripeio.Chunk) []readFailure {
		logical := rc.physToLogical[phys]
		out := make([]readFailure, 0, len(cks))
		for _, ck := range cks {
			localOff := ck.Offset - int64(rc.layout.HeaderSizeB)
			out = append(out, readFailure{rc.getGlobalOff(logical, localOff), len(ck.Buf)})
		}
		return out
	}

	total := 0
	var failures []readFailure
	for phys, cks := range perStripe {
		sio := rc.stripes[phys]
		if sio == nil {
			failures = append(failures, failuresFor(phys, cks)...)
			continue
		}
		sio.AsyncHandler().Reset()
		f := sio.ReadVectorAsync(ctx, cks)
		if err := f.Wait(ctx); err != nil {
			failures = append(failures, failuresFor(phys, cks)...)
			if errors.Is(err, context.DeadlineExceeded) {
				rc.stripes[phys] = nil
			}
			continue
		}
		for _, ck := range cks {
			total += len(ck.Buf)
		}
	}

	if len(failures) > 0 {
		origBufByOffset := make(map[int64][]byte)
		for _, c := range chunks {
			for _, span := range rc.splitChunks(c.Offset, len(c.Buf)) {
				origBufByOffset[span.offset] = c.Buf[span.offset-c.Offset : span.offset-c.Offset+int64(span.length)]
			}
		}
		for _, fl := range failures {
			if err := rc.recoverPieces(ctx, []readFailure{fl}, origBufByOffset[fl.offset], fl.offset); err != nil {
				return 0, err
			}
			total += fl.length
		}
	}

	return total, nil
}
