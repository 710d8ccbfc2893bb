package raincore

import (
	"context"

	"github.com/Anthya1104/rain-striper/internal/railerr"
)

// Close tears the handle down. Non-entry openers only close their
// local stripe. The entry server stops the parity worker,
// flushes any groups still pending (streaming mode) or runs the forced
// sparse completion (non-streaming mode), joins every stripe's
// outstanding async I/O, re-issues a deferred truncate, persists
// every stripe's header (RW handles only), and closes every stripe.
func (rc *RainCore) Close(ctx context.Context) *railerr.Status {
	if !rc.isOpen {
		return nil
	}
	defer func() { rc.isOpen = false }()

	if !rc.isEntry {
		sio := rc.stripes[rc.replicaIndex]
		if sio == nil {
			return nil
		}
		if err := sio.Close(ctx); err != nil {
			return railerr.Wrap(railerr.IOError, err, "close: local stripe")
		}
		return nil
	}

	rc.exclAccess.Lock()
	defer rc.exclAccess.Unlock()

	var aggErr error

	rc.stopParityWorker()

	if rc.isStreaming {
		for _, offset := range rc.groups.AllOffsets() {
			rc.processGroup(ctx, offset)
		}
	} else {
		// The direct write_async path tracked its futures on each
		// stripe's handler; those writes must land before the sparse
		// pass reads the data blocks back.
		for _, sio := range rc.stripes {
			if sio == nil {
				continue
			}
			if err := sio.AsyncHandler().WaitOK(); err != nil && aggErr == nil {
				aggErr = railerr.Wrap(railerr.IOError, err, "close: stripe async I/O failed")
			}
		}
		if err := rc.sparseParityComputation(ctx, true); err != nil && aggErr == nil {
			aggErr = err
		}
	}

	for _, sio := range rc.stripes {
		if sio == nil {
			continue
		}
		if err := sio.AsyncHandler().WaitOK(); err != nil && aggErr == nil {
			aggErr = railerr.Wrap(railerr.IOError, err, "close: stripe async I/O failed")
		}
	}

	// The deferred truncate runs only after every parity write has
	// landed, so a late group flush cannot re-extend the stripes.
	if rc.isRW && (rc.recoveryHappened || rc.isTruncated) {
		if err := rc.reissueTruncateLocked(ctx); err != nil && aggErr == nil {
			aggErr = err
		}
	}

	if rc.isRW {
		rc.finalizeHeaders(ctx)
	}

	for _, sio := range rc.stripes {
		if sio == nil {
			continue
		}
		if err := sio.Close(ctx); err != nil && aggErr == nil {
			aggErr = railerr.Wrap(railerr.IOError, err, "close: stripe close failed")
		}
	}

	if aggErr != nil {
		if status, ok := aggErr.(*railerr.Status); ok {
			return status
		}
		return railerr.Wrap(railerr.IOError, aggErr, "close")
	}
	return nil
}

// reissueTruncateLocked re-applies Truncate(file_size) without
// re-acquiring exclAccess (the caller already holds it).
func (rc *RainCore) reissueTruncateLocked(ctx context.Context) *railerr.Status {
	d := int64(rc.layout.D())
	bs := int64(rc.layout.BlockSizeB)
	rows := int64(0)
	if rc.fileSize > 0 {
		rows = (rc.fileSize + d*bs - 1) / (d * bs)
	}
	perStripeOffset := int64(rc.layout.HeaderSizeB) + rows*bs

	var firstErr error
	for _, sio := range rc.stripes {
		if sio == nil {
			continue
		}
		if err := sio.TruncateAsync(ctx, perStripeOffset).Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return railerr.Wrap(railerr.IOError, firstErr, "close: deferred truncate failed")
	}
	return nil
}

// finalizeHeaders computes num_blocks/size_last_block from file_size
// (with the size_last_block==0 && num_blocks>0 => increment num_blocks
// convention so a block-aligned file still reproduces file_size from
// its header), then writes back every stripe's header with its
// logical id.
func (rc *RainCore) finalizeHeaders(ctx context.Context) {
	bs := int64(rc.layout.BlockSizeB)
	var numBlocks int64
	var sizeLastBlock int64

	if rc.fileSize > 0 {
		numBlocks = (rc.fileSize + bs - 1) / bs
		sizeLastBlock = rc.fileSize % bs
		if sizeLastBlock == 0 {
			numBlocks++
		}
	}

	for i, h := range rc.headers {
		if h == nil {
			continue
		}
		h.NumBlocks = numBlocks
		h.SizeLastBlock = uint64(sizeLastBlock)
		h.BlockSize = uint64(bs)
		h.StripeLogicalID = uint32(rc.physToLogical[i])

		sio := rc.stripes[i]
		if sio == nil {
			continue
		}
		if ok, err := h.WriteTo(ctx, sio); err != nil || !ok {
			rc.log.WithFields(map[string]any{"stripe": i, "err": err}).Warn("failed to persist header at close")
		}
	}
}
