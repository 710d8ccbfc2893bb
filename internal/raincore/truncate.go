package raincore

import (
	"context"

	"github.com/Anthya1104/rain-striper/internal/railerr"
)

// StatSentinel is returned by Stat when the handle has never been
// opened, since size cannot be known without opening the stripes.
const StatSentinel int64 = 0x19DEADBEEF

// Truncate fans the per-stripe truncate offset out to every stripe in
// parallel, joins, and updates file_size.
func (rc *RainCore) Truncate(ctx context.Context, newSize int64) *railerr.Status {
	if !rc.isOpen {
		return rc.fail(railerr.NotMutable, "truncate: handle not open")
	}

	rc.exclAccess.Lock()
	defer rc.exclAccess.Unlock()

	d := int64(rc.layout.D())
	bs := int64(rc.layout.BlockSizeB)
	rows := int64(0)
	if newSize > 0 {
		rows = (newSize + d*bs - 1) / (d * bs)
	}
	perStripeOffset := int64(rc.layout.HeaderSizeB) + rows*bs

	errs := make(chan error, len(rc.stripes))
	pending := 0
	for i, sio := range rc.stripes {
		if sio == nil {
			continue
		}
		if !rc.isEntry && i != rc.replicaIndex {
			continue
		}
		pending++
		f := sio.TruncateAsync(ctx, perStripeOffset)
		go func(f interface{ Wait(context.Context) error }) {
			errs <- f.Wait(ctx)
		}(f)
	}

	var firstErr error
	for i := 0; i < pending; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return railerr.Wrap(railerr.IOError, firstErr, "truncate: at least one stripe failed")
	}

	rc.fileSize = newSize
	rc.isTruncated = true
	return nil
}

// Sync fans Sync out to every stripe the opener is responsible for.
func (rc *RainCore) Sync(ctx context.Context) *railerr.Status {
	if !rc.isOpen {
		return rc.fail(railerr.NotMutable, "sync: handle not open")
	}
	var firstErr error
	for i, sio := range rc.stripes {
		if sio == nil {
			continue
		}
		if !rc.isEntry && i != rc.replicaIndex {
			continue
		}
		if err := sio.Sync(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return railerr.Wrap(railerr.IOError, firstErr, "sync: at least one stripe failed")
	}
	return nil
}

// Stat returns the logical file size, or StatSentinel if the handle
// has never been opened.
func (rc *RainCore) Stat(ctx context.Context) (int64, *railerr.Status) {
	if !rc.isOpen {
		return StatSentinel, nil
	}
	return rc.fileSize, nil
}

// Remove fans Remove out to every remote stripe first, then the local
// stripe last, so the local header survives as long as possible.
func (rc *RainCore) Remove(ctx context.Context) *railerr.Status {
	if !rc.isOpen {
		return rc.fail(railerr.NotMutable, "remove: handle not open")
	}
	var firstErr error
	for i, sio := range rc.stripes {
		if sio == nil || i == rc.replicaIndex {
			continue
		}
		if !rc.isEntry {
			continue
		}
		if err := sio.Remove(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if local := rc.stripes[rc.replicaIndex]; local != nil {
		if err := local.Remove(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return railerr.Wrap(railerr.IOError, firstErr, "remove: at least one stripe failed")
	}
	return nil
}
