package raincore

import (
	"context"

	"github.com/Anthya1104/rain-striper/internal/raingroup"
)

// sentinelOffset is pushed onto the worker queue to request shutdown;
// it can never collide with a real group offset.
const sentinelOffset int64 = -1

// parityQueueDepth bounds how many completed-group offsets may sit in
// the worker's queue before a writer blocks handing one off.
const parityQueueDepth = 64

// startParityWorker launches the dedicated goroutine that consumes
// completed group offsets and computes + persists their parity. Open
// starts it for every RW entry-server handle (non-entry openers write
// straight to their local stripe and never enqueue); there is no
// inline-computation fallback.
func (rc *RainCore) startParityWorker() {
	rc.workerQueue = make(chan int64, parityQueueDepth)
	rc.workerWg.Add(1)
	go rc.parityWorkerLoop()
}

func (rc *RainCore) parityWorkerLoop() {
	defer rc.workerWg.Done()
	ctx := context.Background()
	for offset := range rc.workerQueue {
		if offset == sentinelOffset {
			rc.drainRemaining(ctx)
			return
		}
		rc.processGroup(ctx, offset)
	}
}

// drainRemaining processes any group offsets still sitting in the
// queue when the sentinel arrives, so they don't silently disappear.
// It deliberately leaves the registry's own resident groups alone:
// Close walks AllOffsets() itself right after stopping the worker, so
// recycling them here first would make that pass a no-op.
func (rc *RainCore) drainRemaining(ctx context.Context) {
	for {
		select {
		case offset := <-rc.workerQueue:
			if offset != sentinelOffset {
				rc.processGroup(ctx, offset)
			}
		default:
			return
		}
	}
}

// processGroup is one iteration of the parity worker: lock the group,
// zero-fill any short tail, compute parity, write parity columns out,
// join every stashed future (data writes plus parity writes), mark
// parity_error sticky on any failure, then recycle.
func (rc *RainCore) processGroup(ctx context.Context, offset int64) {
	group, ok := rc.groups.Lookup(offset)
	if !ok {
		return
	}
	group.Lock()
	defer group.Unlock()

	group.FillWithZeros()

	if err := rc.engine.ComputeParity(group); err != nil {
		rc.log.WithFields(map[string]any{"offset": offset, "err": err}).Error("parity computation failed")
		group.ParityError = true
		rc.parityError.Store(true)
		rc.groups.Recycle(offset)
		return
	}

	rc.writeParityToFiles(ctx, group)

	if !group.WaitAsyncOK() {
		rc.log.WithFields(map[string]any{"offset": offset}).Error("parity group write-back failed")
		group.ParityError = true
		rc.parityError.Store(true)
	}

	rc.groups.Recycle(offset)
}

// writeParityToFiles issues an async write for every parity column of
// group to its mapped physical stripe, stashing the futures in the
// group's pending list.
func (rc *RainCore) writeParityToFiles(ctx context.Context, group *raingroup.Group) {
	d := rc.layout.D()
	p := rc.layout.P()
	bs := int64(rc.layout.BlockSizeB)
	rowBaseLocal := group.Offset() / int64(d)

	for parityCol := 0; parityCol < p; parityCol++ {
		logicalStripe := d + parityCol
		phys := rc.logicalToPhys[logicalStripe]
		sio := rc.stripes[phys]
		if sio == nil {
			continue
		}
		for row := 0; row < d; row++ {
			flat := rc.parityBlockFlatIndex(row, parityCol)
			localOff := rowBaseLocal + int64(row)*bs
			fileOff := int64(rc.layout.HeaderSizeB) + localOff
			f := sio.WriteAsync(ctx, fileOff, group.Block(flat).DataPtr())
			group.StoreFuture(f)
		}
	}
}

// enqueueParity pushes a completed group's offset onto the parity
// worker's queue. RW entry-server opens, the only callers, always have
// a worker (see startParityWorker doc), so this never falls back to
// inline computation.
func (rc *RainCore) enqueueParity(offset int64) {
	rc.workerQueue <- offset
}

// stopParityWorker pushes the sentinel and joins the worker goroutine.
func (rc *RainCore) stopParityWorker() {
	if rc.workerQueue == nil {
		return
	}
	rc.workerQueue <- sentinelOffset
	rc.workerWg.Wait()
}
