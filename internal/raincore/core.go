// Package raincore implements the orchestrator that owns a logical
// file's open stripes, headers, physical/logical mappings, group
// registry and parity worker, and drives Open, Read, ReadV, Write,
// Truncate, Sync, Stat, Remove and Close against them.
package raincore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/Anthya1104/rain-striper/internal/config"
	"github.com/Anthya1104/rain-striper/internal/groupregistry"
	"github.com/Anthya1104/rain-striper/internal/header"
	"github.com/Anthya1104/rain-striper/internal/parity"
	"github.com/Anthya1104/rain-striper/internal/railerr"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

// Dialer produces a StripeIO for a stripe URL, letting tests swap in
// stripeio.NewMemFile and production wire in stripeio.NewLocalFile (or
// a remote-transport implementation) without RainCore knowing which.
type Dialer func(url string) (stripeio.StripeIO, error)

// Options are the Open inputs: a layout descriptor, the opaque CGI
// parameters (replicaindex/replicahead/url{i}/...), and the open
// flags.
type Options struct {
	Layout *config.Layout
	Opaque *config.OpaqueParams
	Flags  config.OpenFlags
	Dial   Dialer

	// MaxGroups bounds group-registry admission; 0 picks
	// groupregistry.DefaultMaxGroups.
	MaxGroups int
}

// RainCore is the per-open logical-file handle.
type RainCore struct {
	layout *config.Layout
	engine parity.Engine

	replicaIndex int
	replicaHead  int
	isEntry      bool

	isRW                bool
	forceRecovery       bool
	storeRecoveryOnRead bool

	// stripes, headers and headerDirty are indexed by physical index
	// [0, N). A nil stripes[i] means that physical slot is permanently
	// unreachable (open failed or the opener left url{i} empty).
	stripes     []stripeio.StripeIO
	headers     []*header.Header
	headerDirty []bool

	physToLogical []int
	logicalToPhys []int

	fileSize         int64
	recoveryHappened bool
	isTruncated      bool
	isOpen           bool

	groups *groupregistry.Registry

	workerQueue chan int64
	workerWg    sync.WaitGroup

	// recoveredGroups dedups forced-recovery work across reads of the
	// same group.
	recMu           sync.Mutex
	recoveredGroups map[int64]bool

	// exclAccess serializes mutating entry points against each other;
	// the group-pipeline state machine assumes single-threaded mutation.
	exclAccess sync.Mutex

	parityError atomic.Bool

	hasWritten      bool
	isStreaming     bool
	lastWriteOffset int64
	pieces          *pieceMap

	log *logrus.Entry
}

// Open validates opts, opens every reachable stripe, classifies and
// repairs headers, builds the physical/logical mappings, and, in RW
// mode, starts the parity worker.
func Open(ctx context.Context, opts Options) (*RainCore, *railerr.Status) {
	if opts.Layout == nil {
		return nil, railerr.New(railerr.Invalid, "raincore: open: nil layout")
	}
	if opts.Opaque == nil {
		return nil, railerr.New(railerr.Invalid, "raincore: open: nil opaque params")
	}
	if opts.Dial == nil {
		return nil, railerr.New(railerr.Invalid, "raincore: open: nil dialer")
	}

	engine, err := parity.New(opts.Layout)
	if err != nil {
		return nil, railerr.Wrap(railerr.UnsupportedLayout, err, "raincore: open: build parity engine")
	}
	if err := opts.Layout.Normalize(uint32(engine.VectorWordSize())); err != nil {
		return nil, railerr.Wrap(railerr.Invalid, err, "raincore: open: invalid layout")
	}

	n := opts.Layout.StripeTotal()
	if len(opts.Opaque.StripeURLs) != n {
		return nil, railerr.New(railerr.Invalid, "raincore: open: expected %d stripe urls, got %d", n, len(opts.Opaque.StripeURLs))
	}

	isRW := opts.Flags.IsRW()
	isEntry := opts.Opaque.ReplicaIndex == opts.Opaque.ReplicaHead

	rc := &RainCore{
		layout:              opts.Layout,
		engine:              engine,
		replicaIndex:        opts.Opaque.ReplicaIndex,
		replicaHead:         opts.Opaque.ReplicaHead,
		isEntry:             isEntry,
		isRW:                isRW,
		forceRecovery:       opts.Flags&config.FlagForceRecovery != 0,
		storeRecoveryOnRead: opts.Flags&config.FlagForceRecovery != 0,
		stripes:             make([]stripeio.StripeIO, n),
		headers:             make([]*header.Header, n),
		headerDirty:         make([]bool, n),
		recoveredGroups:     make(map[int64]bool),
		pieces:              newPieceMap(),
		log: logrus.WithFields(logrus.Fields{
			"component": "raincore",
			"replica":   opts.Opaque.ReplicaIndex,
		}),
	}

	if err := rc.openStripes(ctx, opts); err != nil {
		return nil, err
	}

	if err := rc.loadAndValidateHeaders(ctx); err != nil {
		rc.closeAllBestEffort(ctx)
		return nil, err
	}

	if ref := rc.referenceHeader(); ref != nil {
		rc.fileSize = ref.SizeFile()
	}

	rc.groups = groupregistry.New(opts.MaxGroups, rc.layout.TotalBlocksPerGroup(), int(rc.layout.BlockSizeB), rc.blockAlign())

	rc.isOpen = true

	if rc.isRW && rc.isEntry {
		rc.startParityWorker()
	}

	return rc, nil
}

// openStripes opens every stripe the opener is responsible for: the
// entry server opens all N stripes in parallel, tolerating up to P
// open failures for reads and zero for writes; a non-entry server
// opens only its own local stripe.
func (rc *RainCore) openStripes(ctx context.Context, opts Options) *railerr.Status {
	n := len(rc.stripes)
	flags := os.O_RDWR
	if !rc.isRW {
		flags = os.O_RDONLY
	}
	if opts.Flags&config.FlagTrunc != 0 {
		flags |= os.O_TRUNC
	}
	if opts.Flags&config.FlagCreate != 0 {
		flags |= os.O_CREATE
	}

	if !rc.isEntry {
		url := opts.Opaque.StripeURLs[rc.replicaIndex]
		if url == "" {
			return railerr.New(railerr.Invalid, "raincore: open: local stripe url (index %d) is empty", rc.replicaIndex)
		}
		sio, err := opts.Dial(url)
		if err != nil {
			return railerr.Wrap(railerr.IOError, err, "raincore: open: dial local stripe %d", rc.replicaIndex)
		}
		if err := sio.OpenAsync(ctx, flags, 0o644).Wait(ctx); err != nil {
			return railerr.Wrap(railerr.IOError, err, "raincore: open: open local stripe %d", rc.replicaIndex)
		}
		rc.stripes[rc.replicaIndex] = sio
		return nil
	}

	type result struct {
		idx   int
		sio   stripeio.StripeIO
		empty bool
		err   error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		url := opts.Opaque.StripeURLs[i]
		if url == "" {
			// Intentionally-empty slots don't count against the open
			// failure tolerance.
			results <- result{idx: i, empty: true}
			continue
		}
		go func(i int, url string) {
			sio, err := opts.Dial(url)
			if err != nil {
				results <- result{idx: i, err: err}
				return
			}
			err = sio.OpenAsync(ctx, flags, 0o644).Wait(ctx)
			if err != nil {
				results <- result{idx: i, err: err}
				return
			}
			results <- result{idx: i, sio: sio}
		}(i, url)
	}

	failures := 0
	for i := 0; i < n; i++ {
		r := <-results
		if r.sio == nil {
			if !r.empty {
				failures++
			}
			continue
		}
		rc.stripes[r.idx] = r.sio
	}

	maxFailures := rc.layout.P()
	if rc.isRW {
		maxFailures = 0
	}
	if failures > maxFailures {
		return railerr.New(railerr.IOError, "raincore: open: %d stripe(s) unreachable, tolerance is %d", failures, maxFailures)
	}
	return nil
}

// referenceHeader returns any valid header, preferring the entry
// server's own physical slot, used to derive file_size at Open.
func (rc *RainCore) referenceHeader() *header.Header {
	if rc.headers[rc.replicaIndex] != nil {
		return rc.headers[rc.replicaIndex]
	}
	for _, h := range rc.headers {
		if h != nil {
			return h
		}
	}
	return nil
}

func (rc *RainCore) closeAllBestEffort(ctx context.Context) {
	for _, s := range rc.stripes {
		if s != nil {
			_ = s.Close(ctx)
		}
	}
}

// blockAlign returns the block-buffer alignment: the larger of the OS
// page size and the parity engine's vector word size.
func (rc *RainCore) blockAlign() int {
	if page := os.Getpagesize(); page > rc.engine.VectorWordSize() {
		return page
	}
	return rc.engine.VectorWordSize()
}

// IsEntryServer reports whether this opener coordinates multi-stripe
// operations.
func (rc *RainCore) IsEntryServer() bool { return rc.isEntry }

// FileSize returns the logical file size as currently tracked.
func (rc *RainCore) FileSize() int64 { return rc.fileSize }

func (rc *RainCore) fail(code railerr.Code, format string, args ...any) *railerr.Status {
	return railerr.New(code, fmt.Sprintf("raincore[replica=%d]: ", rc.replicaIndex)+format, args...)
}
