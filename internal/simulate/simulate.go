// Package simulate drives a full write/clear/read cycle against a set
// of stripes, exercising internal/raincore end to end: write a
// payload, read it back, drop one stripe, read again through
// reconstruction.
package simulate

import (
	"context"
	"fmt"

	"github.com/Anthya1104/rain-striper/internal/adaptor"
	"github.com/Anthya1104/rain-striper/internal/config"
	"github.com/Anthya1104/rain-striper/internal/raincore"
	"github.com/Anthya1104/rain-striper/internal/railerr"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

// Options configures one simulation run.
type Options struct {
	Data         []byte
	DataStripes  uint16
	ParityShards uint16
	BlockSizeB   uint32
	HeaderSizeB  uint32
	Scheme       config.ParityScheme

	// StripeURLs, when non-empty, names the N stripes to run over
	// (mem:// or local file paths, resolved via adaptor.Dial), e.g.
	// loaded from a YAML config file. When empty, N in-memory stripes
	// are generated.
	StripeURLs []string

	// ClearIndex, if >= 0, is a physical stripe index whose backing
	// store is removed after the first read, to exercise on-the-fly
	// reconstruction on the second read.
	ClearIndex int
}

// Result reports what each read returned.
type Result struct {
	BeforeClear string
	AfterClear  string
}

// Run opens a fresh RainCore over the stripes, writes Data at offset
// 0, reads it back, optionally removes one stripe's backing store, and
// reads again.
func Run(opts Options) (*Result, *railerr.Status) {
	ctx := context.Background()
	layout := &config.Layout{
		BlockSizeB:        opts.BlockSizeB,
		StripeDataCount:   opts.DataStripes,
		StripeParityCount: opts.ParityShards,
		HeaderSizeB:       opts.HeaderSizeB,
		Scheme:            opts.Scheme,
	}
	n := layout.StripeTotal()

	urls := opts.StripeURLs
	if len(urls) == 0 {
		urls = make([]string, n)
		for i := range urls {
			urls[i] = fmt.Sprintf("mem://stripe-%d", i)
		}
	}
	if len(urls) != n {
		return nil, railerr.New(railerr.Invalid, "simulate: got %d stripe urls, layout needs %d", len(urls), n)
	}

	// Dialed handles are cached so the reopen after Close sees the
	// same backing store (mem:// stripes have no on-disk persistence).
	handles := make(map[string]stripeio.StripeIO, n)
	dial := func(url string) (stripeio.StripeIO, error) {
		if sio, ok := handles[url]; ok {
			return sio, nil
		}
		sio, err := adaptor.Dial(url)
		if err != nil {
			return nil, err
		}
		handles[url] = sio
		return sio, nil
	}

	opaque := &config.OpaqueParams{ReplicaIndex: 0, ReplicaHead: 0, StripeURLs: urls}
	core, status := raincore.Open(ctx, raincore.Options{
		Layout: layout,
		Opaque: opaque,
		Flags:  config.FlagRDWR | config.FlagTrunc | config.FlagCreate,
		Dial:   dial,
	})
	if status != nil {
		return nil, status
	}

	if _, status := core.Write(ctx, 0, opts.Data); status != nil {
		return nil, status
	}
	if status := core.Close(ctx); status != nil {
		return nil, status
	}

	core, status = raincore.Open(ctx, raincore.Options{
		Layout: layout,
		Opaque: opaque,
		Flags:  config.FlagRDOnly,
		Dial:   dial,
	})
	if status != nil {
		return nil, status
	}

	before := make([]byte, len(opts.Data))
	if _, status := core.Read(ctx, 0, before); status != nil {
		return nil, status
	}

	after := before
	if opts.ClearIndex >= 0 && opts.ClearIndex < n {
		if sio, ok := handles[urls[opts.ClearIndex]]; ok {
			_ = sio.Remove(ctx)
		}
		after = make([]byte, len(opts.Data))
		if _, status := core.Read(ctx, 0, after); status != nil {
			return nil, status
		}
	}

	if status := core.Close(ctx); status != nil {
		return nil, status
	}

	return &Result{BeforeClear: string(before), AfterClear: string(after)}, nil
}
