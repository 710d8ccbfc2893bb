// Package adaptor translates the client-facing wire protocol's
// open/read/write/close calls into internal/raincore operations: it
// decodes the URL's CGI-opaque parameters (replica index/head, stripe
// URLs, read-ahead and block-size hints) and drives a RainCore with
// the result.
package adaptor

import (
	"context"
	"strings"

	"github.com/Anthya1104/rain-striper/internal/config"
	"github.com/Anthya1104/rain-striper/internal/raincore"
	"github.com/Anthya1104/rain-striper/internal/railerr"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

// Adaptor is the per-connection handle an external caller (the
// wire-protocol plugin) drives through Open, Read,
// ReadV, Write, Truncate, Sync, Stat, Remove and Close.
type Adaptor struct {
	core *raincore.RainCore
}

// Dial resolves a stripe URL into a StripeIO by scheme: a "mem://"
// prefix selects an in-memory stripe (for tests and simulation),
// anything else a local filesystem path. A remote transport slots in
// here the same way.
func Dial(url string) (stripeio.StripeIO, error) {
	if strings.HasPrefix(url, "mem://") {
		return stripeio.NewMemFile(url), nil
	}
	return stripeio.NewLocalFile(url, url), nil
}

// Open parses the opaque CGI parameter string, applies its blocksize
// key (when present) to the layout passed in, and opens a RainCore
// with that layout.
func Open(ctx context.Context, layout *config.Layout, cgiOpaque string, flags config.OpenFlags) (*Adaptor, *railerr.Status) {
	opaque, err := config.ParseOpaque(cgiOpaque, layout.StripeTotal())
	if err != nil {
		return nil, railerr.Wrap(railerr.Invalid, err, "adaptor: open: parse opaque parameters")
	}
	if opaque.BlockSize != 0 {
		layout.BlockSizeB = opaque.BlockSize
	}

	core, status := raincore.Open(ctx, raincore.Options{
		Layout: layout,
		Opaque: opaque,
		Flags:  flags,
		Dial:   Dial,
	})
	if status != nil {
		return nil, status
	}
	return &Adaptor{core: core}, nil
}

func (a *Adaptor) Read(ctx context.Context, offset int64, buf []byte) (int, *railerr.Status) {
	return a.core.Read(ctx, offset, buf)
}

func (a *Adaptor) ReadV(ctx context.Context, chunks []stripeio.Chunk) (int, *railerr.Status) {
	return a.core.ReadV(ctx, chunks)
}

func (a *Adaptor) Write(ctx context.Context, offset int64, buf []byte) (int, *railerr.Status) {
	return a.core.Write(ctx, offset, buf)
}

func (a *Adaptor) Truncate(ctx context.Context, size int64) *railerr.Status {
	return a.core.Truncate(ctx, size)
}

func (a *Adaptor) Sync(ctx context.Context) *railerr.Status {
	return a.core.Sync(ctx)
}

func (a *Adaptor) Stat(ctx context.Context) (int64, *railerr.Status) {
	return a.core.Stat(ctx)
}

func (a *Adaptor) Remove(ctx context.Context) *railerr.Status {
	return a.core.Remove(ctx)
}

func (a *Adaptor) Close(ctx context.Context) *railerr.Status {
	return a.core.Close(ctx)
}

// Core exposes the underlying RainCore for callers that need
// lower-level access than the adaptor surface provides.
func (a *Adaptor) Core() *raincore.RainCore { return a.core }
