// Package header implements the fixed binary preamble written at
// offset 0 of every stripe file: a tag marker, the stripe's logical
// id, and the file-wide block geometry.
package header

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Anthya1104/rain-striper/internal/rainblock"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

// Tag is the ASCII marker every valid header begins with, NUL-padded
// to 16 bytes.
const Tag = "_HEADER__RAIDIO_"

const tagLen = 16

// field byte offsets within the serialized header.
const (
	offTag            = 0
	offStripeLogicalID = offTag + tagLen
	offNumBlocks       = offStripeLogicalID + 4
	offSizeLastBlock   = offNumBlocks + 8
	offBlockSize       = offSizeLastBlock + 8
	minHeaderLen       = offBlockSize + 8
)

// Header is the fixed-format per-stripe preamble.
type Header struct {
	StripeLogicalID uint32
	NumBlocks       int64
	SizeLastBlock   uint64
	BlockSize       uint64

	HeaderSizeB uint32
	Valid       bool
}

// New returns a fresh header for a newly-created stripe, with the
// given physical-to-logical assignment and the layout's block size.
func New(headerSizeB uint32, stripeLogicalID uint32, blockSize uint64) *Header {
	return &Header{
		StripeLogicalID: stripeLogicalID,
		NumBlocks:       0,
		SizeLastBlock:   0,
		BlockSize:       blockSize,
		HeaderSizeB:     headerSizeB,
		Valid:           true,
	}
}

// SizeFile returns the logical file size this header implies:
// (num_blocks-1)*block_size + size_last_block, or 0 when num_blocks
// is 0.
func (h *Header) SizeFile() int64 {
	if h.NumBlocks <= 0 {
		return 0
	}
	return (h.NumBlocks-1)*int64(h.BlockSize) + int64(h.SizeLastBlock)
}

// Serialize writes the header fields into a page-aligned,
// HeaderSizeB-length buffer, zero-padding the remainder.
func (h *Header) Serialize() []byte {
	buf := rainblock.AlignedBuffer(int(h.HeaderSizeB), os.Getpagesize())
	copy(buf[offTag:offTag+tagLen], []byte(Tag))
	binary.LittleEndian.PutUint32(buf[offStripeLogicalID:], h.StripeLogicalID)
	binary.LittleEndian.PutUint64(buf[offNumBlocks:], uint64(h.NumBlocks))
	binary.LittleEndian.PutUint64(buf[offSizeLastBlock:], h.SizeLastBlock)
	binary.LittleEndian.PutUint64(buf[offBlockSize:], h.BlockSize)
	return buf
}

// Deserialize parses buf (a buffer shorter than the fixed fields is
// invalid) and reports whether it carries a valid tag. expectedBlockSize of 0 means
// adopt whatever the header says; a nonzero value that mismatches the
// header's recorded block size is a validation failure.
func Deserialize(buf []byte, headerSizeB uint32, expectedBlockSize uint64) (*Header, bool) {
	if len(buf) < minHeaderLen {
		return nil, false
	}
	if string(buf[offTag:offTag+tagLen]) != pad(Tag) {
		return nil, false
	}

	h := &Header{HeaderSizeB: headerSizeB}
	h.StripeLogicalID = binary.LittleEndian.Uint32(buf[offStripeLogicalID:])
	h.NumBlocks = int64(binary.LittleEndian.Uint64(buf[offNumBlocks:]))
	h.SizeLastBlock = binary.LittleEndian.Uint64(buf[offSizeLastBlock:])
	readBlockSize := binary.LittleEndian.Uint64(buf[offBlockSize:])

	if expectedBlockSize == 0 {
		h.BlockSize = readBlockSize
	} else if expectedBlockSize != readBlockSize {
		return nil, false
	} else {
		h.BlockSize = readBlockSize
	}

	h.Valid = true
	return h, true
}

func pad(tag string) string {
	b := make([]byte, tagLen)
	copy(b, tag)
	return string(b)
}

// ReadFrom reads and parses the header at offset 0 of sio into a
// page-aligned buffer. A short read or tag mismatch returns
// (nil, false, nil): invalid, not an error, so the caller can count
// and repair rather than abort.
func ReadFrom(ctx context.Context, sio stripeio.StripeIO, headerSizeB uint32, expectedBlockSize uint64) (*Header, bool, error) {
	buf := rainblock.AlignedBuffer(int(headerSizeB), os.Getpagesize())
	n, err := sio.Read(ctx, 0, buf)
	if err != nil {
		return nil, false, fmt.Errorf("header: read %s: %w", sio.URL(), err)
	}
	if n != int(headerSizeB) {
		return nil, false, nil
	}
	h, ok := Deserialize(buf, headerSizeB, expectedBlockSize)
	return h, ok, nil
}

// WriteTo serializes h and writes it to offset 0 of sio. Success
// requires a positive byte count from the transport.
func (h *Header) WriteTo(ctx context.Context, sio stripeio.StripeIO) (bool, error) {
	buf := h.Serialize()
	n, err := sio.Write(ctx, 0, buf)
	if err != nil {
		return false, fmt.Errorf("header: write %s: %w", sio.URL(), err)
	}
	return n > 0, nil
}
