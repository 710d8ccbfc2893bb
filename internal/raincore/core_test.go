package raincore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/Anthya1104/rain-striper/internal/config"
	"github.com/Anthya1104/rain-striper/internal/header"
	"github.com/Anthya1104/rain-striper/internal/railerr"
	"github.com/Anthya1104/rain-striper/internal/stripeio"
)

func init() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// memCluster keeps one persistent MemFile per stripe URL so a core can
// be closed and reopened against the same backing data, the way real
// stripe files survive on disk between opens.
type memCluster struct {
	urls []string

	mu        sync.Mutex
	files     map[string]*stripeio.MemFile
	overrides map[string]stripeio.StripeIO
}

func newMemCluster(n int) *memCluster {
	c := &memCluster{
		files:     make(map[string]*stripeio.MemFile),
		overrides: make(map[string]stripeio.StripeIO),
	}
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("mem://stripe-%d", i)
		c.urls = append(c.urls, url)
		c.files[url] = stripeio.NewMemFile(url)
	}
	return c
}

func (c *memCluster) dial(url string) (stripeio.StripeIO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sio, ok := c.overrides[url]; ok {
		return sio, nil
	}
	if mf, ok := c.files[url]; ok {
		return mf, nil
	}
	return nil, fmt.Errorf("unknown stripe url %q", url)
}

func (c *memCluster) file(i int) *stripeio.MemFile {
	return c.files[c.urls[i]]
}

func (c *memCluster) opaque() *config.OpaqueParams {
	return &config.OpaqueParams{ReplicaIndex: 0, ReplicaHead: 0, StripeURLs: append([]string(nil), c.urls...)}
}

func testLayout(d, p uint16, bs uint32, scheme config.ParityScheme) *config.Layout {
	return &config.Layout{
		BlockSizeB:        bs,
		StripeDataCount:   d,
		StripeParityCount: p,
		Scheme:            scheme,
	}
}

func openCore(t *testing.T, c *memCluster, layout *config.Layout, flags config.OpenFlags, maxGroups int) *RainCore {
	t.Helper()
	rc, status := Open(context.Background(), Options{
		Layout:    layout,
		Opaque:    c.opaque(),
		Flags:     flags,
		Dial:      c.dial,
		MaxGroups: maxGroups,
	})
	assert.Nil(t, status, "open should succeed")
	if status != nil {
		t.FailNow()
	}
	return rc
}

// readRaw reads n bytes at off from a stripe's backing store, opening
// it independently of any core.
func readRaw(t *testing.T, mf *stripeio.MemFile, off int64, n int) []byte {
	t.Helper()
	ctx := context.Background()
	assert.NoError(t, mf.OpenAsync(ctx, os.O_RDWR, 0).Wait(ctx))
	buf := make([]byte, n)
	got, err := mf.Read(ctx, off, buf)
	assert.NoError(t, err)
	assert.Equal(t, n, got)
	assert.NoError(t, mf.Close(ctx))
	return buf
}

func patternBytes(offset int64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((offset + int64(i)) % 251)
	}
	return out
}

func TestRainCore_OpenValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("NilLayout", func(t *testing.T) {
		_, status := Open(ctx, Options{Opaque: &config.OpaqueParams{}, Dial: func(string) (stripeio.StripeIO, error) { return nil, nil }})
		assert.NotNil(t, status)
		assert.Equal(t, railerr.Invalid, status.Code)
	})

	t.Run("TooFewStripes", func(t *testing.T) {
		c := newMemCluster(4)
		_, status := Open(ctx, Options{
			Layout: testLayout(2, 2, 1024, config.DoubleParity),
			Opaque: c.opaque(),
			Flags:  config.FlagRDWR | config.FlagCreate,
			Dial:   c.dial,
		})
		assert.NotNil(t, status, "N < 5 must be rejected")
		assert.Equal(t, railerr.Invalid, status.Code)
	})

	t.Run("BlockSizeTooSmall", func(t *testing.T) {
		c := newMemCluster(6)
		_, status := Open(ctx, Options{
			Layout: testLayout(4, 2, 32, config.DoubleParity),
			Opaque: c.opaque(),
			Flags:  config.FlagRDWR | config.FlagCreate,
			Dial:   c.dial,
		})
		assert.NotNil(t, status, "block_size < 64 must be rejected")
		assert.Equal(t, railerr.Invalid, status.Code)
	})

	t.Run("DoubleParityNeedsPOf2", func(t *testing.T) {
		c := newMemCluster(7)
		_, status := Open(ctx, Options{
			Layout: testLayout(4, 3, 1024, config.DoubleParity),
			Opaque: c.opaque(),
			Flags:  config.FlagRDWR | config.FlagCreate,
			Dial:   c.dial,
		})
		assert.NotNil(t, status)
		assert.Equal(t, railerr.UnsupportedLayout, status.Code)
	})
}

func TestRainCore_MappingBijectivity(t *testing.T) {
	c := newMemCluster(6)
	layout := testLayout(4, 2, 1024, config.DoubleParity)

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	defer rc.Close(context.Background())

	n := layout.StripeTotal()
	for phys := 0; phys < n; phys++ {
		logical := rc.physToLogical[phys]
		assert.GreaterOrEqual(t, logical, 0)
		assert.Less(t, logical, n)
		assert.Equal(t, phys, rc.logicalToPhys[logical], "physical_to_logical and logical_to_physical must be mutual inverses")
	}
}

func TestRainCore_CreateAndReadSmallFile(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 1024, config.DoubleParity)

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	payload := bytes.Repeat([]byte{0xAB}, 37)
	n, status := rc.Write(ctx, 0, payload)
	assert.Nil(t, status)
	assert.Equal(t, 37, n)
	assert.Nil(t, rc.Close(ctx))

	t.Run("HeaderRecordsBlockCounts", func(t *testing.T) {
		mf := c.file(0)
		assert.NoError(t, mf.OpenAsync(ctx, os.O_RDWR, 0).Wait(ctx))
		h, ok, err := header.ReadFrom(ctx, mf, layout.HeaderSizeB, uint64(layout.BlockSizeB))
		assert.NoError(t, err)
		assert.True(t, ok, "the stripe header must be valid after close")
		assert.Equal(t, int64(1), h.NumBlocks)
		assert.Equal(t, uint64(37), h.SizeLastBlock)
		assert.NoError(t, mf.Close(ctx))
	})

	t.Run("ReadBackAfterReopen", func(t *testing.T) {
		rc := openCore(t, c, layout, config.FlagRDOnly, 0)
		assert.Equal(t, int64(37), rc.FileSize())

		got := make([]byte, 37)
		n, status := rc.Read(ctx, 0, got)
		assert.Nil(t, status)
		assert.Equal(t, 37, n)
		assert.Equal(t, payload, got)
		assert.Nil(t, rc.Close(ctx))
	})
}

func TestRainCore_FullGroupWriteParityInvariant(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 1024, config.DoubleParity)
	groupBytes := int(layout.GroupSizeBytes()) // 16 KiB

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	payload := patternBytes(0, groupBytes)
	n, status := rc.Write(ctx, 0, payload)
	assert.Nil(t, status)
	assert.Equal(t, groupBytes, n)
	logicalToPhys := append([]int(nil), rc.logicalToPhys...)
	assert.Nil(t, rc.Close(ctx))

	t.Run("ReadBackMatches", func(t *testing.T) {
		rc := openCore(t, c, layout, config.FlagRDOnly, 0)
		got := make([]byte, groupBytes)
		n, status := rc.Read(ctx, 0, got)
		assert.Nil(t, status)
		assert.Equal(t, groupBytes, n)
		assert.Equal(t, payload, got)
		assert.Nil(t, rc.Close(ctx))
	})

	t.Run("RowParityOnRawStripes", func(t *testing.T) {
		bs := int(layout.BlockSizeB)
		hdr := int64(layout.HeaderSizeB)
		d := layout.D()
		for row := 0; row < d; row++ {
			blockOff := hdr + int64(row*bs)
			acc := make([]byte, bs)
			for col := 0; col <= d; col++ { // data columns plus the P column
				raw := readRaw(t, c.file(logicalToPhys[col]), blockOff, bs)
				for i := range acc {
					acc[i] ^= raw[i]
				}
			}
			assert.Equal(t, make([]byte, bs), acc, "row %d data XOR P must be zero on disk", row)
		}
	})
}

func TestRainCore_SingleStripeLossVectorRead(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 1024, config.DoubleParity)
	groupBytes := int(layout.GroupSizeBytes())

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	payload := patternBytes(0, groupBytes)
	_, status := rc.Write(ctx, 0, payload)
	assert.Nil(t, status)
	assert.Nil(t, rc.Close(ctx))

	assert.NoError(t, c.file(2).Remove(ctx), "drop the stripe at physical index 2")

	rc = openCore(t, c, layout, config.FlagRDOnly, 0)
	assert.Equal(t, int64(groupBytes), rc.FileSize(), "file size must survive a single stripe loss")

	chunkLen := groupBytes / 4
	chunks := make([]stripeio.Chunk, 4)
	for i := range chunks {
		chunks[i] = stripeio.Chunk{Offset: int64(i * chunkLen), Buf: make([]byte, chunkLen)}
	}
	n, status := rc.ReadV(ctx, chunks)
	assert.Nil(t, status, "a vector read across a lost stripe must reconstruct")
	assert.Equal(t, groupBytes, n)
	for i, ck := range chunks {
		assert.Equal(t, payload[i*chunkLen:(i+1)*chunkLen], ck.Buf, "chunk %d must carry the original bytes", i)
	}
	assert.Nil(t, rc.Close(ctx))

	t.Run("NoOnDiskRepairWhenReadOnly", func(t *testing.T) {
		st, err := c.file(2).Stat(ctx)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), st.Size, "a read-only open must not rebuild the lost stripe")
	})
}

func TestRainCore_ForcedRecoveryAfterHeaderCorruption(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 1024, config.DoubleParity)
	groupBytes := int(layout.GroupSizeBytes())

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	payload := patternBytes(0, groupBytes)
	_, status := rc.Write(ctx, 0, payload)
	assert.Nil(t, status)
	assert.Nil(t, rc.Close(ctx))

	// Stomp the header tag on two stripes (P = 2, so still repairable).
	for _, i := range []int{1, 2} {
		mf := c.file(i)
		assert.NoError(t, mf.OpenAsync(ctx, os.O_RDWR, 0).Wait(ctx))
		_, err := mf.Write(ctx, 0, []byte("XXXXXXXXXXXXXXXX"))
		assert.NoError(t, err)
		assert.NoError(t, mf.Close(ctx))
	}

	rc = openCore(t, c, layout, config.FlagRDWR|config.FlagForceRecovery, 0)
	assert.Equal(t, int64(groupBytes), rc.FileSize())

	got := make([]byte, groupBytes)
	n, status := rc.Read(ctx, 0, got)
	assert.Nil(t, status, "a forced-recovery read must succeed")
	assert.Equal(t, groupBytes, n)
	assert.Nil(t, rc.Close(ctx))

	t.Run("SubsequentHealthyOpen", func(t *testing.T) {
		rc := openCore(t, c, layout, config.FlagRDOnly, 0)
		for i := 0; i < layout.StripeTotal(); i++ {
			assert.NotNil(t, rc.headers[i], "every header must be valid again after repair")
		}
		got := make([]byte, groupBytes)
		n, status := rc.Read(ctx, 0, got)
		assert.Nil(t, status)
		assert.Equal(t, groupBytes, n)
		assert.Equal(t, payload, got)
		assert.Nil(t, rc.Close(ctx))
	})
}

func TestRainCore_AdmissionBoundStress(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 64, config.DoubleParity)
	groupBytes := int(layout.GroupSizeBytes()) // 1 KiB
	const maxGroups = 4
	const numGroups = 64

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, maxGroups)
	for i := 0; i < numGroups; i++ {
		off := int64(i * groupBytes)
		n, status := rc.Write(ctx, off, patternBytes(off, groupBytes))
		assert.Nil(t, status, "write %d should succeed", i)
		assert.Equal(t, groupBytes, n)
		assert.LessOrEqual(t, rc.groups.Size(), maxGroups, "the registry must never exceed max_groups")
	}
	assert.Equal(t, int64(numGroups*groupBytes), rc.FileSize())
	assert.Nil(t, rc.Close(ctx))

	rc = openCore(t, c, layout, config.FlagRDOnly, 0)
	assert.Equal(t, int64(numGroups*groupBytes), rc.FileSize())
	for _, i := range []int{0, 17, 63} {
		off := int64(i * groupBytes)
		got := make([]byte, groupBytes)
		n, status := rc.Read(ctx, off, got)
		assert.Nil(t, status)
		assert.Equal(t, groupBytes, n)
		assert.Equal(t, patternBytes(off, groupBytes), got, "group %d must read back intact", i)
	}
	assert.Nil(t, rc.Close(ctx))
}

func TestRainCore_NonStreamingWrite(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 64, config.DoubleParity)
	groupBytes := int(layout.GroupSizeBytes())

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)

	_, status := rc.Write(ctx, 0, patternBytes(0, groupBytes))
	assert.Nil(t, status)
	assert.True(t, rc.isStreaming, "a first sequential write keeps the handle streaming")

	off2 := int64(2 * groupBytes)
	_, status = rc.Write(ctx, off2, patternBytes(off2, groupBytes))
	assert.Nil(t, status)
	assert.False(t, rc.isStreaming, "an out-of-order write must flip the handle to non-streaming")

	off1 := int64(groupBytes)
	_, status = rc.Write(ctx, off1, patternBytes(off1, groupBytes))
	assert.Nil(t, status)

	assert.Nil(t, rc.Close(ctx), "close runs the forced sparse parity completion")

	rc = openCore(t, c, layout, config.FlagRDOnly, 0)
	logicalToPhys := append([]int(nil), rc.logicalToPhys...)
	total := 3 * groupBytes
	got := make([]byte, total)
	n, status := rc.Read(ctx, 0, got)
	assert.Nil(t, status)
	assert.Equal(t, total, n)
	assert.Equal(t, patternBytes(0, total), got)
	assert.Nil(t, rc.Close(ctx))

	t.Run("RowParityHoldsOnEveryGroup", func(t *testing.T) {
		bs := int(layout.BlockSizeB)
		hdr := int64(layout.HeaderSizeB)
		d := layout.D()
		for group := 0; group < 3; group++ {
			groupLocal := int64(group*groupBytes) / int64(d)
			for row := 0; row < d; row++ {
				blockOff := hdr + groupLocal + int64(row*bs)
				acc := make([]byte, bs)
				for col := 0; col <= d; col++ {
					raw := readRaw(t, c.file(logicalToPhys[col]), blockOff, bs)
					for i := range acc {
						acc[i] ^= raw[i]
					}
				}
				assert.Equal(t, make([]byte, bs), acc, "group %d row %d parity must hold", group, row)
			}
		}
	})
}

func TestRainCore_ReedSolomonTwoStripeLoss(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 1024, config.ReedSolomon)
	groupBytes := int(layout.GroupSizeBytes())

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	payload := patternBytes(0, groupBytes)
	_, status := rc.Write(ctx, 0, payload)
	assert.Nil(t, status)
	assert.Nil(t, rc.Close(ctx))

	assert.NoError(t, c.file(1).Remove(ctx))
	assert.NoError(t, c.file(3).Remove(ctx))

	rc = openCore(t, c, layout, config.FlagRDOnly, 0)
	got := make([]byte, groupBytes)
	n, status := rc.Read(ctx, 0, got)
	assert.Nil(t, status, "reed-solomon must tolerate P simultaneous stripe losses")
	assert.Equal(t, groupBytes, n)
	assert.Equal(t, payload, got)
	assert.Nil(t, rc.Close(ctx))
}

// failingWrites wraps a MemFile so every async write fails, driving
// the parity worker into the sticky parity_error state.
type failingWrites struct {
	*stripeio.MemFile
}

func (f *failingWrites) WriteAsync(ctx context.Context, offset int64, buf []byte) *stripeio.Future {
	fut := stripeio.NewFuture()
	fut.Complete(0, fmt.Errorf("injected write failure on %s", f.URL()))
	return fut
}

func TestRainCore_ParityErrorSticky(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 64, config.DoubleParity)
	groupBytes := int(layout.GroupSizeBytes())

	// Physical stripe 5 accepts its header but fails every block write.
	c.overrides[c.urls[5]] = &failingWrites{MemFile: c.files[c.urls[5]]}

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	_, status := rc.Write(ctx, 0, patternBytes(0, groupBytes))
	assert.Nil(t, status, "the write itself is dispatched before the parity worker observes the failure")

	assert.Eventually(t, func() bool { return rc.parityError.Load() },
		2*time.Second, 10*time.Millisecond, "the parity worker must set the sticky flag")

	_, status = rc.Write(ctx, int64(groupBytes), patternBytes(int64(groupBytes), groupBytes))
	assert.NotNil(t, status, "every write after parity_error must fail fast")
	assert.Equal(t, railerr.IOError, status.Code)

	_ = rc.Close(ctx)
}

func TestRainCore_ReadBounds(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 1024, config.DoubleParity)

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	_, status := rc.Write(ctx, 0, patternBytes(0, 100))
	assert.Nil(t, status)

	t.Run("ClampPastEOF", func(t *testing.T) {
		got := make([]byte, 200)
		n, status := rc.Read(ctx, 50, got)
		assert.Nil(t, status)
		assert.Equal(t, 50, n, "a read spanning past file_size must clamp")
	})

	t.Run("AtEOFReturnsZero", func(t *testing.T) {
		n, status := rc.Read(ctx, 100, make([]byte, 10))
		assert.Nil(t, status)
		assert.Equal(t, 0, n)
	})

	t.Run("BeyondEOFRejected", func(t *testing.T) {
		_, status := rc.Read(ctx, 101, make([]byte, 10))
		assert.NotNil(t, status)
		assert.Equal(t, railerr.Invalid, status.Code)
	})

	assert.Nil(t, rc.Close(ctx))
}

func TestRainCore_StatSentinelWhenNeverOpened(t *testing.T) {
	rc := &RainCore{}
	size, status := rc.Stat(context.Background())
	assert.Nil(t, status)
	assert.Equal(t, StatSentinel, size, "stat without an open handle returns the documented sentinel")
}

func TestRainCore_TruncateUpdatesSize(t *testing.T) {
	ctx := context.Background()
	c := newMemCluster(6)
	layout := testLayout(4, 2, 64, config.DoubleParity)
	groupBytes := int(layout.GroupSizeBytes())

	rc := openCore(t, c, layout, config.FlagRDWR|config.FlagCreate, 0)
	_, status := rc.Write(ctx, 0, patternBytes(0, 2*groupBytes))
	assert.Nil(t, status)
	assert.Equal(t, int64(2*groupBytes), rc.FileSize())

	assert.Nil(t, rc.Truncate(ctx, int64(groupBytes)))
	assert.Equal(t, int64(groupBytes), rc.FileSize())
	assert.Nil(t, rc.Close(ctx))

	rc = openCore(t, c, layout, config.FlagRDOnly, 0)
	assert.Equal(t, int64(groupBytes), rc.FileSize(), "the truncated size must persist through close and reopen")
	assert.Nil(t, rc.Close(ctx))
}
