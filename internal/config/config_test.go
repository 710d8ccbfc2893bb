package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Anthya1104/rain-striper/internal/config"
)

func TestParseOpaque(t *testing.T) {
	t.Run("FullParameterSet", func(t *testing.T) {
		opaque := "replicaindex=2&replicahead=0&url0=root://a&url1=root://b&url2=root://c&url3=root://d&url4=root://e&url5=root://f&readahead=true&blocksize=4096&path=/eos/test/file"
		p, err := config.ParseOpaque(opaque, 6)
		assert.NoError(t, err)
		assert.Equal(t, 2, p.ReplicaIndex)
		assert.Equal(t, 0, p.ReplicaHead)
		assert.Equal(t, []string{"root://a", "root://b", "root://c", "root://d", "root://e", "root://f"}, p.StripeURLs)
		assert.True(t, p.ReadAhead)
		assert.Equal(t, uint32(4096), p.BlockSize)
		assert.Equal(t, "/eos/test/file", p.Path)
	})

	t.Run("MissingURLSlotsAreEmpty", func(t *testing.T) {
		p, err := config.ParseOpaque("replicaindex=0&replicahead=0&url0=root://a&url2=root://c", 4)
		assert.NoError(t, err)
		assert.Equal(t, []string{"root://a", "", "root://c", ""}, p.StripeURLs, "absent url{i} keys mean missing stripes")
	})

	t.Run("MissingReplicaIndex", func(t *testing.T) {
		_, err := config.ParseOpaque("replicahead=0", 4)
		assert.Error(t, err, "replicaindex is mandatory")
	})

	t.Run("MissingReplicaHead", func(t *testing.T) {
		_, err := config.ParseOpaque("replicaindex=0", 4)
		assert.Error(t, err, "replicahead is mandatory")
	})

	t.Run("MalformedInteger", func(t *testing.T) {
		_, err := config.ParseOpaque("replicaindex=two&replicahead=0", 4)
		assert.Error(t, err)
	})
}

func TestLayoutID_RoundTrip(t *testing.T) {
	in := config.LayoutID{
		LayoutType:        7,
		ChecksumType:      2,
		StripeCount:       6,
		BlockSizeB:        1 << 20,
		BlockChecksumType: 3,
		RedundancyCount:   2,
	}
	out := config.DecodeLayoutID(config.EncodeLayoutID(in))
	assert.Equal(t, in, out, "encode/decode must round-trip every field")
}

func TestLayout_Normalize(t *testing.T) {
	t.Run("DefaultsHeaderSize", func(t *testing.T) {
		l := &config.Layout{BlockSizeB: 1024, StripeDataCount: 4, StripeParityCount: 2}
		assert.NoError(t, l.Normalize(16))
		assert.Equal(t, config.DefaultHeaderSizeB, l.HeaderSizeB)
	})

	t.Run("RejectsTooFewStripes", func(t *testing.T) {
		l := &config.Layout{BlockSizeB: 1024, StripeDataCount: 2, StripeParityCount: 2}
		assert.Error(t, l.Normalize(16), "N < 5 is invalid")
	})

	t.Run("RejectsZeroParity", func(t *testing.T) {
		l := &config.Layout{BlockSizeB: 1024, StripeDataCount: 6, StripeParityCount: 0}
		assert.Error(t, l.Normalize(16), "P < 1 is invalid")
	})

	t.Run("RejectsSmallBlockSize", func(t *testing.T) {
		l := &config.Layout{BlockSizeB: 32, StripeDataCount: 4, StripeParityCount: 2}
		assert.Error(t, l.Normalize(16), "block_size < 64 is invalid")
	})

	t.Run("RejectsUnalignedBlockSize", func(t *testing.T) {
		l := &config.Layout{BlockSizeB: 100, StripeDataCount: 4, StripeParityCount: 2}
		assert.Error(t, l.Normalize(16), "block_size must be a multiple of the vector word size")
	})
}

func TestLayout_GroupGeometry(t *testing.T) {
	l := &config.Layout{BlockSizeB: 1024, StripeDataCount: 4, StripeParityCount: 2}
	assert.Equal(t, 6, l.StripeTotal())
	assert.Equal(t, 16, l.GroupDataBlocks())
	assert.Equal(t, int64(16384), l.GroupSizeBytes())
	assert.Equal(t, 24, l.TotalBlocksPerGroup())
	assert.Equal(t, int64(0), l.GroupOffset(16383))
	assert.Equal(t, int64(16384), l.GroupOffset(16384))
	assert.Equal(t, int64(16384), l.GroupOffset(20000))
}

func TestLoadYAML(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "layout.yaml")
		content := `block_size_b: 1024
stripe_data_count: 4
stripe_parity_count: 2
parity_scheme: reed-solomon
stripe_urls:
  - /data/stripe0
  - /data/stripe1
`
		assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		layout, urls, err := config.LoadYAML(path)
		assert.NoError(t, err)
		assert.Equal(t, uint32(1024), layout.BlockSizeB)
		assert.Equal(t, uint16(4), layout.StripeDataCount)
		assert.Equal(t, uint16(2), layout.StripeParityCount)
		assert.Equal(t, config.ReedSolomon, layout.Scheme)
		assert.Equal(t, []string{"/data/stripe0", "/data/stripe1"}, urls)
	})

	t.Run("UnknownScheme", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "layout.yaml")
		assert.NoError(t, os.WriteFile(path, []byte("parity_scheme: raid0\n"), 0o644))
		_, _, err := config.LoadYAML(path)
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, _, err := config.LoadYAML("/does/not/exist.yaml")
		assert.Error(t, err)
	})
}
