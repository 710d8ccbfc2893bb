package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML shape for a standalone `rainctl`
// invocation (not the wire-protocol adaptor path, which uses
// ParseOpaque instead). It mirrors the layout descriptor 1:1.
type FileConfig struct {
	BlockSizeB        uint32   `yaml:"block_size_b"`
	StripeDataCount   uint16   `yaml:"stripe_data_count"`
	StripeParityCount uint16   `yaml:"stripe_parity_count"`
	HeaderSizeB       uint32   `yaml:"header_size_b"`
	Scheme            string   `yaml:"parity_scheme"`
	StripeURLs        []string `yaml:"stripe_urls"`
}

// LoadYAML reads a FileConfig from path and converts it into a Layout
// plus the stripe URL list.
func LoadYAML(path string) (*Layout, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	layout := &Layout{
		BlockSizeB:        fc.BlockSizeB,
		StripeDataCount:   fc.StripeDataCount,
		StripeParityCount: fc.StripeParityCount,
		HeaderSizeB:       fc.HeaderSizeB,
	}

	switch fc.Scheme {
	case "", "double-parity", "doubleparity":
		layout.Scheme = DoubleParity
	case "reed-solomon", "reedsolomon":
		layout.Scheme = ReedSolomon
	default:
		return nil, nil, fmt.Errorf("config: unknown parity_scheme %q", fc.Scheme)
	}

	return layout, fc.StripeURLs, nil
}
