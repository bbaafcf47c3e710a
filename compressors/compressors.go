// Package compressors provides the record payload compressors the
// Badger-backed store can be configured with.
package compressors

import (
	"fmt"
	"strings"

	"github.com/INLOpen/expirebin/core"
)

// ForName returns the compressor for a configuration string
// ("none", "snappy", "lz4" or "zstd"). An empty name means none.
func ForName(name string) (core.Compressor, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return &NoCompressionCompressor{}, nil
	case "snappy":
		return NewSnappyCompressor(), nil
	case "lz4":
		return NewLz4Compressor(), nil
	case "zstd":
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("unknown compression type: %s", name)
	}
}

// ForType returns the compressor matching a stored payload's type tag.
func ForType(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZstd:
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("unknown compression type tag: 0x%02x", byte(t))
	}
}

// NoCompressionCompressor implements core.Compressor without performing
// compression.
type NoCompressionCompressor struct{}

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func (c *NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoCompressionCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}
