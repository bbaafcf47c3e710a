package compressors

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/expirebin/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements core.Compressor using LZ4 block encoding.
// The block format does not record the original size, so the payload is
// framed as: uint32 BE original size, one flag byte (0 raw, 1
// compressed), then the block. Incompressible input is stored raw.
type LZ4Compressor struct{}

const (
	lz4FrameRaw        byte = 0
	lz4FrameCompressed byte = 1
)

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, 5+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(dst[:4], uint32(len(data)))
	n, err := lz4.CompressBlock(data, dst[5:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(data) > 0 {
		dst[4] = lz4FrameRaw
		return append(dst[:5], data...), nil
	}
	dst[4] = lz4FrameCompressed
	return dst[:5+n], nil
}

func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("lz4 payload too short: %d bytes", len(data))
	}
	size := binary.BigEndian.Uint32(data[:4])
	switch data[4] {
	case lz4FrameRaw:
		out := make([]byte, size)
		copy(out, data[5:])
		return out, nil
	case lz4FrameCompressed:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data[5:], out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress error: %w", err)
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("unknown lz4 frame flag 0x%02x", data[4])
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
