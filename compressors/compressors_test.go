package compressors

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/expirebin/core"
)

func TestForName(t *testing.T) {
	testCases := []struct {
		name     string
		wantType core.CompressionType
	}{
		{"", core.CompressionNone},
		{"none", core.CompressionNone},
		{"snappy", core.CompressionSnappy},
		{"LZ4", core.CompressionLZ4},
		{"zstd", core.CompressionZstd},
	}
	for _, tc := range testCases {
		c, err := ForName(tc.name)
		require.NoError(t, err, "name %q", tc.name)
		assert.Equal(t, tc.wantType, c.Type(), "name %q", tc.name)
	}

	_, err := ForName("gzip")
	assert.Error(t, err)
}

func TestForTypeMatchesForName(t *testing.T) {
	for _, ct := range []core.CompressionType{
		core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZstd,
	} {
		c, err := ForType(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, c.Type())
	}
	_, err := ForType(core.CompressionType(0x7F))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("expirebin payload "), 512)
	incompressible := make([]byte, 4096)
	_, err := rand.Read(incompressible)
	require.NoError(t, err)

	inputs := map[string][]byte{
		"empty":          {},
		"tiny":           []byte("x"),
		"compressible":   compressible,
		"incompressible": incompressible,
	}

	for _, name := range []string{"none", "snappy", "lz4", "zstd"} {
		c, err := ForName(name)
		require.NoError(t, err)
		for label, input := range inputs {
			t.Run(name+"/"+label, func(t *testing.T) {
				compressed, err := c.Compress(input)
				require.NoError(t, err)
				decompressed, err := c.Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, input, decompressed)
			})
		}
	}
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	input := bytes.Repeat([]byte("aaaaaaaabbbbbbbb"), 1024)
	for _, name := range []string{"snappy", "lz4", "zstd"} {
		c, err := ForName(name)
		require.NoError(t, err)
		compressed, err := c.Compress(input)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(input), "%s should shrink repetitive input", name)
	}
}

func TestLZ4RejectsMalformedFrame(t *testing.T) {
	c := NewLz4Compressor()
	_, err := c.Decompress([]byte{0, 0})
	assert.Error(t, err, "short payload")
	_, err = c.Decompress([]byte{0, 0, 0, 1, 0x7F, 0x00})
	assert.Error(t, err, "unknown frame flag")
}
