package core

// CompressionType identifies a record payload compression codec.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0x00
	CompressionSnappy CompressionType = 0x01
	CompressionLZ4    CompressionType = 0x02
	CompressionZstd   CompressionType = 0x03
)

// Compressor compresses record payloads before they reach the host
// store's value log and restores them on the way back.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() CompressionType
}
