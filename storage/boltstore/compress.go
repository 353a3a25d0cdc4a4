package boltstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Stored values carry a one-byte tag ahead of the payload.
const (
	tagRaw  byte = 0
	tagZstd byte = 2
)

// Shared coders; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("boltstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("boltstore: zstd decoder initialization failed: " + err.Error())
	}
}

// pack compresses data when that makes it smaller.
func pack(data []byte) []byte {
	compressed := zstdEncoder.EncodeAll(data, []byte{tagZstd})
	if len(compressed) < len(data)+1 {
		return compressed
	}
	return append([]byte{tagRaw}, data...)
}

// unpack returns a fresh copy; bolt values are only valid inside their
// transaction.
func unpack(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch value[0] {
	case tagRaw:
		return append([]byte(nil), value[1:]...), nil
	case tagZstd:
		out, err := zstdDecoder.DecodeAll(value[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown compression tag %d", value[0])
}
