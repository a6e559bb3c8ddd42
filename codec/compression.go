package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression applied after encoding.
type Compression uint8

const (
	// CompressionNone stores the encoded bytes as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, bool) {
	switch s {
	case "", "none":
		return CompressionNone, true
	case "lz4":
		return CompressionLZ4, true
	case "zstd":
		return CompressionZSTD, true
	}
	return CompressionNone, false
}

// ErrCorrupt is returned when a compressed block cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt block")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout: [type uint8][uncompressed uint32][compressed uint32][data...].
// A compressed size of 0 means the data is stored raw.
const blockHeaderSize = 9

// CompressBlock compresses data and prefixes it with a self-describing header.
// Data that does not shrink below 90% is stored raw.
func CompressBlock(data []byte, ct Compression) ([]byte, error) {
	var compressed []byte
	switch ct {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("codec: unknown compression %d", ct)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		out[0] = byte(ct)
		binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	out[0] = byte(ct)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// DecompressBlock reverses CompressBlock.
func DecompressBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	ct := Compression(block[0])
	size := binary.LittleEndian.Uint32(block[1:])
	csize := binary.LittleEndian.Uint32(block[5:])
	body := block[blockHeaderSize:]

	if csize == 0 {
		if uint32(len(body)) < size {
			return nil, fmt.Errorf("%w: truncated", ErrCorrupt)
		}
		return body[:size], nil
	}
	if uint32(len(body)) < csize {
		return nil, fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	body = body[:csize]

	switch ct {
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(len(out)) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, ct)
	}
}

type compressed struct {
	inner Codec
	ct    Compression
}

// Compressed wraps c so that its output is block-compressed with ct.
func Compressed(c Codec, ct Compression) Codec {
	if ct == CompressionNone {
		return c
	}
	return compressed{inner: c, ct: ct}
}

func (c compressed) Marshal(v any) ([]byte, error) {
	b, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CompressBlock(b, c.ct)
}

func (c compressed) Unmarshal(data []byte, v any) error {
	b, err := DecompressBlock(data)
	if err != nil {
		return err
	}
	return c.inner.Unmarshal(b, v)
}

func (c compressed) Name() string {
	return c.inner.Name() + "+" + c.ct.String()
}
