// Package codec compresses persisted artifacts (vector index blobs) with a
// one-byte algorithm tag so readers never need to know the writer's setting.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a block compression algorithm.
type Compression uint8

const (
	None Compression = 0
	LZ4  Compression = 1
	ZSTD Compression = 2
)

const headerSize = 5

// Parse maps a configuration name to a Compression.
func Parse(name string) (Compression, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	}
	return None, fmt.Errorf("codec: unknown compression %q", name)
}

func (c Compression) String() string {
	switch c {
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	}
	return "none"
}

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

// Encode compresses data. Format: [algorithm uint8][uncompressed size uint32][payload].
// Incompressible input is stored as-is with the None tag.
func Encode(c Compression, data []byte) ([]byte, error) {
	var payload []byte
	switch c {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4: %w", err)
		}
		if n > 0 {
			payload = buf[:n]
		}
	case ZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("codec: unsupported compression %d", c)
	}
	if payload == nil || len(payload) >= len(data) {
		c, payload = None, data
	}
	out := make([]byte, headerSize+len(payload))
	out[0] = byte(c)
	binary.LittleEndian.PutUint32(out[1:headerSize], uint32(len(data)))
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode reverses Encode.
func Decode(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errors.New("codec: truncated header")
	}
	size := int(binary.LittleEndian.Uint32(data[1:headerSize]))
	payload := data[headerSize:]
	switch Compression(data[0]) {
	case None:
		if len(payload) != size {
			return nil, fmt.Errorf("codec: size mismatch %d != %d", len(payload), size)
		}
		return append([]byte(nil), payload...), nil
	case LZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4: %w", err)
		}
		return out[:n], nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("codec: zstd: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("codec: unknown compression tag %d", data[0])
}
