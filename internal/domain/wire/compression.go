package wire

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressionThreshold is the minimum payload size worth attempting to
// compress.
const compressionThreshold = 1024

// compressionRatio is the minimum reduction required to keep a compressed
// payload over the original.
const compressionRatio = 0.8

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		var err error
		encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("wire: failed to create zstd encoder: %v", err))
		}
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		var err error
		decoder, err = zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("wire: failed to create zstd decoder: %v", err))
		}
	})
	return decoder
}

// MaybeCompress wraps payload in a [1 byte codec][4 byte original size]
// envelope when both peers negotiated CapCompression, the payload is large
// enough, and compression actually shrinks it. It reports whether the
// envelope was applied so the caller can set FlagCompressed.
func MaybeCompress(payload []byte, negotiatedCaps uint32) ([]byte, bool) {
	if negotiatedCaps&CapCompression == 0 || len(payload) < compressionThreshold {
		return payload, false
	}

	compressed := getEncoder().EncodeAll(payload, nil)
	if float64(len(compressed)) >= float64(len(payload))*compressionRatio {
		return payload, false
	}

	envelope := make([]byte, 5+len(compressed))
	envelope[0] = 1
	binary.LittleEndian.PutUint32(envelope[1:5], uint32(len(payload)))
	copy(envelope[5:], compressed)
	return envelope, true
}

// Decompress reverses MaybeCompress. Callers only invoke it when
// FlagCompressed is set on the frame.
func Decompress(payload []byte) ([]byte, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("wire: compressed payload too short: %d bytes", len(payload))
	}

	codec := payload[0]
	originalSize := binary.LittleEndian.Uint32(payload[1:5])
	body := payload[5:]

	if codec != 1 {
		return nil, fmt.Errorf("wire: unknown compression codec %d", codec)
	}

	out, err := getDecoder().DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: zstd decompression failed: %w", err)
	}
	if uint32(len(out)) != originalSize {
		return nil, fmt.Errorf("wire: decompressed size mismatch: expected %d, got %d", originalSize, len(out))
	}
	return out, nil
}
