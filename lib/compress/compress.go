// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress encodes block content for storage. Hashes are
// always computed over uncompressed bytes, so the stored encoding can
// change without affecting deduplication.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the encoding of a stored block. Tags are persisted in
// the block store; changing their values breaks existing databases.
type Tag uint8

const (
	// None stores content as-is. Used for short blocks and content
	// that does not compress.
	None Tag = 0

	// LZ4 is block-mode LZ4: fast, modest ratio.
	LZ4 Tag = 1

	// Zstd is zstd at the default level. Markdown prose and code
	// usually compress best with it.
	Zstd Tag = 2
)

// String returns the tag's configuration name.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag parses a tag from its configuration name.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// MinCompressSize is the content length below which [Auto] does not
// attempt compression.
const MinCompressSize = 64

// ErrIncompressible is returned by [Compress] when the output would not
// be smaller than the input. Callers fall back to [None].
var ErrIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress encodes data with tag. For None the input is returned
// without copying.
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None:
		return data, nil
	case LZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, ErrIncompressible
		}
		return destination[:written], nil
	case Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, ErrIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Decompress reverses [Compress]. rawSize must equal the original
// length; a mismatch is an error.
func Decompress(data []byte, tag Tag, rawSize int) ([]byte, error) {
	switch tag {
	case None:
		if len(data) != rawSize {
			return nil, fmt.Errorf("uncompressed block: size %d does not match expected %d", len(data), rawSize)
		}
		return data, nil
	case LZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil
	case Zstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Auto compresses with preferred, falling back to None for short or
// incompressible content. Returns the stored bytes and the tag used.
func Auto(data []byte, preferred Tag) ([]byte, Tag, error) {
	if preferred == None || len(data) < MinCompressSize {
		return data, None, nil
	}
	compressed, err := Compress(data, preferred)
	if errors.Is(err, ErrIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, preferred, nil
}
