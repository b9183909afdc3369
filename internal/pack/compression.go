// internal/pack/compression.go
package pack

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionOptions configures the blob compressor.
type CompressionOptions struct {
	// Compression level (1=fastest, 4=best)
	Level int
	// Blobs larger than this are compressed through the streaming encoder
	StreamingThreshold int64
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		Level:              2,                // Balanced speed/compression
		StreamingThreshold: 50 * 1024 * 1024, // 50MB
	}
}

// compressor compresses each blob independently; encoders carry no
// dictionary between blobs.
type compressor struct {
	opts CompressionOptions

	encoders sync.Pool
	decoders sync.Pool
}

func newCompressor(opts CompressionOptions) (*compressor, error) {
	if opts.Level == 0 {
		opts.Level = DefaultCompressionOptions().Level
	}
	if opts.StreamingThreshold == 0 {
		opts.StreamingThreshold = DefaultCompressionOptions().StreamingThreshold
	}
	level := zstd.EncoderLevelFromZstd(opts.Level)

	// Fail early on bad options instead of inside the pool
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}

	c := &compressor{opts: opts}
	c.encoders.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(level),
			zstd.WithEncoderConcurrency(1),
			zstd.WithZeroFrames(true),
		)
		return enc
	}
	c.decoders.New = func() interface{} {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return dec
	}
	c.encoders.Put(enc)
	c.decoders.Put(dec)

	return c, nil
}

// compress returns the zstd frame for content.
func (c *compressor) compress(content []byte) ([]byte, error) {
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	if int64(len(content)) > c.opts.StreamingThreshold {
		return c.compressStream(enc, content)
	}
	return enc.EncodeAll(content, nil), nil
}

// compressStream handles large content compression
func (c *compressor) compressStream(enc *zstd.Encoder, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc.Reset(&buf)

	if _, err := io.Copy(enc, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("streaming compression: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}
	enc.Reset(nil)

	return buf.Bytes(), nil
}

// decompress decodes a single zstd frame.
func (c *compressor) decompress(content []byte) ([]byte, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	if int64(len(content)) > c.opts.StreamingThreshold {
		return c.decompressStream(dec, content)
	}
	return dec.DecodeAll(content, nil)
}

// decompressStream handles large content decompression
func (c *compressor) decompressStream(dec *zstd.Decoder, content []byte) ([]byte, error) {
	if err := dec.Reset(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("resetting decoder: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, fmt.Errorf("streaming decompression: %w", err)
	}

	return buf.Bytes(), nil
}
