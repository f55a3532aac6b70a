// compress.go: Gzip encoding of batch payloads
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Compressor gzip-encodes payloads. Writers are pooled and reused across
// sends; a Compressor is safe for concurrent use.
type Compressor struct {
	level int
	pool  sync.Pool
}

// NewCompressor returns a compressor using the given gzip level. Out of
// range levels fall back to gzip.DefaultCompression.
func NewCompressor(level int) *Compressor {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	c := &Compressor{level: level}
	c.pool.New = func() any {
		// level already validated, error is impossible
		zw, _ := gzip.NewWriterLevel(io.Discard, c.level)
		return zw
	}
	return c
}

// Compress returns the gzip encoding of payload.
func (c *Compressor) Compress(payload []byte) ([]byte, error) {
	zw := c.pool.Get().(*gzip.Writer)
	defer c.pool.Put(zw)

	var buf bytes.Buffer
	buf.Grow(len(payload)/4 + 64)
	zw.Reset(&buf)

	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. It is used by tests and by tooling that
// inspects captured request bodies.
func Decompress(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip body: %w", err)
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress body: %w", err)
	}
	return out, nil
}
