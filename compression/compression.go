// Package compression wraps a chunk stream with on-the-fly zstd encoding.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/bitrise-io/go-streamupload/source"
)

// Zstd is the Config.Compression value that enables zstd encoding.
const Zstd = "zstd"

// DefaultLevel ...
const DefaultLevel = 3

// ContentEncoding returns the HTTP content encoding for the compression name.
func ContentEncoding(name string) string {
	if name == Zstd {
		return "zstd"
	}
	return ""
}

// lockedBuffer guards the encoder output; the encoder may write from its own goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return out
}

type zstdStream struct {
	src     source.Stream
	out     *lockedBuffer
	encoder *zstd.Encoder
	eof     bool
	done    bool
}

// NewZstdStream returns a stream yielding the zstd encoding of src.
// level follows the zstd command line levels (1-19).
func NewZstdStream(src source.Stream, level int) (source.Stream, error) {
	if level <= 0 {
		level = DefaultLevel
	}
	out := &lockedBuffer{}
	encoder, err := zstd.NewWriter(out,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	return &zstdStream{
		src:     src,
		out:     out,
		encoder: encoder,
	}, nil
}

func (s *zstdStream) Next() ([]byte, error) {
	for {
		if chunk := s.out.take(); chunk != nil {
			return chunk, nil
		}
		if s.done {
			return nil, io.EOF
		}
		if s.eof {
			if err := s.encoder.Close(); err != nil {
				return nil, fmt.Errorf("close zstd writer: %w", err)
			}
			s.done = true
			continue
		}

		chunk, err := s.src.Next()
		if errors.Is(err, io.EOF) {
			s.eof = true
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := s.encoder.Write(chunk); err != nil {
			return nil, fmt.Errorf("zstd encode: %w", err)
		}
	}
}

func (s *zstdStream) Close() error {
	if !s.done {
		s.done = true
		// Releases the encoder; the output is discarded at this point.
		_ = s.encoder.Close()
	}
	return s.src.Close()
}
