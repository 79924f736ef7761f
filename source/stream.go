// Package source turns a pull-based byte source into a finite sequence of chunks.
package source

import (
	"context"
	"errors"
	"io"
)

// DefaultChunkSize is the read buffer size of streams created without one.
const DefaultChunkSize = 64 * 1024

// Stream is a lazy, finite sequence of chunks.
type Stream interface {
	// Next returns the next chunk, or io.EOF once the source is exhausted.
	// The returned slice is only valid until the next call.
	Next() ([]byte, error)

	// Close releases the underlying connection. It is safe to call more than once.
	Close() error
}

// Fetcher opens a Stream for a resource locator.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Stream, error)
}

type readerStream struct {
	body   io.ReadCloser
	buf    []byte
	read   int64
	done   bool
	closed bool
}

// NewReaderStream adapts body into a Stream reading up to chunkSize bytes per chunk.
func NewReaderStream(body io.ReadCloser, chunkSize int) Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &readerStream{
		body: body,
		buf:  make([]byte, chunkSize),
	}
}

func (s *readerStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		n, err := s.body.Read(s.buf)
		s.read += int64(n)

		if err != nil && !errors.Is(err, io.EOF) {
			s.done = true
			return nil, &InterruptedError{BytesRead: s.read, Cause: err}
		}
		if errors.Is(err, io.EOF) {
			s.done = true
		}
		if n > 0 {
			return s.buf[:n], nil
		}
		if s.done {
			return nil, io.EOF
		}
	}
}

func (s *readerStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
