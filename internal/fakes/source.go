package fakes

import (
	"context"
	"io"
	"sync"

	"github.com/bitrise-io/go-streamupload/source"
)

// Stream yields preset chunks, then Err (or io.EOF when Err is nil).
type Stream struct {
	Chunks [][]byte
	Err    error
	// Stall makes Next block after the last chunk until the fetch context
	// is done.
	Stall bool

	mu     sync.Mutex
	ctx    context.Context
	pos    int
	pulled int
	closed int
}

// Chunked splits data into chunks of chunkSize bytes.
func Chunked(data []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// Next ...
func (s *Stream) Next() ([]byte, error) {
	s.mu.Lock()
	if s.pos < len(s.Chunks) {
		chunk := s.Chunks[s.pos]
		s.pos++
		s.pulled++
		s.mu.Unlock()
		return chunk, nil
	}
	ctx := s.ctx
	s.mu.Unlock()

	if s.Stall && ctx != nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return nil, io.EOF
}

// Close ...
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Pulled returns the number of chunks handed out.
func (s *Stream) Pulled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled
}

// Closed returns how many times Close was called.
func (s *Stream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fetcher returns Stream, or Err without a stream.
type Fetcher struct {
	Stream *Stream
	Err    error

	mu   sync.Mutex
	urls []string
}

// Fetch ...
func (f *Fetcher) Fetch(ctx context.Context, url string) (source.Stream, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	f.Stream.mu.Lock()
	f.Stream.ctx = ctx
	f.Stream.mu.Unlock()
	return f.Stream, nil
}

// URLs returns the fetched locators.
func (f *Fetcher) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}
