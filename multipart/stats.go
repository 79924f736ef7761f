package multipart

import (
	"sync"
	"time"
)

// Stats tracks part upload metrics of one session.
type Stats struct {
	sum           time.Duration
	finishedParts int64
	bytes         int64
	retries       int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful part upload.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedParts++
	s.bytes += size
}

// AddRetry records one failed attempt that was retried.
func (s *Stats) AddRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

// Average returns the average upload duration of finished parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedParts == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedParts)
}

// FinishedCount returns the number of uploaded parts.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedParts
}

// Bytes returns the number of bytes in uploaded parts.
func (s *Stats) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Retries ...
func (s *Stats) Retries() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}
