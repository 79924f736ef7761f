package multipart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// State of an upload session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionConfig holds the retry policy of part uploads.
type SessionConfig struct {
	// PartRetryLimit is the maximum number of attempts per part.
	// Default: 3
	PartRetryLimit int

	// PartRetryBackoff is multiplied by the attempt number to get the wait
	// before the next attempt.
	// Default: 1 second
	PartRetryBackoff time.Duration
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PartRetryLimit:   3,
		PartRetryBackoff: time.Second,
	}
}

// Session owns the lifecycle of one multipart upload.
// Submit is safe for concurrent use; results are keyed by part number.
type Session struct {
	backend Backend
	bucket  string
	key     string
	config  SessionConfig
	logger  log.Logger
	stats   *Stats

	mu      sync.Mutex
	state   State
	handle  Handle
	results map[int32]PartResult
}

// NewSession ...
func NewSession(backend Backend, bucket, key string, config SessionConfig, logger log.Logger) *Session {
	if config.PartRetryLimit < 1 {
		config.PartRetryLimit = 1
	}
	return &Session{
		backend: backend,
		bucket:  bucket,
		key:     key,
		config:  config,
		logger:  logger,
		stats:   NewStats(),
		state:   StateIdle,
		results: map[int32]PartResult{},
	}
}

// Open starts the upload on the backend.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("open session in state %s: %w", s.state, ErrNotActive)
	}

	h, err := s.backend.Open(ctx, s.bucket, s.key)
	if err != nil {
		return &OpenError{Bucket: s.bucket, Key: s.key, Cause: err}
	}
	if h.UploadID == "" {
		return &OpenError{Bucket: s.bucket, Key: s.key, Cause: errors.New("backend returned empty upload id")}
	}

	s.handle = h
	s.state = StateActive
	s.logger.Debugf("Multipart upload opened, upload ID: %s", h.UploadID)
	return nil
}

// Submit uploads part, retrying failed attempts up to the configured limit.
// A response without ETag is fatal and not retried.
func (s *Session) Submit(ctx context.Context, part Part) (PartResult, error) {
	h, err := s.activeHandle()
	if err != nil {
		return PartResult{}, err
	}

	var uploadErr error
	for attempt := 1; attempt <= s.config.PartRetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return PartResult{}, fmt.Errorf("part %d upload cancelled: %w", part.Number, err)
		}

		s.logger.Debugf("Uploading part %d, %s (attempt %d/%d) [finished=%d] [avg=%v]",
			part.Number, units.HumanSizeWithPrecision(float64(part.Size()), 3), attempt, s.config.PartRetryLimit,
			s.stats.FinishedCount(), s.stats.Average().Round(time.Millisecond))

		start := time.Now()
		var etag string
		etag, uploadErr = s.backend.UploadPart(ctx, h, part.Number, part.Data)
		if uploadErr == nil {
			if etag == "" {
				return PartResult{}, &MissingIntegrityTagError{PartNumber: part.Number}
			}

			took := time.Since(start)
			s.stats.Update(took, part.Size())
			result := PartResult{Number: part.Number, ETag: etag}
			if err := s.record(result); err != nil {
				return PartResult{}, err
			}
			s.logger.Debugf("Part %d uploaded in %v, ETag: %s", part.Number, took.Round(time.Millisecond), etag)
			return result, nil
		}

		if ctx.Err() != nil {
			return PartResult{}, fmt.Errorf("part %d upload cancelled: %w", part.Number, ctx.Err())
		}
		if attempt == s.config.PartRetryLimit {
			break
		}

		s.stats.AddRetry()
		backoff := time.Duration(attempt) * s.config.PartRetryBackoff
		s.logger.Warnf("Part %d attempt %d failed: %s, retrying after %v", part.Number, attempt, uploadErr, backoff)
		if err := sleep(ctx, backoff); err != nil {
			return PartResult{}, fmt.Errorf("part %d upload cancelled: %w", part.Number, err)
		}
	}

	return PartResult{}, &PartUploadFailedError{
		PartNumber: part.Number,
		Attempts:   s.config.PartRetryLimit,
		Cause:      uploadErr,
	}
}

// Complete finalizes the upload with the collected results in part order.
// Once it returns nil the session is completed and can no longer be aborted.
func (s *Session) Complete(ctx context.Context) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return nil, fmt.Errorf("complete session in state %s: %w", s.state, ErrNotActive)
	}

	manifest := s.manifestLocked()
	if err := manifest.Validate(); err != nil {
		return nil, &FinalizeError{UploadID: s.handle.UploadID, Cause: err}
	}

	if err := s.backend.Complete(ctx, s.handle, manifest); err != nil {
		return nil, &FinalizeError{UploadID: s.handle.UploadID, Cause: err}
	}

	s.state = StateCompleted
	s.logger.Debugf("Multipart upload %s completed with %d parts", s.handle.UploadID, len(manifest))
	return manifest, nil
}

// Abort releases the upload on the backend. The backend is called at most once
// per session; later calls return nil.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateCompleted:
		return ErrAlreadyCompleted
	case StateAborted:
		return nil
	case StateIdle:
		s.state = StateAborted
		return nil
	}

	s.state = StateAborted
	if err := s.backend.Abort(ctx, s.handle); err != nil {
		return &AbortError{UploadID: s.handle.UploadID, Cause: err}
	}
	s.logger.Debugf("Multipart upload %s aborted", s.handle.UploadID)
	return nil
}

// State ...
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the backend handle; it is zero before Open.
func (s *Session) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Manifest returns the results collected so far, sorted by part number.
func (s *Session) Manifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifestLocked()
}

// Stats returns the upload statistics.
func (s *Session) Stats() *Stats {
	return s.stats
}

func (s *Session) activeHandle() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return Handle{}, fmt.Errorf("submit part in state %s: %w", s.state, ErrNotActive)
	}
	return s.handle, nil
}

func (s *Session) record(result PartResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A late success after abort must not resurrect the session.
	if s.state != StateActive {
		return fmt.Errorf("record part %d in state %s: %w", result.Number, s.state, ErrNotActive)
	}
	s.results[result.Number] = result
	return nil
}

func (s *Session) manifestLocked() Manifest {
	manifest := make(Manifest, 0, len(s.results))
	for _, r := range s.results {
		manifest = append(manifest, r)
	}
	return manifest.Sorted()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
