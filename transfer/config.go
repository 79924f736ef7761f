package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"

	"github.com/bitrise-io/go-streamupload/compression"
	"github.com/bitrise-io/go-streamupload/multipart"
)

// ErrInvalidConfig is returned by Config.Validate and Pipeline.Run for unusable settings.
var ErrInvalidConfig = errors.New("invalid transfer config")

// Config describes one transfer.
type Config struct {
	Bucket    string
	Key       string
	SourceURL string

	// MinPartSizeBytes is the size at which buffered bytes are emitted as a part.
	// Every part but the last is at least this large.
	// Default: 5 MiB
	MinPartSizeBytes int64

	// MaxConcurrentPartUploads bounds the part uploads in flight.
	// Default: 1
	MaxConcurrentPartUploads int

	// PartRetryLimit is the maximum number of attempts per part.
	// Default: 3
	PartRetryLimit int

	// PartRetryBackoff is multiplied by the attempt number to get the wait
	// before the next attempt.
	// Default: 1 second
	PartRetryBackoff time.Duration

	// Compression is either empty or "zstd".
	Compression string

	// CompressionLevel is the zstd level, 1-19.
	// Default: 3
	CompressionLevel int

	// AbortTimeout bounds the cleanup call after a failure. Cleanup runs even
	// when the transfer context is already cancelled.
	// Default: 30 seconds
	AbortTimeout time.Duration
}

// DefaultConfig returns the default configuration without destination and source.
func DefaultConfig() Config {
	session := multipart.DefaultSessionConfig()
	return Config{
		MinPartSizeBytes:         manager.MinUploadPartSize,
		MaxConcurrentPartUploads: 1,
		PartRetryLimit:           session.PartRetryLimit,
		PartRetryBackoff:         session.PartRetryBackoff,
		CompressionLevel:         compression.DefaultLevel,
		AbortTimeout:             30 * time.Second,
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket must not be empty", ErrInvalidConfig)
	}
	if c.Key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidConfig)
	}
	if c.SourceURL == "" {
		return fmt.Errorf("%w: source url must not be empty", ErrInvalidConfig)
	}
	if c.MinPartSizeBytes <= 0 {
		return fmt.Errorf("%w: min part size must be positive, got %d", ErrInvalidConfig, c.MinPartSizeBytes)
	}
	if c.MaxConcurrentPartUploads < 1 {
		return fmt.Errorf("%w: max concurrent part uploads must be at least 1, got %d", ErrInvalidConfig, c.MaxConcurrentPartUploads)
	}
	if c.PartRetryLimit < 1 {
		return fmt.Errorf("%w: part retry limit must be at least 1, got %d", ErrInvalidConfig, c.PartRetryLimit)
	}
	if c.PartRetryBackoff < 0 {
		return fmt.Errorf("%w: part retry backoff must not be negative", ErrInvalidConfig)
	}
	if c.Compression != "" && c.Compression != compression.Zstd {
		return fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, c.Compression)
	}
	if c.AbortTimeout <= 0 {
		return fmt.Errorf("%w: abort timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c Config) sessionConfig() multipart.SessionConfig {
	return multipart.SessionConfig{
		PartRetryLimit:   c.PartRetryLimit,
		PartRetryBackoff: c.PartRetryBackoff,
	}
}
