// Package transfer streams a remote resource into a multipart object upload.
//
// A transfer pulls chunks from a source.Stream, regroups them into parts with a
// multipart.Accumulator and uploads the parts through a multipart.Session.
// The object exists at the destination key if and only if Run returns nil.
// Any failure after the session was opened aborts it exactly once.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/bitrise-io/go-streamupload/compression"
	"github.com/bitrise-io/go-streamupload/multipart"
	"github.com/bitrise-io/go-streamupload/source"
)

// Result describes a completed transfer.
type Result struct {
	TransferID string
	Bucket     string
	Key        string
	UploadID   string
	// Parts is the number of parts in the committed manifest.
	Parts int
	// Bytes is the committed object size.
	Bytes    int64
	Retries  int64
	Manifest multipart.Manifest
	Duration time.Duration
}

// Pipeline runs transfers. It holds no per-transfer state, so one Pipeline may
// run several transfers concurrently.
type Pipeline struct {
	fetcher source.Fetcher
	backend multipart.Backend
	logger  log.Logger
	tracker transferTracker
}

// New creates a pipeline. tracker may be nil.
func New(fetcher source.Fetcher, backend multipart.Backend, logger log.Logger, tracker analytics.Tracker) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		backend: backend,
		logger:  logger,
		tracker: transferTracker{tracker: tracker},
	}
}

// Run moves the resource at config.SourceURL to config.Bucket/config.Key.
func (p *Pipeline) Run(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	transferID := uuid.NewString()
	start := time.Now()

	result, err := p.run(ctx, config, transferID)
	duration := time.Since(start)
	if err != nil {
		p.tracker.logFailed(config, transferID, duration, err)
		return nil, err
	}

	result.Duration = duration
	p.tracker.logCompleted(config, result)
	p.logger.Donef("Uploaded %s to s3://%s/%s in %d parts (%v)",
		units.HumanSizeWithPrecision(float64(result.Bytes), 3), result.Bucket, result.Key, result.Parts, duration.Round(time.Millisecond))
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, config Config, transferID string) (*Result, error) {
	p.logger.Infof("Transfer %s: %s -> s3://%s/%s", transferID, config.SourceURL, config.Bucket, config.Key)

	// The source is read on its own context so a failed upload can interrupt
	// a pending read.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	stream, err := p.openStream(streamCtx, config)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			p.logger.Warnf("close source: %s", err)
		}
	}()

	session := multipart.NewSession(p.backend, config.Bucket, config.Key, config.sessionConfig(), p.logger)
	if err := session.Open(ctx); err != nil {
		return nil, err
	}

	accumulator := multipart.NewAccumulator(config.MinPartSizeBytes)
	dispatcher := multipart.NewDispatcher(ctx, session, config.MaxConcurrentPartUploads)
	stopWatch := context.AfterFunc(dispatcher.Context(), cancelStream)
	defer stopWatch()

	if err := pump(ctx, stream, accumulator, dispatcher); err != nil {
		// Stop in-flight uploads and let them return before releasing the session.
		dispatcher.Cancel()
		_ = dispatcher.Wait()
		return nil, p.fail(ctx, config, session, err)
	}

	if accumulator.PartsEmitted() == 0 {
		p.logger.Warnf("Source %s is empty, aborting upload", config.SourceURL)
		return nil, p.fail(ctx, config, session, ErrEmptySource)
	}

	manifest, err := session.Complete(ctx)
	if err != nil {
		return nil, p.fail(ctx, config, session, err)
	}

	return &Result{
		TransferID: transferID,
		Bucket:     config.Bucket,
		Key:        config.Key,
		UploadID:   session.Handle().UploadID,
		Parts:      len(manifest),
		Bytes:      accumulator.BytesSeen(),
		Retries:    session.Stats().Retries(),
		Manifest:   manifest,
	}, nil
}

func (p *Pipeline) openStream(ctx context.Context, config Config) (source.Stream, error) {
	stream, err := p.fetcher.Fetch(ctx, config.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	if config.Compression != compression.Zstd {
		return stream, nil
	}

	encoded, err := compression.NewZstdStream(stream, config.CompressionLevel)
	if err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			p.logger.Warnf("close source: %s", closeErr)
		}
		return nil, err
	}
	return encoded, nil
}

// pump pulls the stream to its end, dispatching parts as they fill up, and
// waits for every dispatched upload. It stops pulling as soon as an upload
// failed.
func pump(ctx context.Context, stream source.Stream, accumulator *multipart.Accumulator, dispatcher *multipart.Dispatcher) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dispatcher.Err(); err != nil {
			return err
		}

		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A read interrupted by a failed upload reports the upload failure.
			if uploadErr := dispatcher.Err(); uploadErr != nil {
				return uploadErr
			}
			return err
		}

		if part, ok := accumulator.Add(chunk); ok {
			if err := dispatcher.Dispatch(part); err != nil {
				return err
			}
		}
	}

	if part, ok := accumulator.Flush(); ok {
		if err := dispatcher.Dispatch(part); err != nil {
			return err
		}
	}

	return dispatcher.Wait()
}

// fail aborts the session and returns cause together with any cleanup failure.
func (p *Pipeline) fail(ctx context.Context, config Config, session *multipart.Session, cause error) error {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.AbortTimeout)
	defer cancel()

	abortErr := session.Abort(abortCtx)
	if abortErr != nil {
		p.logger.Errorf("Failed to abort upload %s: %s", session.Handle().UploadID, abortErr)
	} else {
		p.logger.Warnf("Upload %s aborted: %s", session.Handle().UploadID, cause)
	}

	return &Error{Cause: cause, AbortErr: abortErr}
}
