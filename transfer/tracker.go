package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-streamupload/multipart"
	"github.com/bitrise-io/go-streamupload/source"
)

// NewTracker returns an analytics tracker tagged with the build environment.
func NewTracker(envRepo env.Repository, logger log.Logger) analytics.Tracker {
	p := analytics.Properties{
		"build_slug":  envRepo.Get("BITRISE_BUILD_SLUG"),
		"app_slug":    envRepo.Get("BITRISE_APP_SLUG"),
		"workflow":    envRepo.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		"is_pr_build": envRepo.Get("IS_PR") == "true",
	}
	return analytics.NewDefaultTracker(logger, p)
}

type transferTracker struct {
	tracker analytics.Tracker
}

func (t transferTracker) logCompleted(config Config, result *Result) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"transfer_id":       result.TransferID,
		"upload_time_s":     result.Duration.Truncate(time.Second).Seconds(),
		"upload_size_bytes": result.Bytes,
		"part_count":        result.Parts,
		"part_retries":      result.Retries,
		"concurrency":       config.MaxConcurrentPartUploads,
		"compression":       config.Compression,
	}
	t.tracker.Enqueue("stream_upload_completed", properties)
}

func (t transferTracker) logFailed(config Config, transferID string, duration time.Duration, err error) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"transfer_id":   transferID,
		"upload_time_s": duration.Truncate(time.Second).Seconds(),
		"concurrency":   config.MaxConcurrentPartUploads,
		"compression":   config.Compression,
		"error_type":    errorType(err),
		"cleanup_ok":    cleanupSucceeded(err),
	}
	t.tracker.Enqueue("stream_upload_failed", properties)
}

func errorType(err error) string {
	var (
		unavailable *source.UnavailableError
		interrupted *source.InterruptedError
		openErr     *multipart.OpenError
		missingTag  *multipart.MissingIntegrityTagError
		partErr     *multipart.PartUploadFailedError
		finalizeErr *multipart.FinalizeError
	)
	switch {
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrEmptySource):
		return "empty_source"
	case errors.As(err, &unavailable):
		return "source_unavailable"
	case errors.As(err, &interrupted):
		return "source_interrupted"
	case errors.As(err, &openErr):
		return "open_failed"
	case errors.As(err, &missingTag):
		return "missing_integrity_tag"
	case errors.As(err, &partErr):
		return "part_upload_failed"
	case errors.As(err, &finalizeErr):
		return "finalize_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func cleanupSucceeded(err error) bool {
	var transferErr *Error
	if errors.As(err, &transferErr) {
		return transferErr.AbortErr == nil
	}
	return true
}
