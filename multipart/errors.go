package multipart

import (
	"errors"
	"fmt"
)

// ErrNotActive is returned when an operation needs an active session.
var ErrNotActive = errors.New("upload session is not active")

// ErrAlreadyCompleted is returned by Abort once the session was completed.
// No abort is sent to the backend in that case.
var ErrAlreadyCompleted = errors.New("upload session already completed")

// OpenError ...
type OpenError struct {
	Bucket string
	Key    string
	Cause  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open multipart upload for s3://%s/%s: %s", e.Bucket, e.Key, e.Cause)
}

func (e *OpenError) Unwrap() error {
	return e.Cause
}

// MissingIntegrityTagError means the backend acknowledged a part without an ETag.
type MissingIntegrityTagError struct {
	PartNumber int32
}

func (e *MissingIntegrityTagError) Error() string {
	return fmt.Sprintf("part %d: no ETag in upload response", e.PartNumber)
}

// PartUploadFailedError is returned once a part exhausted its attempts.
type PartUploadFailedError struct {
	PartNumber int32
	Attempts   int
	Cause      error
}

func (e *PartUploadFailedError) Error() string {
	return fmt.Sprintf("upload part %d failed after %d attempts: %s", e.PartNumber, e.Attempts, e.Cause)
}

func (e *PartUploadFailedError) Unwrap() error {
	return e.Cause
}

// FinalizeError ...
type FinalizeError struct {
	UploadID string
	Cause    error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("complete multipart upload %s: %s", e.UploadID, e.Cause)
}

func (e *FinalizeError) Unwrap() error {
	return e.Cause
}

// AbortError reports a failed abort. It never replaces the error that
// triggered the abort.
type AbortError struct {
	UploadID string
	Cause    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort multipart upload %s: %s", e.UploadID, e.Cause)
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}
