package multipart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-streamupload/internal/fakes"
	"github.com/bitrise-io/go-streamupload/multipart"
)

func fastConfig(limit int) multipart.SessionConfig {
	return multipart.SessionConfig{PartRetryLimit: limit, PartRetryBackoff: time.Millisecond}
}

func openSession(t *testing.T, backend *fakes.Backend, config multipart.SessionConfig) *multipart.Session {
	t.Helper()
	s := multipart.NewSession(backend, "bucket", "key", config, log.NewLogger())
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestSession_HappyPath(t *testing.T) {
	// Given
	backend := fakes.NewBackend()
	s := openSession(t, backend, fastConfig(3))
	require.Equal(t, multipart.StateActive, s.State())
	require.Equal(t, "upload-1", s.Handle().UploadID)

	// When
	for i, body := range []string{"first", "second", "third"} {
		result, err := s.Submit(context.Background(), multipart.Part{Number: int32(i + 1), Data: []byte(body)})
		require.NoError(t, err)
		assert.Equal(t, fakes.ETag([]byte(body)), result.ETag)
	}
	manifest, err := s.Complete(context.Background())

	// Then
	require.NoError(t, err)
	assert.Equal(t, multipart.StateCompleted, s.State())
	assert.Equal(t, backend.Manifest(), manifest)
	assert.Equal(t, "firstsecondthird", string(backend.Object()))
	assert.Equal(t, int64(3), s.Stats().FinishedCount())
	assert.Equal(t, int64(16), s.Stats().Bytes())
}

func TestSession_OpenFailure(t *testing.T) {
	backend := fakes.NewBackend()
	backend.OpenErr = errors.New("access denied")
	s := multipart.NewSession(backend, "bucket", "key", fastConfig(3), log.NewLogger())

	err := s.Open(context.Background())

	var openErr *multipart.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "bucket", openErr.Bucket)
	assert.Equal(t, multipart.StateIdle, s.State())

	_, err = s.Submit(context.Background(), multipart.Part{Number: 1, Data: []byte("x")})
	assert.ErrorIs(t, err, multipart.ErrNotActive)
}

func TestSession_RetryIsIdempotent(t *testing.T) {
	// Given: part 2 fails twice, then succeeds
	backend := fakes.NewBackend()
	backend.UploadFunc = func(_ context.Context, number int32, attempt int, body []byte) (string, error) {
		if number == 2 && attempt < 3 {
			return "", errors.New("connection reset by peer")
		}
		return fakes.ETag(body), nil
	}
	s := openSession(t, backend, fastConfig(3))

	// When
	for i, body := range []string{"aa", "bb", "cc"} {
		_, err := s.Submit(context.Background(), multipart.Part{Number: int32(i + 1), Data: []byte(body)})
		require.NoError(t, err)
	}
	manifest, err := s.Complete(context.Background())

	// Then
	require.NoError(t, err)
	assert.Equal(t, 3, backend.Attempts(2))
	assert.Equal(t, multipart.Manifest{
		{Number: 1, ETag: fakes.ETag([]byte("aa"))},
		{Number: 2, ETag: fakes.ETag([]byte("bb"))},
		{Number: 3, ETag: fakes.ETag([]byte("cc"))},
	}, manifest)
	assert.Equal(t, int64(2), s.Stats().Retries())
}

func TestSession_RetryExhaustion(t *testing.T) {
	backend := fakes.NewBackend()
	cause := errors.New("503 slow down")
	backend.UploadFunc = func(context.Context, int32, int, []byte) (string, error) {
		return "", cause
	}
	s := openSession(t, backend, fastConfig(3))

	_, err := s.Submit(context.Background(), multipart.Part{Number: 1, Data: []byte("x")})

	var failed *multipart.PartUploadFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, int32(1), failed.PartNumber)
	assert.Equal(t, 3, failed.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, backend.Attempts(1))
}

func TestSession_MissingIntegrityTagIsNotRetried(t *testing.T) {
	backend := fakes.NewBackend()
	backend.UploadFunc = func(context.Context, int32, int, []byte) (string, error) {
		return "", nil
	}
	s := openSession(t, backend, fastConfig(3))

	_, err := s.Submit(context.Background(), multipart.Part{Number: 1, Data: []byte("x")})

	var missing *multipart.MissingIntegrityTagError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, int32(1), missing.PartNumber)
	assert.Equal(t, 1, backend.Attempts(1))
}

func TestSession_SubmitCancelledDuringBackoff(t *testing.T) {
	backend := fakes.NewBackend()
	backend.UploadFunc = func(context.Context, int32, int, []byte) (string, error) {
		return "", errors.New("timeout")
	}
	s := openSession(t, backend, multipart.SessionConfig{PartRetryLimit: 5, PartRetryBackoff: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, multipart.Part{Number: 1, Data: []byte("x")})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, backend.Attempts(1))
}

func TestSession_CompleteFailure(t *testing.T) {
	backend := fakes.NewBackend()
	backend.CompleteErr = errors.New("InvalidPart")
	s := openSession(t, backend, fastConfig(1))
	_, err := s.Submit(context.Background(), multipart.Part{Number: 1, Data: []byte("x")})
	require.NoError(t, err)

	_, err = s.Complete(context.Background())

	var finalizeErr *multipart.FinalizeError
	require.ErrorAs(t, err, &finalizeErr)
	assert.Equal(t, "upload-1", finalizeErr.UploadID)
	assert.Equal(t, multipart.StateActive, s.State())
	require.NoError(t, s.Abort(context.Background()))
	_, _, aborts := backend.Calls()
	assert.Equal(t, 1, aborts)
}

func TestSession_CompleteRejectsEmptyManifest(t *testing.T) {
	backend := fakes.NewBackend()
	s := openSession(t, backend, fastConfig(1))

	_, err := s.Complete(context.Background())

	var finalizeErr *multipart.FinalizeError
	require.ErrorAs(t, err, &finalizeErr)
	_, completes, _ := backend.Calls()
	assert.Equal(t, 0, completes)
}

func TestSession_AbortIsIssuedOnce(t *testing.T) {
	backend := fakes.NewBackend()
	s := openSession(t, backend, fastConfig(1))

	require.NoError(t, s.Abort(context.Background()))
	require.NoError(t, s.Abort(context.Background()))

	_, _, aborts := backend.Calls()
	assert.Equal(t, 1, aborts)
	assert.Equal(t, multipart.StateAborted, s.State())

	_, err := s.Submit(context.Background(), multipart.Part{Number: 1, Data: []byte("x")})
	assert.ErrorIs(t, err, multipart.ErrNotActive)
}

func TestSession_AbortFailureIsReported(t *testing.T) {
	backend := fakes.NewBackend()
	backend.AbortErr = errors.New("network unreachable")
	s := openSession(t, backend, fastConfig(1))

	err := s.Abort(context.Background())

	var abortErr *multipart.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, "upload-1", abortErr.UploadID)
	assert.Equal(t, multipart.StateAborted, s.State())
}

func TestSession_NoAbortAfterComplete(t *testing.T) {
	backend := fakes.NewBackend()
	s := openSession(t, backend, fastConfig(1))
	_, err := s.Submit(context.Background(), multipart.Part{Number: 1, Data: []byte("x")})
	require.NoError(t, err)
	_, err = s.Complete(context.Background())
	require.NoError(t, err)

	err = s.Abort(context.Background())

	assert.ErrorIs(t, err, multipart.ErrAlreadyCompleted)
	_, _, aborts := backend.Calls()
	assert.Equal(t, 0, aborts)
}

func TestSession_LateSuccessAfterAbortIsDropped(t *testing.T) {
	// Given: an upload that finishes only after the session was aborted
	backend := fakes.NewBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	backend.UploadFunc = func(_ context.Context, _ int32, _ int, body []byte) (string, error) {
		close(started)
		<-release
		return fakes.ETag(body), nil
	}
	s := openSession(t, backend, fastConfig(1))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), multipart.Part{Number: 1, Data: []byte("x")})
		errCh <- err
	}()
	<-started

	// When
	require.NoError(t, s.Abort(context.Background()))
	close(release)

	// Then
	assert.ErrorIs(t, <-errCh, multipart.ErrNotActive)
	assert.Empty(t, s.Manifest())
}
