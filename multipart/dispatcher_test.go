package multipart_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-streamupload/internal/fakes"
	"github.com/bitrise-io/go-streamupload/multipart"
)

func TestDispatcher_BoundsInFlightUploads(t *testing.T) {
	// Given
	backend := fakes.NewBackend()
	backend.UploadFunc = func(_ context.Context, _ int32, _ int, body []byte) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return fakes.ETag(body), nil
	}
	s := openSession(t, backend, fastConfig(1))
	d := multipart.NewDispatcher(context.Background(), s, 3)

	// When
	for i := 1; i <= 12; i++ {
		require.NoError(t, d.Dispatch(multipart.Part{Number: int32(i), Data: []byte(fmt.Sprintf("part-%02d", i))}))
	}
	require.NoError(t, d.Wait())
	manifest, err := s.Complete(context.Background())

	// Then
	require.NoError(t, err)
	assert.LessOrEqual(t, backend.MaxInFlight(), 3)
	require.Len(t, manifest, 12)
	for i, r := range manifest {
		assert.Equal(t, int32(i+1), r.Number)
	}
}

func TestDispatcher_SequentialByDefault(t *testing.T) {
	backend := fakes.NewBackend()
	s := openSession(t, backend, fastConfig(1))
	d := multipart.NewDispatcher(context.Background(), s, 0)

	for i := 1; i <= 4; i++ {
		require.NoError(t, d.Dispatch(multipart.Part{Number: int32(i), Data: []byte("x")}))
	}
	require.NoError(t, d.Wait())

	assert.Equal(t, 1, backend.MaxInFlight())
}

func TestDispatcher_StopsAfterFailure(t *testing.T) {
	// Given: part 1 fails permanently, the others block until cancelled
	backend := fakes.NewBackend()
	backend.UploadFunc = func(ctx context.Context, number int32, _ int, body []byte) (string, error) {
		if number == 1 {
			return "", errors.New("access denied")
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	s := openSession(t, backend, fastConfig(1))
	d := multipart.NewDispatcher(context.Background(), s, 2)

	// When
	require.NoError(t, d.Dispatch(multipart.Part{Number: 1, Data: []byte("a")}))
	var dispatchErr error
	for i := 2; i <= 10 && dispatchErr == nil; i++ {
		dispatchErr = d.Dispatch(multipart.Part{Number: int32(i), Data: []byte("b")})
	}
	waitErr := d.Wait()

	// Then
	var failed *multipart.PartUploadFailedError
	require.ErrorAs(t, dispatchErr, &failed)
	assert.Equal(t, int32(1), failed.PartNumber)
	assert.ErrorAs(t, waitErr, &failed)
}

func TestDispatcher_CancelStopsInFlightUploads(t *testing.T) {
	backend := fakes.NewBackend()
	started := make(chan struct{}, 2)
	backend.UploadFunc = func(ctx context.Context, _ int32, _ int, _ []byte) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}
	s := openSession(t, backend, fastConfig(1))
	d := multipart.NewDispatcher(context.Background(), s, 2)
	require.NoError(t, d.Dispatch(multipart.Part{Number: 1, Data: []byte("a")}))
	require.NoError(t, d.Dispatch(multipart.Part{Number: 2, Data: []byte("b")}))
	<-started
	<-started

	d.Cancel()
	err := d.Wait()

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_ParentCancellation(t *testing.T) {
	backend := fakes.NewBackend()
	s := openSession(t, backend, fastConfig(1))
	ctx, cancel := context.WithCancel(context.Background())
	d := multipart.NewDispatcher(ctx, s, 1)

	cancel()
	err := d.Dispatch(multipart.Part{Number: 1, Data: []byte("a")})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_ReportsFailureFreeingTheSlot(t *testing.T) {
	// Given: a single slot held by part 1 until it is released to fail
	backend := fakes.NewBackend()
	release := make(chan struct{})
	backend.UploadFunc = func(_ context.Context, number int32, _ int, body []byte) (string, error) {
		if number == 1 {
			<-release
			return "", nil
		}
		return fakes.ETag(body), nil
	}
	s := openSession(t, backend, fastConfig(1))
	d := multipart.NewDispatcher(context.Background(), s, 1)
	require.NoError(t, d.Dispatch(multipart.Part{Number: 1, Data: []byte("a")}))
	require.NoError(t, d.Err())

	// When: part 2 waits for the slot while part 1 fails
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	err := d.Dispatch(multipart.Part{Number: 2, Data: []byte("b")})

	// Then
	var missingTag *multipart.MissingIntegrityTagError
	require.ErrorAs(t, err, &missingTag)
	assert.Equal(t, int32(1), missingTag.PartNumber)
	assert.ErrorAs(t, d.Err(), &missingTag)
	assert.Equal(t, 0, backend.Attempts(2))
	assert.Error(t, d.Context().Err())
}
