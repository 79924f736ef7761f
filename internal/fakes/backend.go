// Package fakes provides in-memory collaborators for pipeline tests.
package fakes

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-streamupload/multipart"
)

// UploadFunc decides the outcome of one part upload attempt. attempt is 1-based
// per part number. Returning an empty tag with a nil error simulates a backend
// that drops the ETag.
type UploadFunc func(ctx context.Context, number int32, attempt int, body []byte) (string, error)

// Backend is an in-memory multipart.Backend that records every call.
type Backend struct {
	OpenErr     error
	CompleteErr error
	AbortErr    error
	UploadFunc  UploadFunc

	mu            sync.Mutex
	nextID        int
	openCalls     int
	completeCalls int
	abortCalls    int
	attempts      map[int32]int
	parts         map[int32][]byte
	manifest      multipart.Manifest
	inFlight      int
	maxInFlight   int
}

// NewBackend ...
func NewBackend() *Backend {
	return &Backend{
		attempts: map[int32]int{},
		parts:    map[int32][]byte{},
	}
}

// Open ...
func (b *Backend) Open(_ context.Context, bucket, key string) (multipart.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.openCalls++
	if b.OpenErr != nil {
		return multipart.Handle{}, b.OpenErr
	}
	b.nextID++
	return multipart.Handle{Bucket: bucket, Key: key, UploadID: fmt.Sprintf("upload-%d", b.nextID)}, nil
}

// UploadPart ...
func (b *Backend) UploadPart(ctx context.Context, _ multipart.Handle, number int32, body []byte) (string, error) {
	b.mu.Lock()
	b.attempts[number]++
	attempt := b.attempts[number]
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	etag := ETag(body)
	if b.UploadFunc != nil {
		var err error
		etag, err = b.UploadFunc(ctx, number, attempt, body)
		if err != nil {
			return "", err
		}
	}

	b.mu.Lock()
	b.parts[number] = append([]byte(nil), body...)
	b.mu.Unlock()
	return etag, nil
}

// Complete ...
func (b *Backend) Complete(_ context.Context, _ multipart.Handle, manifest multipart.Manifest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.completeCalls++
	if b.CompleteErr != nil {
		return b.CompleteErr
	}
	b.manifest = append(multipart.Manifest(nil), manifest...)
	return nil
}

// Abort ...
func (b *Backend) Abort(_ context.Context, _ multipart.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.abortCalls++
	return b.AbortErr
}

// Calls returns the number of open, complete and abort calls.
func (b *Backend) Calls() (open, complete, abort int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openCalls, b.completeCalls, b.abortCalls
}

// Attempts returns how many times part number was uploaded.
func (b *Backend) Attempts(number int32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[number]
}

// MaxInFlight returns the highest number of concurrent UploadPart calls seen.
func (b *Backend) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight
}

// Manifest returns the manifest passed to the last successful Complete.
func (b *Backend) Manifest() multipart.Manifest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.manifest
}

// PartSizes returns the size of each stored part in manifest order.
func (b *Backend) PartSizes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	sizes := make([]int, 0, len(b.manifest))
	for _, r := range b.manifest {
		sizes = append(sizes, len(b.parts[r.Number]))
	}
	return sizes
}

// Object returns the committed object: the stored parts concatenated in
// manifest order. It is nil when Complete never succeeded.
func (b *Backend) Object() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manifest == nil {
		return nil
	}
	var buf bytes.Buffer
	for _, r := range b.manifest {
		buf.Write(b.parts[r.Number])
	}
	return buf.Bytes()
}

// ETag returns the quoted MD5 hex digest of body, the way S3 tags parts.
func ETag(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
