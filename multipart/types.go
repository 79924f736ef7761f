// Package multipart regroups a chunked byte stream into numbered parts and drives
// one multipart upload session against an object-storage backend.
package multipart

import (
	"context"
	"fmt"
	"sort"
)

// Handle identifies an open upload session on the backend.
// Bucket and Key are kept so backends that need them on every call can use them.
type Handle struct {
	Bucket   string
	Key      string
	UploadID string
}

// Part is a contiguous byte buffer with its 1-based part number.
type Part struct {
	Number int32
	Data   []byte
}

// Size ...
func (p Part) Size() int64 {
	return int64(len(p.Data))
}

// PartResult is the backend's acknowledgment of one uploaded part.
type PartResult struct {
	Number int32
	ETag   string
}

// Manifest is the ordered list of part results submitted at completion.
type Manifest []PartResult

// Sorted returns a copy of m ordered by ascending part number.
func (m Manifest) Sorted() Manifest {
	out := make(Manifest, len(m))
	copy(out, m)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Validate checks that the manifest starts at part 1 and increases by one with
// no gaps or duplicates, and that every entry carries a tag.
func (m Manifest) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("manifest is empty")
	}
	for i, r := range m {
		want := int32(i + 1)
		if r.Number != want {
			return fmt.Errorf("manifest entry %d has part number %d, expected %d", i, r.Number, want)
		}
		if r.ETag == "" {
			return fmt.Errorf("manifest entry for part %d has no ETag", r.Number)
		}
	}
	return nil
}

// Backend is the object-storage side of a multipart upload.
type Backend interface {
	// Open starts a multipart upload for bucket/key and returns its handle.
	Open(ctx context.Context, bucket, key string) (Handle, error)

	// UploadPart uploads one part and returns the backend's integrity tag.
	// Uploading the same part number again overwrites the previous attempt.
	UploadPart(ctx context.Context, h Handle, number int32, body []byte) (string, error)

	// Complete commits the upload with parts in manifest order.
	Complete(ctx context.Context, h Handle, manifest Manifest) error

	// Abort releases the session and any parts uploaded so far.
	Abort(ctx context.Context, h Handle) error
}
