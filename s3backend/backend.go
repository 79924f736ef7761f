// Package s3backend implements the multipart upload backend on top of Amazon S3
// and S3-compatible object stores.
package s3backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-streamupload/multipart"
)

// S3API is the subset of the S3 client used by Backend.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// Options are applied to every object created by the backend.
type Options struct {
	ContentType     string
	ContentEncoding string
	StorageClass    string
	Metadata        map[string]string
}

// Backend ...
type Backend struct {
	client  S3API
	options Options
	logger  log.Logger
}

var _ multipart.Backend = (*Backend)(nil)

// New ...
func New(client S3API, options Options, logger log.Logger) *Backend {
	return &Backend{
		client:  client,
		options: options,
		logger:  logger,
	}
}

func (b *Backend) Open(ctx context.Context, bucket, key string) (multipart.Handle, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if b.options.ContentType != "" {
		input.ContentType = aws.String(b.options.ContentType)
	}
	if b.options.ContentEncoding != "" {
		input.ContentEncoding = aws.String(b.options.ContentEncoding)
	}
	if b.options.StorageClass != "" {
		input.StorageClass = types.StorageClass(b.options.StorageClass)
	}
	if len(b.options.Metadata) > 0 {
		input.Metadata = b.options.Metadata
	}

	out, err := b.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return multipart.Handle{}, fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := aws.ToString(out.UploadId)
	if uploadID == "" {
		return multipart.Handle{}, fmt.Errorf("create multipart upload: empty upload id")
	}

	return multipart.Handle{Bucket: bucket, Key: key, UploadID: uploadID}, nil
}

func (b *Backend) UploadPart(ctx context.Context, h multipart.Handle, number int32, body []byte) (string, error) {
	if number < 1 || number > manager.MaxUploadParts {
		return "", fmt.Errorf("part number %d out of range [1, %d]", number, manager.MaxUploadParts)
	}

	out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(h.Bucket),
		Key:           aws.String(h.Key),
		UploadId:      aws.String(h.UploadID),
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", number, err)
	}

	return aws.ToString(out.ETag), nil
}

func (b *Backend) Complete(ctx context.Context, h multipart.Handle, manifest multipart.Manifest) error {
	parts := make([]types.CompletedPart, 0, len(manifest))
	for _, r := range manifest {
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(r.ETag),
			PartNumber: aws.Int32(r.Number),
		})
	}

	out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(h.Bucket),
		Key:      aws.String(h.Key),
		UploadId: aws.String(h.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	if out != nil && out.ETag != nil {
		b.logger.Debugf("Object ETag: %s", aws.ToString(out.ETag))
	}

	return nil
}

func (b *Backend) Abort(ctx context.Context, h multipart.Handle) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(h.Bucket),
		Key:      aws.String(h.Key),
		UploadId: aws.String(h.UploadID),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			b.logger.Warnf("Upload %s is already released", h.UploadID)
			return nil
		}
		return fmt.Errorf("abort multipart upload: %w", err)
	}

	return nil
}

func isNoSuchUpload(err error) bool {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return false
	}
	switch apiError.(type) {
	case *types.NoSuchUpload:
		return true
	default:
		return apiError.ErrorCode() == "NoSuchUpload"
	}
}
