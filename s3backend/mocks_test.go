package s3backend

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/mock"
)

type mockS3API struct {
	mock.Mock
}

func (_m *mockS3API) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	ret := _m.Called(ctx, params)

	var r0 *s3.CreateMultipartUploadOutput
	if v, ok := ret.Get(0).(*s3.CreateMultipartUploadOutput); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (_m *mockS3API) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	ret := _m.Called(ctx, params)

	var r0 *s3.UploadPartOutput
	if v, ok := ret.Get(0).(*s3.UploadPartOutput); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (_m *mockS3API) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	ret := _m.Called(ctx, params)

	var r0 *s3.CompleteMultipartUploadOutput
	if v, ok := ret.Get(0).(*s3.CompleteMultipartUploadOutput); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (_m *mockS3API) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	ret := _m.Called(ctx, params)

	var r0 *s3.AbortMultipartUploadOutput
	if v, ok := ret.Get(0).(*s3.AbortMultipartUploadOutput); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}
