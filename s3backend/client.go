package s3backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ClientParams ...
type ClientParams struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint points the client at an S3-compatible store instead of AWS.
	Endpoint     string
	UsePathStyle bool
}

// NewClient builds an S3 client from the default credential chain,
// or from static credentials when both keys are given.
func NewClient(ctx context.Context, params ClientParams, logger log.Logger) (*s3.Client, error) {
	cfg, err := loadAWSConfig(ctx, params, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return s3.NewFromConfig(*cfg, clientOptions(params)...), nil
}

func loadAWSConfig(ctx context.Context, params ClientParams, logger log.Logger) (*aws.Config, error) {
	if params.Region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
	}

	if params.AccessKeyID != "" && params.SecretAccessKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %w", err)
	}

	return &cfg, nil
}

func clientOptions(params ClientParams) []func(*s3.Options) {
	var opts []func(*s3.Options)
	if params.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(params.Endpoint)
		})
	}
	if params.UsePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return opts
}
