package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitrise-io/go-streamupload/compression"
	"github.com/bitrise-io/go-streamupload/keytemplate"
	"github.com/bitrise-io/go-streamupload/multipart"
	"github.com/bitrise-io/go-streamupload/s3backend"
	"github.com/bitrise-io/go-streamupload/source"
	"github.com/bitrise-io/go-streamupload/transfer"
)

const envPrefix = "STREAMUP"

type options struct {
	Transfer transfer.Config
	Client   s3backend.ClientParams
	Object   s3backend.Options

	ChunkSize       int
	SourceRetries   int
	TransferRetries int
	RetryWait       time.Duration
	Analytics       bool
	Verbose         bool
}

type runner interface {
	Run(ctx context.Context, config transfer.Config) (*transfer.Result, error)
}

func newRootCommand() *cobra.Command {
	cmd, _ := newCommand()
	return cmd
}

func newCommand() (*cobra.Command, *viper.Viper) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := transfer.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "streamup",
		Short: "Stream an HTTP resource into an S3 object",
		Long: `streamup downloads a resource over HTTP and uploads it to S3 as a multipart
upload while it is being downloaded. The object is only created when every
part was uploaded; failed transfers leave nothing behind.

Every flag can also be set with an environment variable, e.g.
--min-part-size as STREAMUP_MIN_PART_SIZE.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, v)
		},
	}

	f := cmd.Flags()
	f.String("source-url", "", "URL of the resource to transfer")
	f.String("bucket", "", "Destination bucket")
	f.String("key", "", "Destination object key. May be a template using {{ .SourceName }}, {{ .SourceHost }}, {{ .Date }}, {{ .Timestamp }} and {{ getenv \"VAR\" }}")
	f.String("min-part-size", "5MiB", "Part size threshold; every part but the last is at least this large")
	f.Int("max-concurrent-part-uploads", defaults.MaxConcurrentPartUploads, "Maximum number of part uploads in flight")
	f.Int("part-retry-limit", defaults.PartRetryLimit, "Maximum number of attempts per part")
	f.Duration("part-retry-backoff", defaults.PartRetryBackoff, "Backoff unit between part attempts, multiplied by the attempt number")
	f.String("chunk-size", "64KiB", "Read size on the source body")
	f.String("compression", "", "Encode the object on the fly, one of: zstd")
	f.Int("compression-level", defaults.CompressionLevel, "zstd compression level (1-19)")
	f.Duration("abort-timeout", defaults.AbortTimeout, "Time limit of the cleanup after a failed transfer")
	f.String("content-type", "application/octet-stream", "Content type of the object")
	f.String("storage-class", "", "S3 storage class of the object")
	f.String("region", "us-east-1", "S3 region")
	f.String("endpoint", "", "Endpoint of an S3 compatible store")
	f.Bool("path-style", false, "Use path style bucket addressing")
	f.Int("source-retries", 0, "Retries of the source request before any byte was received")
	f.Int("transfer-retries", 0, "Retries of the whole transfer after a transient failure")
	f.Duration("retry-wait", 5*time.Second, "Wait between whole transfer retries")
	f.Bool("analytics", false, "Send transfer analytics events")
	f.Bool("verbose", false, "Enable debug logging")

	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}

	return cmd, v
}

func runCommand(cmd *cobra.Command, v *viper.Viper) error {
	logger := log.NewLogger()
	envRepo := env.NewRepository()

	opts, err := loadOptions(cmd, v, envRepo)
	if err != nil {
		return err
	}
	logger.EnableDebugLog(opts.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key, err := evaluateKey(opts.Transfer.Key, opts.Transfer.SourceURL, envRepo, logger)
	if err != nil {
		return err
	}
	opts.Transfer.Key = key

	if err := opts.Transfer.Validate(); err != nil {
		return err
	}

	client, err := s3backend.NewClient(ctx, opts.Client, logger)
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}
	backend := s3backend.New(client, opts.Object, logger)
	fetcher := source.NewHTTPFetcher(source.HTTPFetcherConfig{
		ChunkSize: opts.ChunkSize,
		RetryMax:  opts.SourceRetries,
	}, logger)

	var tracker analytics.Tracker
	if opts.Analytics {
		tracker = transfer.NewTracker(envRepo, logger)
		defer tracker.Wait()
	}

	pipeline := transfer.New(fetcher, backend, logger, tracker)
	_, err = runWithRetry(ctx, pipeline, opts.Transfer, opts.TransferRetries, opts.RetryWait, logger)
	return err
}

func loadOptions(cmd *cobra.Command, v *viper.Viper, envRepo env.Repository) (options, error) {
	f := newFlagLoader(cmd, v)

	minPartSize, err := f.Size("min-part-size")
	if err != nil {
		return options{}, err
	}
	chunkSize, err := f.Size("chunk-size")
	if err != nil {
		return options{}, err
	}

	config := transfer.Config{
		Bucket:                   f.String("bucket"),
		Key:                      f.String("key"),
		SourceURL:                f.String("source-url"),
		MinPartSizeBytes:         minPartSize,
		MaxConcurrentPartUploads: f.Int("max-concurrent-part-uploads"),
		PartRetryLimit:           f.Int("part-retry-limit"),
		PartRetryBackoff:         f.Duration("part-retry-backoff"),
		Compression:              f.String("compression"),
		CompressionLevel:         f.Int("compression-level"),
		AbortTimeout:             f.Duration("abort-timeout"),
	}

	return options{
		Transfer: config,
		Client: s3backend.ClientParams{
			Region:          f.String("region"),
			AccessKeyID:     envRepo.Get("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: envRepo.Get("AWS_SECRET_ACCESS_KEY"),
			Endpoint:        f.String("endpoint"),
			UsePathStyle:    f.Bool("path-style"),
		},
		Object: s3backend.Options{
			ContentType:     f.String("content-type"),
			ContentEncoding: compression.ContentEncoding(config.Compression),
			StorageClass:    f.String("storage-class"),
		},
		ChunkSize:       int(chunkSize),
		SourceRetries:   f.Int("source-retries"),
		TransferRetries: f.Int("transfer-retries"),
		RetryWait:       f.Duration("retry-wait"),
		Analytics:       f.Bool("analytics"),
		Verbose:         f.Bool("verbose"),
	}, nil
}

func evaluateKey(key, sourceURL string, envRepo env.Repository, logger log.Logger) (string, error) {
	if !keytemplate.IsTemplate(key) {
		return key, nil
	}
	evaluated, err := keytemplate.NewModel(envRepo, logger).Evaluate(key, sourceURL)
	if err != nil {
		return "", fmt.Errorf("evaluate key template: %w", err)
	}
	logger.Printf("Object key: %s", evaluated)
	return evaluated, nil
}

// runWithRetry re-runs the whole transfer on transient failures. Every attempt
// fetches the source again and opens a new upload session.
func runWithRetry(ctx context.Context, r runner, config transfer.Config, retries int, wait time.Duration, logger log.Logger) (*transfer.Result, error) {
	if retries < 0 {
		retries = 0
	}

	var result *transfer.Result
	err := retry.Times(uint(retries)).Wait(wait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			logger.Warnf("Retrying transfer (attempt %d/%d)", attempt+1, retries+1)
		}

		var err error
		result, err = r.Run(ctx, config)
		if err == nil {
			return nil, true
		}

		logger.Errorf("Transfer failed: %s", err)
		if ctx.Err() != nil || isPermanent(err) {
			return err, true
		}
		return err, false
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// isPermanent reports whether re-running the transfer cannot succeed.
func isPermanent(err error) bool {
	var (
		unavailable *source.UnavailableError
		missingTag  *multipart.MissingIntegrityTagError
	)
	switch {
	case errors.Is(err, transfer.ErrInvalidConfig), errors.Is(err, transfer.ErrEmptySource):
		return true
	case errors.As(err, &missingTag):
		return true
	case errors.As(err, &unavailable):
		return unavailable.Permanent()
	default:
		return false
	}
}
