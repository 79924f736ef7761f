package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBodySize = 1024

// HTTPFetcherConfig ...
type HTTPFetcherConfig struct {
	// ChunkSize is the read buffer size of returned streams.
	// Default: 64 KiB
	ChunkSize int

	// RetryMax is the number of retries of the initial request, before any
	// byte of the body was read. The body itself is never re-fetched.
	// Default: 0
	RetryMax int
}

// HTTPFetcher issues GET requests and streams the response body.
type HTTPFetcher struct {
	client *retryablehttp.Client
	config HTTPFetcherConfig
	logger log.Logger
}

// NewHTTPFetcher ...
func NewHTTPFetcher(config HTTPFetcherConfig, logger log.Logger) *HTTPFetcher {
	client := retryhttp.NewClient(logger)
	client.RetryMax = config.RetryMax
	client.CheckRetry = createCustomRetryFunction(logger)
	// Keep the last response so a failing status is reported as such.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return NewHTTPFetcherWithClient(client, config, logger)
}

// NewHTTPFetcherWithClient uses client as is.
func NewHTTPFetcherWithClient(client *retryablehttp.Client, config HTTPFetcherConfig, logger log.Logger) *HTTPFetcher {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	return &HTTPFetcher{
		client: client,
		config: config,
		logger: logger,
	}
}

// Fetch requests url and returns its body as a Stream. A non-2xx status fails
// with *UnavailableError before any chunk is produced.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Stream, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	f.logger.Debugf("GET %s", url)
	resp, err := f.client.Do(req)
	if err != nil && resp == nil {
		return nil, &UnavailableError{URL: url, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func(body io.ReadCloser) {
			if err := body.Close(); err != nil {
				f.logger.Warnf("close response body: %s", err)
			}
		}(resp.Body)
		return nil, unwrapError(url, resp)
	}

	if resp.ContentLength >= 0 {
		f.logger.Debugf("Source responded %d, content length: %d", resp.StatusCode, resp.ContentLength)
	} else {
		f.logger.Debugf("Source responded %d, content length unknown", resp.StatusCode)
	}

	return NewReaderStream(resp.Body, f.config.ChunkSize), nil
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, fetchErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, fetchErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; fetchErr=%+v", retry, err, fetchErr)
		return retry, err
	}
}

func unwrapError(url string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return &UnavailableError{URL: url, StatusCode: resp.StatusCode, Cause: err}
	}
	return &UnavailableError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
}
