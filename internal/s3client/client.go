package s3client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/trusted-dedup/internal/logging"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// API is the subset of the S3 client used here
type API interface {
	s3.ListObjectsV2APIClient
	s3.HeadObjectAPIClient
	manager.DownloadAPIClient
}

// Client wraps the S3 client with retry logic
type Client struct {
	api        API
	downloader *manager.Downloader
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewClient creates a new S3 client wrapper
func NewClient(cfg aws.Config) *Client {
	return NewWithAPI(s3.NewFromConfig(cfg))
}

// NewWithAPI wraps an existing API implementation
func NewWithAPI(api API) *Client {
	return &Client{
		api:        api,
		downloader: manager.NewDownloader(api),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		logger:     logging.L("s3client"),
	}
}

// ListObjectsV2Pages lists objects with pagination support
func (c *Client) ListObjectsV2Pages(ctx context.Context, bucket, prefix string, fn func([]types.Object) error) error {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := withRetry(ctx, c, "ListObjectsV2", func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}

		if err := fn(page.Contents); err != nil {
			return err
		}
	}

	return nil
}

// HeadObject retrieves object metadata including its stored checksums
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	input := &s3.HeadObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		ChecksumMode: types.ChecksumModeEnabled,
	}
	return withRetry(ctx, c, "HeadObject", func() (*s3.HeadObjectOutput, error) {
		return c.api.HeadObject(ctx, input)
	})
}

// Download writes the whole object to w using ranged parallel GETs
func (c *Client) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := c.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, fmt.Errorf("download object: %w", err)
	}
	return n, nil
}

func withRetry[T any](ctx context.Context, c *Client, op string, call func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		output, err := call()
		if err == nil {
			return output, nil
		}

		// NotFound is final
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return zero, err
		}

		if !c.isRetryableError(err) {
			return zero, err
		}

		lastErr = err
		if attempt < c.maxRetries {
			delay := c.calculateDelay(attempt)
			c.logger.Debug("retrying", "op", op, "attempt", attempt+1, "delay", delay, logging.KeyError, err)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError checks if an error is retryable
func (c *Client) isRetryableError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException":
			return true
		}
		// Retry on 5xx errors
		if httpErr, ok := apiErr.(interface{ HTTPStatusCode() int }); ok {
			code := httpErr.HTTPStatusCode()
			return code >= 500 && code < 600
		}
	}
	// Also retry on network errors
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// calculateDelay calculates the retry delay with exponential backoff and jitter
func (c *Client) calculateDelay(attempt int) time.Duration {
	base := float64(c.baseDelay)
	delay := base * math.Pow(2.0, float64(attempt))

	// Add jitter (±25%)
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}

	return time.Duration(delay)
}
