// Package s3 provides a store implementation backed by Amazon S3 or any
// S3-compatible object store (MinIO, Localstack, Ceph RGW).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/pkg/store"
)

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string `mapstructure:"region"`

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible
	// services).
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty the SDK default chain applies (env, shared config, IMDS).
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// KeyPrefix is prepended to all object keys (e.g. "arrays/").
	// Should end with "/" if non-empty.
	KeyPrefix string `mapstructure:"key_prefix"`

	// ForcePathStyle forces path-style addressing (required for
	// Localstack/MinIO).
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// SkipBucketCheck skips the HeadBucket probe at construction.
	SkipBucketCheck bool `mapstructure:"skip_bucket_check"`

	// MaxRetries is the number of extra delete attempts for transient
	// errors. Default: 3.
	MaxRetries int `mapstructure:"max_retries"`

	// InitialBackoff is the delay before the first retry. Default: 100ms.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the exponential backoff. Default: 5s.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// ApplyDefaults sets default values for unspecified configuration fields.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

// Store is an S3 implementation of store.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	retry     retryConfig
	closed    atomic.Bool
}

type retryConfig struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New creates an S3 store with an existing client.
func New(client *s3.Client, cfg Config) *Store {
	cfg.ApplyDefaults()
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		retry: retryConfig{
			maxRetries:     cfg.MaxRetries,
			initialBackoff: cfg.InitialBackoff,
			maxBackoff:     cfg.MaxBackoff,
		},
	}
}

// NewFromConfig creates an S3 store by building a client from config and
// probing the bucket.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	cfg.ApplyDefaults()

	log := logger.With("component", "s3_store")

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	st := New(client, cfg)

	if !cfg.SkipBucketCheck {
		log.Info("Probing S3 bucket", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
		if err := st.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("s3: bucket %q is not accessible: %w", cfg.Bucket, err)
		}
	}

	return st, nil
}

// fullKey returns the bucket key for a store key.
func (s *Store) fullKey(key string) string {
	return s.keyPrefix + key
}

// Get reads a complete object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("s3: get %q: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read object body %q: %w", key, err)
	}
	return data, nil
}

// GetRange reads a byte range using an S3 range request. S3 range headers
// carry the same semantics as ByteRange except for suffix reads of empty
// objects, which S3 rejects with InvalidRange and this adapter maps back
// to an empty result.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Range:  aws.String(rng.String()),
	})
	if err != nil {
		switch {
		case isNotFoundError(err):
			return nil, store.ErrKeyNotFound
		case isInvalidRangeError(err):
			if rng.Offset < 0 {
				return []byte{}, nil
			}
			return nil, &store.RangeError{Key: key, Offset: rng.Offset, Length: rng.Length, Size: s.objectSize(ctx, key)}
		default:
			return nil, fmt.Errorf("s3: get range %q: %w", key, err)
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read object body %q: %w", key, err)
	}
	return data, nil
}

// objectSize fetches the object size for error reporting, best effort.
func (s *Store) objectSize(ctx context.Context, key string) int64 {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil || resp.ContentLength == nil {
		return 0
	}
	return *resp.ContentLength
}

// Set writes a complete object.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("s3: put %q: %w", key, err)
	}
	return nil
}

// Delete removes an object, retrying transient errors with exponential
// backoff. Not found is success.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	var lastErr error
	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff(attempt - 1)):
			}
		}

		_, lastErr = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if lastErr == nil || isNotFoundError(lastErr) {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	return fmt.Errorf("s3: delete %q after %d attempts: %w", key, s.retry.maxRetries+1, lastErr)
}

// backoff returns the delay for a given retry attempt.
func (s *Store) backoff(attempt int) time.Duration {
	d := s.retry.initialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > s.retry.maxBackoff {
		d = s.retry.maxBackoff
	}
	return d
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return false, err
	}
	if s.closed.Load() {
		return false, store.ErrStoreClosed
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head %q: %w", key, err)
	}
	return true, nil
}

// List streams keys under a prefix via ListObjectsV2 pagination. An exact
// key match is probed separately because the S3 prefix parameter has no
// notion of path-segment boundaries.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix, err := store.NormalizePrefix(prefix)
		if err != nil {
			yield("", err)
			return
		}
		if s.closed.Load() {
			yield("", store.ErrStoreClosed)
			return
		}

		listPrefix := s.keyPrefix
		if prefix != "" {
			exists, err := s.Exists(ctx, prefix)
			if err != nil {
				yield("", fmt.Errorf("s3: list %q: %w", prefix, err))
				return
			}
			if exists && !yield(prefix, nil) {
				return
			}
			listPrefix = s.fullKey(prefix) + "/"
		}

		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(listPrefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", fmt.Errorf("s3: list %q: %w", prefix, err))
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if s.keyPrefix != "" {
					key = strings.TrimPrefix(key, s.keyPrefix)
				}
				if !yield(key, nil) {
					return
				}
			}
		}
	}
}

// SupportsPartialWrites reports that S3 objects are immutable blobs.
func (s *Store) SupportsPartialWrites() bool { return false }

// Close marks the store as closed. The underlying HTTP client is shared
// and not owned by the store.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// HealthCheck verifies the bucket is accessible with a HeadBucket call.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3: head bucket %q: %w", s.bucket, err)
	}
	return nil
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}

// isInvalidRangeError checks if an error indicates a byte range outside
// the object.
func isInvalidRangeError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
		return true
	}
	return strings.Contains(err.Error(), "InvalidRange")
}

// isRetryableError returns true if the error is transient and the
// operation should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown":
			return true
		case "InternalError", "ServiceUnavailable":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRange", "InvalidRequest":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500")
}

// Ensure Store implements the contract.
var _ store.Store = (*Store)(nil)
