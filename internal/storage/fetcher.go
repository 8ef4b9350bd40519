// Package storage downloads source documents from object storage or plain
// HTTP(S) URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"studyrag/internal/retry"
)

var (
	ErrTooLarge          = errors.New("file exceeds maximum size")
	ErrObjectNotFound    = errors.New("object not found")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrDownloadFailed    = errors.New("download failed")
)

// S3API is the subset of the S3 client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewS3Client builds a client from the default AWS chain, overridden by
// static credentials and a custom endpoint when provided.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

type Fetcher struct {
	s3       S3API
	http     *http.Client
	maxBytes int64
	policy   retry.Policy
}

func NewFetcher(s3Client S3API, httpClient *http.Client, maxBytes int64, policy retry.Policy) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{s3: s3Client, http: httpClient, maxBytes: maxBytes, policy: policy}
}

// Fetch downloads rawURL. s3://bucket/key goes through the S3 API, http and
// https through a plain GET. Missing objects, client errors and oversized
// bodies are not retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	var op func() ([]byte, error)
	switch strings.ToLower(u.Scheme) {
	case "s3":
		if f.s3 == nil {
			return nil, fmt.Errorf("%w: s3 not configured", ErrUnsupportedScheme)
		}
		bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("%w: malformed s3 url %q", ErrDownloadFailed, rawURL)
		}
		op = func() ([]byte, error) { return f.fetchS3(ctx, bucket, key) }
	case "http", "https":
		op = func() ([]byte, error) { return f.fetchHTTP(ctx, rawURL) }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	data, err := retry.DoValue(ctx, f.policy, op)
	if err != nil {
		slog.ErrorContext(ctx, "download failed", "url", u.Redacted(), "error", err)
		return nil, err
	}
	slog.InfoContext(ctx, "downloaded source", "scheme", u.Scheme, "bytes", len(data))
	return data, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, retry.Permanent(fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key))
		}
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && f.maxBytes > 0 && *out.ContentLength > f.maxBytes {
		return nil, retry.Permanent(ErrTooLarge)
	}
	return f.readLimited(out.Body)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(ErrObjectNotFound)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, retry.Permanent(fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, retry.Permanent(ErrTooLarge)
	}
	return f.readLimited(resp.Body)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, retry.Permanent(ErrTooLarge)
	}
	return data, nil
}
