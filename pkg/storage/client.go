// Package storage downloads APOD image bytes over HTTP, optionally preferring
// an anonymous S3 mirror bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/hasher"
	"github.com/apod-desktop/apod/pkg/security"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 API used for mirror downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client downloads images
type Client struct {
	httpClient *http.Client
	validator  *security.Validator

	s3Client ObjectGetter
	bucket   string
}

// NewClient creates an HTTP image downloader.
func NewClient(timeout time.Duration, validator *security.Validator) *Client {
	slog.Info("image_client_init", "timeout", timeout)
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		validator:  validator,
	}
}

// WithMirror configures an anonymous S3 mirror that is tried before HTTP.
// Objects are looked up by the URL path without its leading slash.
func (c *Client) WithMirror(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	c.s3Client = s3.NewFromConfig(cfg)
	c.bucket = bucket

	slog.Info("s3_client_created", "bucket", bucket)
	return c, nil
}

// WithObjectGetter sets the mirror client directly.
func (c *Client) WithObjectGetter(getter ObjectGetter, bucket string) *Client {
	c.s3Client = getter
	c.bucket = bucket
	return c
}

// DownloadResult contains downloaded bytes and metadata
type DownloadResult struct {
	Data   []byte
	SHA256 string
	Size   int64
	Source string // "s3" or "http"
}

// Download fetches imageURL, from the mirror when configured and holding the
// object, otherwise over HTTP.
func (c *Client) Download(ctx context.Context, imageURL string) (*DownloadResult, error) {
	slog.Info("image_download_start", "url", imageURL)

	if c.s3Client != nil {
		result, err := c.downloadFromMirror(ctx, imageURL)
		if err == nil {
			return result, nil
		}
		slog.Warn("s3_mirror_miss", "url", imageURL, "bucket", c.bucket, "error", err)
	}

	return c.downloadHTTP(ctx, imageURL)
}

func (c *Client) downloadHTTP(ctx context.Context, imageURL string) (*DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build image request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("image_download_failed", "url", imageURL, "error", err)
		return nil, errors.Wrap(err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("image_download_bad_status", "url", imageURL, "status", resp.StatusCode)
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	return c.read(resp.Body, imageURL, "http")
}

func (c *Client) downloadFromMirror(ctx context.Context, imageURL string) (*DownloadResult, error) {
	key, err := MirrorKey(imageURL)
	if err != nil {
		return nil, err
	}

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	return c.read(result.Body, imageURL, "s3")
}

// read buffers the body, enforcing the size limit while reading.
func (c *Client) read(body io.Reader, imageURL, source string) (*DownloadResult, error) {
	limit := int64(0)
	if c.validator != nil {
		limit = c.validator.MaxImageSize()
	}
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}

	var buf bytes.Buffer
	size, err := io.Copy(&buf, body)
	if err != nil {
		slog.Error("image_read_failed", "url", imageURL, "error", err)
		return nil, errors.Wrap(err, "failed to read image body")
	}

	if c.validator != nil {
		if err := c.validator.ValidateImageSize(size); err != nil {
			return nil, err
		}
		if err := c.validator.ValidateImageContent(buf.Bytes()); err != nil {
			return nil, err
		}
	}

	checksum := hasher.Hash(buf.Bytes())

	slog.Info("image_download_complete",
		"url", imageURL,
		"source", source,
		"size_kb", size/1024,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		Data:   buf.Bytes(),
		SHA256: checksum,
		Size:   size,
		Source: source,
	}, nil
}

// MirrorKey maps an image URL to its object key in the mirror bucket.
func MirrorKey(imageURL string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid image url")
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("image url %q has no path", imageURL)
	}
	return key, nil
}
