package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Scheme prefixes object storage locations.
const Scheme = "s3://"

// ErrNotFound is returned when the object or bucket does not exist.
var ErrNotFound = errors.New("object not found")

// Options configures the client. Empty fields fall back to the AWS default
// chain (environment, shared config, instance metadata).
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Location is one object addressed as s3://bucket/key.
type Location struct {
	Bucket string
	Key    string
}

// IsURI reports whether s uses the s3:// scheme.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI parses s3://bucket/key. The key may be empty for prefixes.
func ParseURI(uri string) (Location, error) {
	if !IsURI(uri) {
		return Location{}, fmt.Errorf("invalid object location %q: missing %s scheme", uri, Scheme)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("invalid object location %q: empty bucket", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Join appends path elements to the location key.
func (l Location) Join(elem ...string) Location {
	parts := make([]string, 0, len(elem)+1)
	if k := strings.Trim(l.Key, "/"); k != "" {
		parts = append(parts, k)
	}
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return Location{Bucket: l.Bucket, Key: strings.Join(parts, "/")}
}

func (l Location) String() string {
	return Scheme + l.Bucket + "/" + l.Key
}

// Client wraps the S3 API client.
type Client struct {
	s3 *s3.Client
}

// NewClient creates a client from opts.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" || opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &Client{s3: client}, nil
}

// Put uploads data to loc.
func (c *Client) Put(ctx context.Context, loc Location, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(loc.Bucket),
		Key:           aws.String(loc.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put %s: %w", loc, err)
	}
	return nil
}

// Get downloads loc. A missing object yields an error wrapping ErrNotFound.
func (c *Client) Get(ctx context.Context, loc Location) ([]byte, error) {
	result, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("failed to get %s: %w", loc, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", loc, err)
	}
	defer func() { _ = result.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", loc, err)
	}
	return buf.Bytes(), nil
}

// List returns the keys under the location's key prefix.
func (c *Client) List(ctx context.Context, loc Location) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(loc.Bucket)}
	if loc.Key != "" {
		input.Prefix = aws.String(loc.Key)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", loc, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// S3-compatible services do not always map to the SDK types.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "404":
			return true
		}
	}
	return false
}
