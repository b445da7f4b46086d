// Package s3fetch fetches byte ranges of s3://bucket/key resources.
package s3fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vertextoedge/streamcache/internal/adapter/httpfetch"
	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
)

// Scheme is the URL scheme served by this fetcher
const Scheme = "s3"

const defaultChunkSize = 64 * 1024

// API is the subset of the S3 client used for fetching
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds S3 client settings
type Config struct {
	Region       string
	Profile      string
	Endpoint     string
	UsePathStyle bool
}

// Fetcher performs ranged GetObject requests
type Fetcher struct {
	client    API
	chunkSize int
}

// Ensure Fetcher implements port.RangeFetcher
var _ port.RangeFetcher = (*Fetcher)(nil)

// New creates a fetcher using client
func New(client API) *Fetcher {
	return &Fetcher{client: client, chunkSize: defaultChunkSize}
}

// NewFromConfig loads the default AWS configuration and creates a fetcher
func NewFromConfig(ctx context.Context, cfg Config) (*Fetcher, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return New(client), nil
}

// ParseKey splits s3://bucket/key into bucket and object key
func ParseKey(key string) (bucket, object string, err error) {
	u, err := url.Parse(key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("%w: %q is not an s3 url", domain.ErrUnsupportedScheme, key)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and a key", domain.ErrInvalidInput, key)
	}
	return u.Host, object, nil
}

// Fetch requests req with a ranged GetObject and streams the body to h.
func (f *Fetcher) Fetch(ctx context.Context, req port.FetchRequest, h port.FetchHandler) error {
	bucket, object, err := ParseKey(req.Key)
	if err != nil {
		return err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	}
	if req.Offset > 0 || req.Length >= 0 {
		input.Range = aws.String(httpfetch.RangeHeader(req.Offset, req.Length))
	}

	out, err := f.client.GetObject(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			if re.HTTPStatusCode() == http.StatusRequestedRangeNotSatisfiable {
				if total, ok := unsatisfiableLength(re, req.Offset); ok {
					h.OnInfo(port.ResourceInfo{TotalLength: total, SupportsRange: true, Offset: req.Offset})
					return nil
				}
			}
			return domain.NewNetworkError(req.Key, re.HTTPStatusCode(), err)
		}
		return domain.NewNetworkError(req.Key, 0, err)
	}
	defer out.Body.Close()

	info := port.ResourceInfo{
		TotalLength:   domain.UnknownLength,
		SupportsRange: true,
		ContentType:   aws.ToString(out.ContentType),
	}
	if cr := aws.ToString(out.ContentRange); cr != "" {
		start, total, err := httpfetch.ParseContentRange(cr)
		if err != nil {
			return domain.NewNetworkError(req.Key, 0, err)
		}
		info.Offset = start
		info.TotalLength = total
	} else if out.ContentLength != nil {
		// Whole object
		info.TotalLength = *out.ContentLength
	}

	h.OnInfo(info)
	return httpfetch.CopyBody(ctx, req.Key, out.Body, info.Offset, f.chunkSize, h)
}

// unsatisfiableLength recovers the object length from an InvalidRange reply.
// A range starting at zero is only unsatisfiable for an empty object.
func unsatisfiableLength(re *awshttp.ResponseError, offset int64) (int64, bool) {
	if re.ResponseError != nil && re.Response != nil && re.Response.Response != nil {
		if _, total, err := httpfetch.ParseContentRange(re.Response.Header.Get("Content-Range")); err == nil && total >= 0 {
			return total, true
		}
	}
	if offset == 0 {
		return 0, true
	}
	return 0, false
}
