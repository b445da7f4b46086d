// Package httpfetch fetches byte ranges of http(s) resources.
package httpfetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
)

// Config contains optional fetcher configuration
type Config struct {
	UserAgent             string
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	BufferSizeKB          int // Read buffer and chunk size in KB (default: 64)
	SkipTLSVerify         bool
}

// DefaultConfig returns the default fetcher configuration
func DefaultConfig() Config {
	return Config{
		UserAgent:             "streamcache/1.0",
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       120 * time.Second,
		BufferSizeKB:          64,
	}
}

// Fetcher performs ranged GET requests
type Fetcher struct {
	client    *http.Client
	userAgent string
	chunkSize int
}

// Ensure Fetcher implements port.RangeFetcher
var _ port.RangeFetcher = (*Fetcher)(nil)

// New creates a fetcher with its own transport
func New(cfg Config) *Fetcher {
	def := DefaultConfig()
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.BufferSizeKB <= 0 {
		cfg.BufferSizeKB = def.BufferSizeKB
	}
	bufferSize := cfg.BufferSizeKB * 1024

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ReadBufferSize:      bufferSize,
		ForceAttemptHTTP2:   true,

		// Audio is already compressed, and byte offsets must match the resource
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	return NewWithClient(&http.Client{Transport: transport}, cfg)
}

// NewWithClient creates a fetcher using client
func NewWithClient(client *http.Client, cfg Config) *Fetcher {
	chunk := cfg.BufferSizeKB * 1024
	if chunk <= 0 {
		chunk = DefaultConfig().BufferSizeKB * 1024
	}
	return &Fetcher{client: client, userAgent: cfg.UserAgent, chunkSize: chunk}
}

// Fetch requests req and streams the body to h.
// A 200 response to a range request means the server ignores ranges; the
// whole body is then delivered from offset zero.
func (f *Fetcher) Fetch(ctx context.Context, req port.FetchRequest, h port.FetchHandler) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Key, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	ranged := req.Offset > 0 || req.Length >= 0
	if ranged {
		httpReq.Header.Set("Range", RangeHeader(req.Offset, req.Length))
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewNetworkError(req.Key, 0, err)
	}
	defer resp.Body.Close()

	info := port.ResourceInfo{
		TotalLength: domain.UnknownLength,
		ContentType: resp.Header.Get("Content-Type"),
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return domain.NewNetworkError(req.Key, resp.StatusCode, err)
		}
		info.TotalLength = total
		info.SupportsRange = true
		info.Offset = start

	case http.StatusOK:
		if resp.ContentLength >= 0 {
			info.TotalLength = resp.ContentLength
		}
		info.SupportsRange = !ranged && strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")

	case http.StatusRequestedRangeNotSatisfiable:
		// The offset is at or past the end; the header still tells the length.
		_, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return domain.NewNetworkError(req.Key, resp.StatusCode, errors.New(resp.Status))
		}
		info.TotalLength = total
		info.SupportsRange = true
		info.Offset = req.Offset
		h.OnInfo(info)
		return nil

	default:
		netErr := domain.NewNetworkError(req.Key, resp.StatusCode, errors.New(resp.Status))
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok && netErr.Retryable() {
			return domain.NewRetryableError(netErr, d)
		}
		return netErr
	}

	h.OnInfo(info)
	return CopyBody(ctx, req.Key, resp.Body, info.Offset, f.chunkSize, h)
}

// CopyBody delivers body to h in chunks of at most chunkSize bytes,
// starting at offset.
func CopyBody(ctx context.Context, key string, body io.Reader, offset int64, chunkSize int, h port.FetchHandler) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if hErr := h.OnData(offset, buf[:n]); hErr != nil {
				return hErr
			}
			offset += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.NewNetworkError(key, 0, err)
		}
	}
}

// RangeHeader formats a Range header value. A negative length requests
// everything from offset.
func RangeHeader(offset, length int64) string {
	if length < 0 {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// ParseContentRange parses "bytes start-end/total" and "bytes */total".
// total is domain.UnknownLength for "*".
func ParseContentRange(v string) (start, total int64, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", v)
	}
	span, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", v)
	}

	total = domain.UnknownLength
	if size != "*" {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil || total < 0 {
			return 0, 0, fmt.Errorf("invalid content range total %q", v)
		}
	}

	if span == "*" {
		if total < 0 {
			return 0, 0, fmt.Errorf("invalid content range %q", v)
		}
		return total, total, nil
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", v)
	}
	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("invalid content range start %q", v)
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start || (total >= 0 && end >= total) {
		return 0, 0, fmt.Errorf("invalid content range end %q", v)
	}
	return start, total, nil
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0), true
	}
	return 0, false
}
