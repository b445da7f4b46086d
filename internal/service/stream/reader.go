package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vertextoedge/streamcache/internal/domain"
)

// Reader reads a provider front to back, blocking until the bytes it needs
// have been downloaded.
type Reader struct {
	ctx context.Context
	p   *Provider
	off int64
}

var _ io.ReadSeeker = (*Reader)(nil)

// NewReader returns a blocking reader positioned at offset zero. ctx bounds
// every wait.
func (p *Provider) NewReader(ctx context.Context) *Reader {
	return &Reader{ctx: ctx, p: p}
}

// Read reads whatever is cached at the current offset, waiting for at
// least one byte.
func (r *Reader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if err := r.p.WaitForRange(r.ctx, domain.ByteRange{Start: r.off, Length: 1}); err != nil {
		return 0, err
	}

	cached := r.p.sched.CachedRange(r.off)
	n := min(int64(len(b)), cached.Length)
	if n <= 0 {
		return 0, fmt.Errorf("%w: offset %d", domain.ErrRangeUnavailable, r.off)
	}
	read, err := r.p.ReadIntoBuffer(b[:n], domain.ByteRange{Start: r.off, Length: n})
	r.off += int64(read)
	return read, err
}

// Seek sets the offset for the next Read. Seeking relative to the end waits
// until the resource length is known.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		size, err := r.p.WaitForLength(r.ctx)
		if err != nil {
			if errors.Is(err, domain.ErrProviderClosed) {
				return 0, err
			}
			return 0, fmt.Errorf("resource length unknown: %w", err)
		}
		abs = size + offset
	default:
		return 0, fmt.Errorf("%w: whence %d", domain.ErrInvalidInput, whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("%w: negative position %d", domain.ErrInvalidInput, abs)
	}
	r.off = abs
	return abs, nil
}
