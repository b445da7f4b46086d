package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
	"github.com/vertextoedge/streamcache/internal/rangeset"
	"github.com/vertextoedge/streamcache/internal/service/recovery"
)

// Provider is the consumer-facing handle of one progressively downloaded
// resource. Reads of cached bytes never wait on the network.
type Provider struct {
	id       string
	key      string
	sched    *Scheduler
	set      *rangeset.Set
	backing  port.BackingFile
	watchdog *recovery.Watchdog
	factory  *Factory
	logger   *zap.Logger

	mu                   sync.Mutex
	hint                 *Provider
	lastProviderFinished bool
	closed               bool
}

// ID returns the provider instance id used in logs and events.
func (p *Provider) ID() string {
	return p.id
}

// Key returns the resource key.
func (p *Provider) Key() string {
	return p.key
}

// Start begins downloading a provider opened without autostart.
func (p *Provider) Start() {
	p.sched.Start()
}

// RangeAvailable reports whether r is fully cached.
func (p *Provider) RangeAvailable(r domain.ByteRange) bool {
	return p.sched.RangeAvailable(r)
}

// ReadIntoBuffer copies the cached bytes of r into buf. r must be available.
func (p *Provider) ReadIntoBuffer(buf []byte, r domain.ByteRange) (int, error) {
	if p.isClosed() {
		return 0, domain.ErrProviderClosed
	}
	if r.Start < 0 || r.Length < 0 || int64(len(buf)) < r.Length {
		return 0, fmt.Errorf("%w: buffer of %d bytes for range %s", domain.ErrInvalidInput, len(buf), r)
	}
	if !p.sched.RangeAvailable(r) {
		return 0, fmt.Errorf("%w: %s", domain.ErrRangeUnavailable, r)
	}
	// Committed bytes never change, so the copy runs without the lock.
	n, err := p.backing.ReadAt(buf[:r.Length], r.Start)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == r.Length) {
		return n, fmt.Errorf("failed to read cached range %s: %w", r, err)
	}
	return n, nil
}

// RequireOffset asks for the bytes at offset to be fetched soon.
func (p *Provider) RequireOffset(offset int64) {
	p.sched.RequireOffset(offset)
}

// Status returns the download status.
func (p *Provider) Status() domain.ProviderStatus {
	return p.sched.Status()
}

// Err returns why the download failed, if it did.
func (p *Provider) Err() error {
	return p.sched.Err()
}

// IntegrityErr returns the digest mismatch found on completion, if any.
func (p *Provider) IntegrityErr() error {
	return p.sched.IntegrityErr()
}

// ExpectedLength returns the resource size or domain.UnknownLength.
func (p *Provider) ExpectedLength() int64 {
	return p.set.ExpectedLength()
}

// ReceivedLength returns the number of cached bytes.
func (p *Provider) ReceivedLength() int64 {
	return p.set.ReceivedLength()
}

// BufferingRatio returns the cached fraction, or 0 while the length is unknown.
func (p *Provider) BufferingRatio() float64 {
	expected := p.set.ExpectedLength()
	switch {
	case expected < 0:
		return 0
	case expected == 0:
		return 1
	}
	return float64(p.set.ReceivedLength()) / float64(expected)
}

// TypeHint returns the container format guessed from the response.
func (p *Provider) TypeHint() domain.TypeHint {
	return p.set.TypeHint()
}

// Digest returns the hex sha256 of the completed resource, if known.
func (p *Provider) Digest() string {
	return p.set.Digest()
}

// CachedPath returns the path of the backing file.
func (p *Provider) CachedPath() string {
	return p.backing.Name()
}

// Ranges returns the cached ranges.
func (p *Provider) Ranges() []domain.ByteRange {
	return p.set.Ranges()
}

// Notify returns a channel that receives a value after new data arrives or
// the status changes. Values coalesce.
func (p *Provider) Notify() <-chan struct{} {
	return p.sched.Notify()
}

// WaitForRange blocks until r is cached, requesting it if needed. It
// returns io.EOF when r starts at or past the end of the resource; a range
// running past the end is clipped to it.
func (p *Provider) WaitForRange(ctx context.Context, r domain.ByteRange) error {
	for {
		if p.isClosed() {
			return domain.ErrProviderClosed
		}
		changed := p.sched.Changed()

		if expected := p.set.ExpectedLength(); expected >= 0 {
			if r.Start >= expected {
				return io.EOF
			}
			r = r.Clip(expected)
		}
		if p.sched.RangeAvailable(r) {
			return nil
		}

		switch p.sched.Status() {
		case domain.StatusFailed:
			return p.sched.Err()
		case domain.StatusFinished:
			return fmt.Errorf("%w: %s", domain.ErrRangeUnavailable, r)
		}

		missing := r.Start
		if cached := p.sched.CachedRange(r.Start); !cached.IsEmpty() {
			missing = cached.End()
		}
		p.sched.RequireOffset(missing)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// WaitForLength blocks until the resource length is known or the download
// ends without learning it.
func (p *Provider) WaitForLength(ctx context.Context) (int64, error) {
	p.sched.RequireOffset(0)
	for {
		changed := p.sched.Changed()
		if n := p.set.ExpectedLength(); n >= 0 {
			return n, nil
		}
		if p.isClosed() {
			return domain.UnknownLength, domain.ErrProviderClosed
		}
		if p.sched.Status() == domain.StatusFailed {
			return domain.UnknownLength, p.sched.Err()
		}
		select {
		case <-ctx.Done():
			return domain.UnknownLength, ctx.Err()
		case <-changed:
		}
	}
}

// ReportDecodingError fails the download after the consumer could not parse
// the bytes at offset. Cached bytes are kept.
func (p *Provider) ReportDecodingError(offset int64, err error) {
	p.sched.Fail(&domain.DecodingError{Offset: offset, Err: err})
}

// SetHint prepares the provider for the resource expected to play next.
// Its metadata is loaded now; its download starts once this provider has
// finished, failed or been closed.
func (p *Provider) SetHint(ctx context.Context, key string) (*Provider, error) {
	if key == p.key {
		return nil, fmt.Errorf("%w: hint must differ from the current resource", domain.ErrInvalidInput)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrProviderClosed
	}
	old := p.hint
	if old != nil && old.key == key {
		p.mu.Unlock()
		return old, nil
	}
	p.hint = nil
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}

	next, err := p.factory.Open(ctx, key, withoutAutostart())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		next.Close()
		return nil, domain.ErrProviderClosed
	}
	p.hint = next
	p.mu.Unlock()

	if st := p.sched.Status(); st != domain.StatusReady {
		next.previousDone(st == domain.StatusFinished)
	}
	return next, nil
}

// Hint returns the prepared next provider, if any.
func (p *Provider) Hint() *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hint
}

// LastProviderIsFinished reports whether the provider this one was chained
// after has finished its download.
func (p *Provider) LastProviderIsFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastProviderFinished
}

// PromoteHint closes this provider and returns its hint, now downloading.
func (p *Provider) PromoteHint() (*Provider, error) {
	p.mu.Lock()
	next := p.hint
	p.hint = nil
	p.mu.Unlock()
	if next == nil {
		return nil, domain.ErrNoHint
	}

	finished := p.sched.Status() == domain.StatusFinished
	p.Close()
	next.previousDone(finished)
	return next, nil
}

// onTerminal starts the hint once this provider stops downloading.
func (p *Provider) onTerminal() {
	p.mu.Lock()
	next := p.hint
	p.mu.Unlock()
	if next == nil {
		return
	}
	next.previousDone(p.sched.Status() == domain.StatusFinished)
}

func (p *Provider) previousDone(finished bool) {
	p.mu.Lock()
	if finished {
		p.lastProviderFinished = true
	}
	p.mu.Unlock()
	p.sched.Start()
}

func (p *Provider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close releases the provider. The last holder of a resource stops its
// download, persists its state and closes the hint.
func (p *Provider) Close() error {
	if !p.factory.release(p) {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	next := p.hint
	p.hint = nil
	p.mu.Unlock()

	if next != nil {
		next.Close()
	}
	return p.shutdown()
}

func (p *Provider) shutdown() error {
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	p.sched.Close()

	var errs []error
	if err := p.backing.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close backing file: %w", err))
	}
	if err := p.factory.store.Release(context.Background(), p.key, false); err != nil {
		errs = append(errs, err)
	}
	p.logger.Debug("provider closed",
		zap.Int64("received", p.set.ReceivedLength()),
		zap.Stringer("status", p.sched.Status()),
	)
	return errors.Join(errs...)
}
