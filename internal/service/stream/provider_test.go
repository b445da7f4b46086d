package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/adapter/filesystem"
	"github.com/vertextoedge/streamcache/internal/cache"
	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
	"github.com/vertextoedge/streamcache/internal/service/recovery"
)

const hintKey = "https://media.example.com/next.flac"

// keyedFetcher routes each resource key to its own fetcher
type keyedFetcher map[string]port.RangeFetcher

func (k keyedFetcher) Fetch(ctx context.Context, req port.FetchRequest, h port.FetchHandler) error {
	return k[req.Key].Fetch(ctx, req, h)
}

// failingFetcher fails the test if anything is fetched
type failingFetcher struct {
	t *testing.T
}

func (f failingFetcher) Fetch(ctx context.Context, req port.FetchRequest, h port.FetchHandler) error {
	f.t.Errorf("unexpected fetch %+v", req)
	return domain.NewNetworkError(req.Key, 404, nil)
}

func newTestStore(t *testing.T, dir string) *cache.Store {
	t.Helper()
	fs, err := filesystem.NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return cache.NewStore(fs, cache.Config{}, zap.NewNop())
}

func newTestFactory(t *testing.T, dir string, fetcher port.RangeFetcher, cfg Config) *Factory {
	t.Helper()
	if cfg.Scheduler.MaxRequestLength == 0 {
		cfg.Scheduler = testConfig(4096)
	}
	f := NewFactory(newTestStore(t, dir), fetcher, nil, cfg, zap.NewNop())
	t.Cleanup(f.CloseAll)
	return f
}

func openProvider(t *testing.T, f *Factory, key string, opts ...OpenOption) *Provider {
	t.Helper()
	p, err := f.Open(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", key, err)
	}
	return p
}

func waitProviderStatus(t *testing.T, p *Provider, want domain.ProviderStatus) {
	t.Helper()
	waitFor(t, "provider status "+want.String(), func() bool { return p.Status() == want })
}

func TestProvider_ReadsWholeResource(t *testing.T) {
	origin := &originFetcher{size: 10_000, chunk: 1_000}
	f := newTestFactory(t, t.TempDir(), origin, Config{})
	p := openProvider(t, f, testKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := io.ReadAll(p.NewReader(ctx))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, content(0, 10_000)) {
		t.Fatal("read bytes differ from the origin")
	}

	waitProviderStatus(t, p, domain.StatusFinished)
	if got := p.BufferingRatio(); got != 1 {
		t.Errorf("BufferingRatio() = %v, want 1", got)
	}
	if got := p.TypeHint(); got != domain.TypeMP3 {
		t.Errorf("TypeHint() = %v, want mp3", got)
	}
	waitFor(t, "digest", func() bool { return p.Digest() != "" })
	if got := p.Digest(); got != digestOf(content(0, 10_000)) {
		t.Errorf("Digest() = %s, want digest of the origin", got)
	}
	if _, err := os.Stat(p.CachedPath()); err != nil {
		t.Errorf("cached file missing: %v", err)
	}
}

func TestProvider_ReadIntoBuffer(t *testing.T) {
	fetcher := newControlFetcher()
	f := newTestFactory(t, t.TempDir(), fetcher, Config{})
	p := openProvider(t, f, testKey)

	c := fetcher.next(t)
	c.info(1_000)
	c.send(t, 0, 100)

	tests := []struct {
		name    string
		buf     int
		r       domain.ByteRange
		wantErr error
	}{
		{name: "cached", buf: 50, r: domain.NewByteRange(10, 60)},
		{name: "empty range", buf: 0, r: domain.ByteRange{Start: 500}},
		{name: "not cached", buf: 50, r: domain.NewByteRange(80, 130), wantErr: domain.ErrRangeUnavailable},
		{name: "buffer too small", buf: 10, r: domain.NewByteRange(0, 50), wantErr: domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.buf)
			n, err := p.ReadIntoBuffer(buf, tt.r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadIntoBuffer() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if int64(n) != tt.r.Length {
				t.Errorf("ReadIntoBuffer() = %d, want %d", n, tt.r.Length)
			}
			if !bytes.Equal(buf[:n], content(tt.r.Start, tt.r.Length)) {
				t.Error("ReadIntoBuffer() returned wrong bytes")
			}
		})
	}
}

func TestProvider_WaitForRange(t *testing.T) {
	fetcher := newControlFetcher()
	f := newTestFactory(t, t.TempDir(), fetcher, Config{})
	p := openProvider(t, f, testKey)

	c := fetcher.next(t)
	c.info(1_000)

	if err := p.WaitForRange(context.Background(), domain.NewByteRange(1_000, 1_100)); !errors.Is(err, io.EOF) {
		t.Errorf("WaitForRange() past the end error = %v, want io.EOF", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.WaitForRange(ctx, domain.NewByteRange(0, 10)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForRange() error = %v, want DeadlineExceeded", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.WaitForRange(context.Background(), domain.NewByteRange(900, 1_200))
	}()
	c.send(t, 0, 1_000)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForRange() clipped to the end error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForRange() did not return after the data arrived")
	}
}

func TestProvider_ReaderSeek(t *testing.T) {
	origin := &originFetcher{size: 5_000, chunk: 512}
	f := newTestFactory(t, t.TempDir(), origin, Config{})
	p := openProvider(t, f, testKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := p.NewReader(ctx)

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil || size != 5_000 {
		t.Fatalf("Seek(0, SeekEnd) = %d, %v, want 5000", size, err)
	}
	if _, err := r.Seek(3_000, io.SeekStart); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	buf := make([]byte, 100)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if !bytes.Equal(buf, content(3_000, 100)) {
		t.Error("read after seek returned wrong bytes")
	}
	if pos, _ := r.Seek(0, io.SeekCurrent); pos != 3_100 {
		t.Errorf("position = %d, want 3100", pos)
	}
	if _, err := r.Seek(-1, io.SeekStart); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Seek(-1) error = %v, want ErrInvalidInput", err)
	}
}

func TestProvider_ResumesAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	fetcher := newControlFetcher()
	f1 := NewFactory(newTestStore(t, dir), fetcher, nil, Config{Scheduler: testConfig(4096)}, zap.NewNop())
	p1 := openProvider(t, f1, testKey)
	c := fetcher.next(t)
	c.info(2_000)
	c.send(t, 0, 800)
	if err := p1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	origin := &originFetcher{size: 2_000, chunk: 300}
	f2 := newTestFactory(t, dir, origin, Config{})
	p2 := openProvider(t, f2, testKey)
	if got := p2.ReceivedLength(); got != 800 {
		t.Errorf("ReceivedLength() after reopen = %d, want 800", got)
	}
	waitProviderStatus(t, p2, domain.StatusFinished)
	if got := origin.requests[0].Offset; got != 800 {
		t.Errorf("first request offset = %d, want 800", got)
	}
	waitFor(t, "digest", func() bool { return p2.Digest() != "" })
	if got := p2.Digest(); got != digestOf(content(0, 2_000)) {
		t.Errorf("Digest() = %s, want digest of the whole resource", got)
	}
	p2.Close()

	// Fully cached: nothing is fetched.
	f3 := newTestFactory(t, dir, failingFetcher{t: t}, Config{})
	p3 := openProvider(t, f3, testKey)
	waitProviderStatus(t, p3, domain.StatusFinished)
	if !p3.RangeAvailable(domain.NewByteRange(0, 2_000)) {
		t.Error("RangeAvailable() = false for a completed resource")
	}
}

func TestProvider_CompletedResourceKeepsStoredDigest(t *testing.T) {
	dir := t.TempDir()
	want := digestOf(content(0, 2_000))

	f1 := newTestFactory(t, dir, &originFetcher{size: 2_000, chunk: 500}, Config{})
	p1 := openProvider(t, f1, testKey)
	waitProviderStatus(t, p1, domain.StatusFinished)
	waitFor(t, "digest", func() bool { return p1.Digest() != "" })
	path := p1.CachedPath()
	if err := p1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Damage the cached bytes behind the sidecar's back.
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := file.WriteAt([]byte{0xde, 0xad, 0xbe}, 100); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	file.Close()

	f2 := newTestFactory(t, dir, failingFetcher{t: t}, Config{})
	p2 := openProvider(t, f2, testKey)
	waitProviderStatus(t, p2, domain.StatusFinished)
	if got := p2.Digest(); got != want {
		t.Errorf("Digest() after reopen = %s, want stored %s", got, want)
	}
	if err := p2.IntegrityErr(); err != nil {
		t.Errorf("IntegrityErr() = %v, want nil", err)
	}
}

func TestFactory_SharesLiveProvider(t *testing.T) {
	f := newTestFactory(t, t.TempDir(), newControlFetcher(), Config{})

	p1 := openProvider(t, f, testKey)
	p2 := openProvider(t, f, testKey)
	if p1 != p2 {
		t.Fatal("Open() twice returned different providers")
	}
	if got := f.Live(); got != 1 {
		t.Errorf("Live() = %d, want 1", got)
	}

	p1.Close()
	if _, ok := f.Lookup(testKey); !ok {
		t.Error("provider released while still referenced")
	}
	p2.Close()
	if got := f.Live(); got != 0 {
		t.Errorf("Live() = %d, want 0", got)
	}
	if _, err := p2.ReadIntoBuffer(make([]byte, 1), domain.ByteRange{Start: 0, Length: 1}); !errors.Is(err, domain.ErrProviderClosed) {
		t.Errorf("ReadIntoBuffer() after Close() error = %v, want ErrProviderClosed", err)
	}
}

func TestProvider_HintChaining(t *testing.T) {
	current := newControlFetcher()
	next := &originFetcher{size: 3_000, chunk: 1_000}
	f := newTestFactory(t, t.TempDir(), keyedFetcher{testKey: current, hintKey: next}, Config{})

	p := openProvider(t, f, testKey)
	c := current.next(t)

	if _, err := p.SetHint(context.Background(), testKey); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("SetHint(own key) error = %v, want ErrInvalidInput", err)
	}
	hint, err := p.SetHint(context.Background(), hintKey)
	if err != nil {
		t.Fatalf("SetHint() error = %v", err)
	}
	if p.Hint() != hint {
		t.Error("Hint() does not return the hint")
	}
	if hint.sched.Started() || next.requestCount() != 0 {
		t.Fatal("hint started downloading before the current resource finished")
	}
	if hint.LastProviderIsFinished() {
		t.Error("LastProviderIsFinished() = true before the current resource finished")
	}

	c.info(500)
	c.send(t, 0, 500)
	c.finish(nil)

	waitProviderStatus(t, hint, domain.StatusFinished)
	if !hint.LastProviderIsFinished() {
		t.Error("LastProviderIsFinished() = false after the current resource finished")
	}

	promoted, err := p.PromoteHint()
	if err != nil {
		t.Fatalf("PromoteHint() error = %v", err)
	}
	if promoted != hint {
		t.Error("PromoteHint() returned a different provider")
	}
	if _, ok := f.Lookup(testKey); ok {
		t.Error("promoted-from provider still live")
	}
	if _, err := promoted.PromoteHint(); !errors.Is(err, domain.ErrNoHint) {
		t.Errorf("PromoteHint() without hint error = %v, want ErrNoHint", err)
	}
}

func TestProvider_PromoteHintBeforeFinish(t *testing.T) {
	current := newControlFetcher()
	next := &originFetcher{size: 1_000}
	f := newTestFactory(t, t.TempDir(), keyedFetcher{testKey: current, hintKey: next}, Config{})

	p := openProvider(t, f, testKey)
	c := current.next(t)

	hint, err := p.SetHint(context.Background(), hintKey)
	if err != nil {
		t.Fatalf("SetHint() error = %v", err)
	}
	promoted, err := p.PromoteHint()
	if err != nil {
		t.Fatalf("PromoteHint() error = %v", err)
	}
	if promoted != hint {
		t.Fatal("PromoteHint() returned a different provider")
	}
	if c.ctx.Err() == nil {
		t.Error("current download not cancelled on promotion")
	}
	waitProviderStatus(t, promoted, domain.StatusFinished)
	if promoted.LastProviderIsFinished() {
		t.Error("LastProviderIsFinished() = true for an abandoned provider")
	}
}

func TestProvider_ReportDecodingError(t *testing.T) {
	fetcher := newControlFetcher()
	f := newTestFactory(t, t.TempDir(), fetcher, Config{})
	p := openProvider(t, f, testKey)
	c := fetcher.next(t)
	c.info(1_000)
	c.send(t, 0, 100)

	p.ReportDecodingError(40, errors.New("bad frame header"))
	if got := p.Status(); got != domain.StatusFailed {
		t.Errorf("Status() = %v, want failed", got)
	}
	if !domain.IsDecodingError(p.Err()) {
		t.Errorf("Err() = %v, want a decoding error", p.Err())
	}
	if !p.RangeAvailable(domain.NewByteRange(0, 100)) {
		t.Error("cached bytes dropped after a decoding error")
	}
	if err := p.WaitForRange(context.Background(), domain.NewByteRange(100, 200)); !domain.IsDecodingError(err) {
		t.Errorf("WaitForRange() error = %v, want the decoding error", err)
	}
}

func TestProvider_WatchdogReconnectsStalledSession(t *testing.T) {
	fetcher := newControlFetcher()
	cfg := Config{
		Scheduler:       testConfig(4096),
		WatchdogEnabled: true,
		Watchdog: recovery.Config{
			Period:                  5 * time.Millisecond,
			InactiveBeforeReconnect: 30 * time.Millisecond,
		},
	}
	f := newTestFactory(t, t.TempDir(), fetcher, cfg)
	openProvider(t, f, testKey)

	c1 := fetcher.next(t)
	c1.info(1_000)
	c1.send(t, 0, 250)

	c2 := fetcher.next(t)
	expectRequest(t, c2, 250, 750)
	if c1.ctx.Err() == nil {
		t.Error("stalled session not cancelled")
	}
}
