package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/domain/event"
	"github.com/vertextoedge/streamcache/internal/port"
	"github.com/vertextoedge/streamcache/internal/rangeset"
)

const testKey = "https://media.example.com/track.mp3"

// content returns n bytes of the test resource starting at offset.
func content(offset, n int64) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte((offset + int64(i)) * 7 % 251)
	}
	return p
}

func digestOf(p []byte) string {
	sum := sha256.Sum256(p)
	return hex.EncodeToString(sum[:])
}

// memBacking is an in-memory BackingFile
type memBacking struct {
	mu       sync.Mutex
	data     []byte
	writeErr error
	closed   bool
	writes   int
	onSync   func()
}

func (m *memBacking) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memBacking) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes++
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *memBacking) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	resized := make([]byte, size)
	copy(resized, m.data)
	m.data = resized
	return nil
}

func (m *memBacking) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *memBacking) Sync() error {
	m.mu.Lock()
	fn := m.onSync
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (m *memBacking) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memBacking) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memBacking) Name() string { return "mem" }

// stubStore implements CacheStore for testing
type stubStore struct {
	mu         sync.Mutex
	persists   int
	reserved   int64
	reserveErr error
	last       rangeset.Metadata
}

func (s *stubStore) PersistSnapshot(ctx context.Context, md rangeset.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	s.last = md
	return nil
}

func (s *stubStore) lastSnapshot() rangeset.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *stubStore) Reserve(growth int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return s.reserveErr
	}
	s.reserved += growth
	return nil
}

func (s *stubStore) persistCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persists
}

// fetchCall is one Fetch blocked until the test finishes it.
type fetchCall struct {
	ctx  context.Context
	req  port.FetchRequest
	h    port.FetchHandler
	done chan error
}

func (c *fetchCall) info(total int64) {
	c.h.OnInfo(port.ResourceInfo{TotalLength: total, SupportsRange: true, Offset: c.req.Offset})
}

func (c *fetchCall) send(t *testing.T, offset, n int64) {
	t.Helper()
	if err := c.h.OnData(offset, content(offset, n)); err != nil {
		t.Fatalf("OnData(%d, %d) error = %v", offset, n, err)
	}
}

func (c *fetchCall) finish(err error) {
	c.done <- err
}

// controlFetcher hands every Fetch to the test
type controlFetcher struct {
	calls chan *fetchCall
}

func newControlFetcher() *controlFetcher {
	return &controlFetcher{calls: make(chan *fetchCall, 16)}
}

func (f *controlFetcher) Fetch(ctx context.Context, req port.FetchRequest, h port.FetchHandler) error {
	c := &fetchCall{ctx: ctx, req: req, h: h, done: make(chan error, 1)}
	f.calls <- c
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *controlFetcher) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch issued")
		return nil
	}
}

func (f *controlFetcher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch %+v", c.req)
	case <-time.After(50 * time.Millisecond):
	}
}

func expectRequest(t *testing.T, c *fetchCall, offset, length int64) {
	t.Helper()
	if c.req.Offset != offset || c.req.Length != length {
		t.Fatalf("request = {%d, %d}, want {%d, %d}", c.req.Offset, c.req.Length, offset, length)
	}
}

// originFetcher serves the test resource from memory in fixed-size chunks
type originFetcher struct {
	size    int64
	noRange bool
	chunk   int64

	mu       sync.Mutex
	requests []port.FetchRequest
}

func (f *originFetcher) Fetch(ctx context.Context, req port.FetchRequest, h port.FetchHandler) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	start, end := req.Offset, f.size
	if f.noRange {
		start = 0
	} else if req.Length >= 0 && start+req.Length < end {
		end = start + req.Length
	}
	h.OnInfo(port.ResourceInfo{TotalLength: f.size, SupportsRange: !f.noRange, Offset: start, ContentType: "audio/mpeg"})

	chunk := f.chunk
	if chunk <= 0 {
		chunk = 4096
	}
	for off := start; off < end; off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(chunk, end-off)
		if err := h.OnData(off, content(off, n)); err != nil {
			return err
		}
	}
	return nil
}

func (f *originFetcher) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// recorder collects dispatched event names
type recorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func newRecorder(d event.EventDispatcher) *recorder {
	r := &recorder{}
	d.Subscribe(&event.HandlerFunc{
		Events: []string{"*"},
		Fn: func(e event.DomainEvent) error {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			return nil
		},
	})
	return r
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type schedulerFixture struct {
	s       *Scheduler
	set     *rangeset.Set
	backing *memBacking
	store   *stubStore
	fetcher *controlFetcher
	events  *recorder
}

func newSchedulerFixture(t *testing.T, set *rangeset.Set, cfg SchedulerConfig) *schedulerFixture {
	t.Helper()
	if set == nil {
		set = rangeset.New(testKey)
	}
	d := event.NewInMemoryDispatcher()
	f := &schedulerFixture{
		set:     set,
		backing: &memBacking{},
		store:   &stubStore{},
		fetcher: newControlFetcher(),
		events:  newRecorder(d),
	}
	f.s = NewScheduler(SchedulerParams{
		ProviderID: "test",
		Set:        set,
		Backing:    f.backing,
		Fetcher:    f.fetcher,
		Store:      f.store,
		Dispatcher: d,
		Logger:     zap.NewNop(),
		Config:     cfg,
	})
	t.Cleanup(f.s.Close)
	return f
}

// seed marks r cached and writes its bytes to the backing file.
func (f *schedulerFixture) seed(r domain.ByteRange) {
	f.backing.WriteAt(content(r.Start, r.Length), r.Start)
	f.set.Append(r)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, s *Scheduler, want domain.ProviderStatus) {
	t.Helper()
	waitFor(t, "status "+want.String(), func() bool { return s.Status() == want })
}

var errBoom = errors.New("boom")
