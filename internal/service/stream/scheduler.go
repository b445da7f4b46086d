package stream

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/domain/event"
	"github.com/vertextoedge/streamcache/internal/integrity"
	"github.com/vertextoedge/streamcache/internal/port"
	"github.com/vertextoedge/streamcache/internal/rangeset"
	"github.com/vertextoedge/streamcache/internal/service/recovery"
	"github.com/vertextoedge/streamcache/internal/util/ratelimiter"
)

// DefaultMaxRequestLength bounds the span of a single range request.
const DefaultMaxRequestLength int64 = 15 * 1024 * 1024

var errStaleSession = errors.New("session superseded")

// CacheStore is the part of the cache store a scheduler writes through.
type CacheStore interface {
	PersistSnapshot(ctx context.Context, md rangeset.Metadata) error
	Reserve(growth int64) error
}

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	MaxRequestLength int64
	// MaxAttempts is the number of consecutive failed sessions tolerated
	// before the download fails. Any chunk that adds cached bytes resets
	// the count.
	MaxAttempts     int
	RetryBackoff    time.Duration
	PersistInterval time.Duration
	// RequireIntegrity hashes the completed file when the streaming digest
	// was invalidated by out-of-order delivery.
	RequireIntegrity bool
	// ExpectedDigest is the hex sha256 the completed resource must match.
	ExpectedDigest string
	Now            func() time.Time
}

// DefaultSchedulerConfig returns the default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxRequestLength: DefaultMaxRequestLength,
		MaxAttempts:      3,
		RetryBackoff:     500 * time.Millisecond,
		PersistInterval:  2 * time.Second,
		Now:              time.Now,
	}
}

// SchedulerParams wires a scheduler to its collaborators
type SchedulerParams struct {
	ProviderID string
	Set        *rangeset.Set
	Backing    port.BackingFile
	Fetcher    port.RangeFetcher
	Store      CacheStore
	Dispatcher event.EventDispatcher
	Logger     *zap.Logger
	Config     SchedulerConfig
}

// Scheduler decides which byte range to request next for one resource and
// commits received chunks to the cache. Its mutex is the provider lock: it
// guards the range set mutation path, the pending queue, waitingPosition
// and backing file growth.
type Scheduler struct {
	providerID string
	key        string
	set        *rangeset.Set
	backing    port.BackingFile
	fetcher    port.RangeFetcher
	store      CacheStore
	dispatcher event.EventDispatcher
	logger     *zap.Logger
	config     SchedulerConfig

	ctx       context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
	persistMu sync.Mutex
	throttle  *ratelimiter.Limiter
	primeOnce sync.Once
	primeErr  error

	mu              sync.Mutex
	acc             *integrity.Accumulator
	pending         []domain.ByteRange
	active          *Session
	nextID          uint64
	waitingPosition int64
	failures        int
	status          domain.ProviderStatus
	err             error
	integrityErr    error
	hashOnFinish    bool
	lastActivity    time.Time
	started         bool
	closed          bool
	retryTimer      *time.Timer
	notify          chan struct{}
	changed         chan struct{}
	onTerminal      []func()

	// deferred work performed by unlock, outside the lock
	outbox        []event.DomainEvent
	persistDue    bool
	finishDue     bool
	terminalDue   bool
	terminalFired bool
}

// NewScheduler creates a scheduler. It issues no request until Start or
// RequireOffset is called.
func NewScheduler(p SchedulerParams) *Scheduler {
	cfg := p.Config
	def := DefaultSchedulerConfig()
	if cfg.MaxRequestLength <= 0 {
		cfg.MaxRequestLength = def.MaxRequestLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if p.Dispatcher == nil {
		p.Dispatcher = event.NewNullDispatcher()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		providerID: p.ProviderID,
		key:        p.Set.ResourceKey(),
		set:        p.Set,
		backing:    p.Backing,
		fetcher:    p.Fetcher,
		store:      p.Store,
		dispatcher: p.Dispatcher,
		logger:     p.Logger.With(zap.String("provider_id", p.ProviderID), zap.String("resource", p.Set.ResourceKey())),
		config:     cfg,
		ctx:        ctx,
		cancelAll:  cancel,
		throttle:   ratelimiter.NewWithClock(cfg.PersistInterval, cfg.Now),
		acc:        integrity.New(),
		status:     domain.StatusReady,
		notify:     make(chan struct{}, 1),
		changed:    make(chan struct{}),
	}
	return s
}

// PrimeIntegrity hashes the cached prefix so a resumed download can still
// produce a streaming digest. It runs once, before the first request.
// Resources that already carry a digest keep it; completed resources without
// one are hashed after they are reported finished.
func (s *Scheduler) PrimeIntegrity() error {
	s.primeOnce.Do(func() {
		s.primeErr = s.prime()
		if s.primeErr != nil {
			s.logger.Warn("cached prefix unreadable, digest will need a full hash", zap.Error(s.primeErr))
		}
	})
	return s.primeErr
}

func (s *Scheduler) prime() error {
	if s.set.Digest() != "" {
		return nil
	}
	if s.set.IsCompleted() {
		s.mu.Lock()
		s.hashOnFinish = true
		s.mu.Unlock()
		return nil
	}
	prefix := s.set.CachedRange(0)
	if prefix.Length == 0 {
		return nil
	}
	acc := integrity.New()
	err := acc.Prime(s.backing, prefix.Length)
	s.mu.Lock()
	s.acc = acc
	s.mu.Unlock()
	return err
}

// Start enables downloading and issues the first request.
func (s *Scheduler) Start() {
	s.PrimeIntegrity()
	s.mu.Lock()
	defer s.unlock()
	if s.started {
		return
	}
	s.started = true
	s.requestNeededRangeLocked()
}

// Started reports whether downloading has been enabled.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// RequireOffset signals that the consumer wants to read from offset.
// Cached offsets, offsets inside or directly after the in-flight session and
// offsets already queued are no-ops. Anything else is queued as a bounded
// seek, and promoted at once when no session is running. The running
// session is never cancelled for a seek.
func (s *Scheduler) RequireOffset(offset int64) {
	s.PrimeIntegrity()
	s.mu.Lock()
	defer s.unlock()

	if s.closed || s.status != domain.StatusReady {
		return
	}
	s.started = true

	if !s.set.SupportSeek() {
		if s.active == nil {
			s.requestNeededRangeLocked()
		}
		return
	}
	if offset < 0 {
		offset = 0
	}
	if expected := s.set.ExpectedLength(); expected >= 0 && offset >= expected {
		return
	}
	if !s.set.CachedRange(offset).IsEmpty() {
		return
	}
	if s.active != nil && s.active.Covers(offset) {
		return
	}
	for _, p := range s.pending {
		if p.ContainsOffset(offset) {
			return
		}
	}

	gap, ok := s.set.NextNeededRange(offset)
	if !ok {
		return
	}
	s.pending = append(s.pending, domain.ByteRange{Start: gap.Start, Length: s.bounded(gap)})
	if s.active == nil {
		s.requestNeededRangeLocked()
	}
}

func (s *Scheduler) bounded(gap domain.ByteRange) int64 {
	return min(s.config.MaxRequestLength, gap.Length)
}

// requestNeededRangeLocked starts the next session: queued seeks first in
// FIFO order, then sequential readahead from waitingPosition, then the
// first hole from the start of the resource.
func (s *Scheduler) requestNeededRangeLocked() {
	if s.closed || !s.started || s.status != domain.StatusReady || s.active != nil {
		return
	}
	if s.set.IsCompleted() {
		s.finishLocked()
		return
	}

	if !s.set.SupportSeek() {
		s.startSessionLocked(0, -1, false)
		return
	}

	for len(s.pending) > 0 {
		want := s.pending[0]
		s.pending = s.pending[1:]
		gap, ok := s.set.NextNeededRange(want.Start)
		if !ok || gap.Start >= want.End() {
			continue
		}
		s.startSessionLocked(gap.Start, min(s.bounded(gap), want.End()-gap.Start), true)
		return
	}

	gap, ok := s.set.NextNeededRange(s.waitingPosition)
	if !ok {
		gap, ok = s.set.NextNeededRange(0)
	}
	if !ok {
		s.finishLocked()
		return
	}
	s.startSessionLocked(gap.Start, s.bounded(gap), false)
}

func (s *Scheduler) startSessionLocked(start, length int64, seek bool) {
	s.nextID++
	ctx, cancel := context.WithCancel(s.ctx)
	sess := &Session{
		ID:     s.nextID,
		Start:  start,
		Length: length,
		State:  domain.SessionConnecting,
		Seek:   seek,
		cancel: cancel,
	}
	s.active = sess
	s.waitingPosition = start
	s.lastActivity = s.config.Now()
	if start == 0 {
		s.acc.Reset()
	}

	s.emitLocked(event.NewSessionStarted(s.providerID, s.key, sess.ID, start, length, seek))

	req := port.FetchRequest{Key: s.key, Offset: start, Length: length}
	s.wg.Add(1)
	go s.run(ctx, sess.ID, req)
}

func (s *Scheduler) run(ctx context.Context, id uint64, req port.FetchRequest) {
	defer s.wg.Done()
	if err := s.fetcher.Fetch(ctx, req, sessionHandler{s: s, id: id}); err != nil {
		s.OnSessionFailed(id, err)
		return
	}
	s.OnSessionComplete(id)
}

// sessionLocked returns the active session if it has the given id.
func (s *Scheduler) sessionLocked(id uint64) *Session {
	if s.closed || s.active == nil || s.active.ID != id {
		return nil
	}
	return s.active
}

// OnResourceInfo records what the server reported about the resource.
func (s *Scheduler) OnResourceInfo(id uint64, info port.ResourceInfo) {
	s.mu.Lock()
	defer s.unlock()

	sess := s.sessionLocked(id)
	if sess == nil {
		return
	}
	sess.State = domain.SessionStreaming
	s.lastActivity = s.config.Now()

	if info.SupportsRange {
		s.set.SetSupportSeek(true)
	} else {
		if s.set.SupportSeek() {
			s.logger.Info("server ignores range requests, downloading whole body")
		}
		s.set.SetSupportSeek(false)
		s.pending = nil
		if info.Offset != sess.Start {
			sess.Start = info.Offset
			sess.Received = 0
			s.waitingPosition = info.Offset
			if info.Offset == 0 {
				s.acc.Reset()
			}
		}
		sess.Length = -1
	}

	if info.TotalLength >= 0 {
		current := s.set.ExpectedLength()
		if current != info.TotalLength {
			if current >= 0 {
				s.logger.Warn("resource length changed",
					zap.Int64("cached_length", current),
					zap.Int64("reported_length", info.TotalLength),
				)
			}
			if err := s.growLocked(info.TotalLength); err != nil {
				s.failLocked(err)
				return
			}
			s.set.SetExpectedLength(info.TotalLength)
		}
	}

	if s.set.TypeHint() == domain.TypeUnknown {
		s.set.SetTypeHint(domain.TypeHintFor(info.ContentType, resourcePath(s.key)))
	}
	s.signalLocked()
}

// growLocked resizes the backing file to the resource length.
func (s *Scheduler) growLocked(total int64) error {
	size, err := s.backing.Size()
	if err != nil {
		return fmt.Errorf("failed to stat backing file: %w", err)
	}
	if total == size {
		return nil
	}
	if total > size {
		if err := s.store.Reserve(total - size); err != nil {
			return err
		}
	}
	if err := s.backing.Truncate(total); err != nil {
		return fmt.Errorf("failed to resize backing file: %w", err)
	}
	return nil
}

// OnBytesReceived commits one chunk of session id. Chunks of superseded
// sessions are dropped and abort their fetch.
func (s *Scheduler) OnBytesReceived(id uint64, offset int64, p []byte) error {
	s.mu.Lock()
	defer s.unlock()

	sess := s.sessionLocked(id)
	if sess == nil {
		return errStaleSession
	}
	if expected := s.set.ExpectedLength(); expected >= 0 {
		if offset >= expected {
			return nil
		}
		if offset+int64(len(p)) > expected {
			p = p[:expected-offset]
		}
	}
	if len(p) == 0 {
		return nil
	}

	n := int64(len(p))
	before := s.set.ReceivedLength()
	if err := s.commitLocked(offset, p); err != nil {
		return err
	}
	s.acc.Feed(offset, p)

	sess.State = domain.SessionStreaming
	sess.Received += n
	s.waitingPosition = offset + n
	if s.set.ReceivedLength() > before {
		s.failures = 0
	}
	s.lastActivity = s.config.Now()

	s.emitLocked(event.NewChunkReceived(s.providerID, s.key, id, offset, n))
	s.signalLocked()
	if ok, _ := s.throttle.Allow(); ok {
		s.persistDue = true
	}
	return nil
}

// commitLocked writes the parts of p that are not cached yet. Committed
// bytes are never rewritten; readers copy them without the lock.
func (s *Scheduler) commitLocked(offset int64, p []byte) error {
	end := offset + int64(len(p))
	for pos := offset; pos < end; {
		gap, ok := s.set.NextNeededRange(pos)
		if !ok || gap.Start >= end {
			break
		}
		stop := min(gap.End(), end)
		if _, err := s.backing.WriteAt(p[gap.Start-offset:stop-offset], gap.Start); err != nil {
			return fmt.Errorf("failed to write cache: %w", err)
		}
		s.set.Append(domain.ByteRange{Start: gap.Start, Length: stop - gap.Start})
		pos = stop
	}
	return nil
}

// OnSessionComplete handles the end of a session's body.
func (s *Scheduler) OnSessionComplete(id uint64) {
	s.mu.Lock()
	defer s.unlock()

	sess := s.sessionLocked(id)
	if sess == nil {
		return
	}

	end := sess.Start + sess.Received
	expected := s.set.ExpectedLength()
	if expected < 0 {
		if sess.Length < 0 || sess.Received < sess.Length {
			// The body ended early, so this is where the resource ends.
			s.set.SetExpectedLength(end)
			if err := s.backing.Truncate(end); err != nil {
				s.logger.Warn("failed to trim backing file", zap.Error(err))
			}
		}
	} else {
		want := expected
		if sess.Length >= 0 && sess.End() < want {
			want = sess.End()
		}
		if end < want {
			s.sessionFailedLocked(sess, domain.NewNetworkError(s.key, 0, io.ErrUnexpectedEOF))
			return
		}
	}

	sess.State = domain.SessionCompleted
	s.active = nil
	s.failures = 0
	s.emitLocked(event.NewSessionFinished(s.providerID, s.key, id, sess.State.String(), sess.Received, nil))
	s.persistDue = true
	s.requestNeededRangeLocked()
}

// OnSessionFailed handles a transport failure of session id.
func (s *Scheduler) OnSessionFailed(id uint64, cause error) {
	s.mu.Lock()
	defer s.unlock()

	sess := s.sessionLocked(id)
	if sess == nil {
		return
	}
	s.sessionFailedLocked(sess, cause)
}

func (s *Scheduler) sessionFailedLocked(sess *Session, cause error) {
	sess.State = domain.SessionFailed
	s.active = nil
	s.emitLocked(event.NewSessionFinished(s.providerID, s.key, sess.ID, sess.State.String(), sess.Received, cause))

	// A failed seek keeps its place at the head of the queue.
	if sess.Seek && sess.Length >= 0 {
		rest := domain.NewByteRange(sess.Start+sess.Received, sess.End())
		if !rest.IsEmpty() {
			s.pending = append([]domain.ByteRange{rest}, s.pending...)
		}
	}

	s.failures++
	if !domain.IsRetryable(cause) || s.failures >= s.config.MaxAttempts {
		s.failLocked(fmt.Errorf("%w after %d attempts: %w", domain.ErrDownloadFailed, s.failures, cause))
		return
	}

	s.logger.Warn("session failed, retrying",
		zap.Uint64("session_id", sess.ID),
		zap.Int64("resume_at", s.waitingPosition),
		zap.Int("attempt", s.failures),
		zap.Error(cause),
	)
	s.persistDue = true

	delay := s.config.RetryBackoff * time.Duration(s.failures)
	if d, ok := domain.GetRetryAfter(cause); ok && d > delay {
		delay = d
	}
	if delay <= 0 {
		s.requestNeededRangeLocked()
		return
	}
	s.retryTimer = time.AfterFunc(delay, s.retry)
}

func (s *Scheduler) retry() {
	s.mu.Lock()
	defer s.unlock()
	s.retryTimer = nil
	s.requestNeededRangeLocked()
}

// Reconnect cancels the active session if it is still id and streaming, and
// resumes from the last committed byte.
func (s *Scheduler) Reconnect(id uint64, reason string) bool {
	s.mu.Lock()
	defer s.unlock()

	sess := s.sessionLocked(id)
	if sess == nil || sess.State != domain.SessionStreaming || s.status != domain.StatusReady {
		return false
	}
	sess.State = domain.SessionCancelled
	sess.cancel()
	s.active = nil

	s.emitLocked(event.NewReconnected(s.providerID, s.key, id, s.waitingPosition, reason))
	s.emitLocked(event.NewSessionFinished(s.providerID, s.key, id, sess.State.String(), sess.Received, nil))

	if s.set.SupportSeek() {
		if gap, ok := s.set.NextNeededRange(s.waitingPosition); ok {
			s.startSessionLocked(gap.Start, s.bounded(gap), sess.Seek)
			return true
		}
	}
	s.requestNeededRangeLocked()
	return true
}

// Snapshot reports the session state for the watchdog.
func (s *Scheduler) Snapshot() recovery.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := recovery.Snapshot{
		LastActivity: s.lastActivity,
		Terminal:     s.closed || s.status != domain.StatusReady,
	}
	if s.active != nil {
		snap.Active = true
		snap.SessionID = s.active.ID
		snap.State = s.active.State
	}
	return snap
}

// Fail stops the download for good. Cached bytes are kept.
func (s *Scheduler) Fail(err error) {
	s.mu.Lock()
	defer s.unlock()
	s.failLocked(err)
}

func (s *Scheduler) failLocked(err error) {
	if s.status != domain.StatusReady {
		return
	}
	s.status = domain.StatusFailed
	s.err = err
	s.pending = nil
	if s.active != nil {
		s.active.State = domain.SessionCancelled
		s.active.cancel()
		s.active = nil
	}
	s.logger.Error("download failed", zap.Error(err))
	s.emitLocked(event.NewDownloadFailed(s.providerID, s.key, err, s.failures))
	s.persistDue = true
	s.terminalDue = true
	s.signalLocked()
}

func (s *Scheduler) finishLocked() {
	if s.status != domain.StatusReady {
		return
	}
	s.status = domain.StatusFinished
	if sum, ok := s.acc.Finalize(s.set.ExpectedLength()); ok {
		actual := hex.EncodeToString(sum)
		if stored := s.set.Digest(); stored != "" && !strings.EqualFold(stored, actual) {
			// The stored digest stays the reference for the cached bytes.
			s.integrityErr = integrity.Verify(s.key, stored, actual)
			s.logger.Error("cached bytes do not match the stored digest", zap.Error(s.integrityErr))
			s.emitLocked(event.NewIntegrityMismatch(s.providerID, s.key, stored, actual))
		} else {
			s.set.SetDigest(actual)
		}
	}
	s.finishDue = true
	s.persistDue = true
	s.terminalDue = true
	s.signalLocked()
}

// completeFinish hashes and verifies a finished resource outside the lock.
func (s *Scheduler) completeFinish() {
	expected := s.set.ExpectedLength()
	digest := s.set.Digest()
	s.mu.Lock()
	hashAll := s.hashOnFinish || s.config.RequireIntegrity || s.config.ExpectedDigest != ""
	s.mu.Unlock()
	if digest == "" && hashAll {
		d, err := integrity.HashReader(s.backing, expected)
		if err != nil {
			s.logger.Warn("failed to hash completed resource", zap.Error(err))
		} else {
			s.set.SetDigest(d)
			digest = d
		}
	}

	if digest != "" {
		if err := integrity.Verify(s.key, s.config.ExpectedDigest, digest); err != nil {
			s.mu.Lock()
			s.integrityErr = err
			s.mu.Unlock()
			s.logger.Error("integrity check failed", zap.Error(err))
			s.dispatcher.Dispatch(event.NewIntegrityMismatch(s.providerID, s.key, s.config.ExpectedDigest, digest))
		}
	}
	s.dispatcher.Dispatch(event.NewDownloadFinished(s.providerID, s.key, expected, digest))
}

// OnTerminal registers fn to run once the download finishes, fails or is
// closed. fn runs immediately if that already happened.
func (s *Scheduler) OnTerminal(fn func()) {
	s.mu.Lock()
	if s.terminalFired {
		s.mu.Unlock()
		fn()
		return
	}
	s.onTerminal = append(s.onTerminal, fn)
	s.mu.Unlock()
}

// Close cancels any running session, waits for it to exit and persists the
// final state.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.active != nil {
		s.active.State = domain.SessionCancelled
		s.active.cancel()
		s.active = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.pending = nil
	s.terminalDue = true
	s.persistDue = true
	s.signalLocked()
	s.cancelAll()
	s.unlock()

	s.wg.Wait()
}

func (s *Scheduler) emitLocked(e event.DomainEvent) {
	s.outbox = append(s.outbox, e)
}

// signalLocked wakes every waiter. The coalescing notify channel never blocks.
func (s *Scheduler) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// unlock releases the lock, then dispatches queued events and runs the
// persistence and completion work that must not hold it.
func (s *Scheduler) unlock() {
	events := s.outbox
	s.outbox = nil
	persist, finish := s.persistDue, s.finishDue
	s.persistDue, s.finishDue = false, false
	var terminal []func()
	if s.terminalDue && !s.terminalFired {
		s.terminalFired = true
		terminal = s.onTerminal
		s.onTerminal = nil
	}
	s.terminalDue = false
	s.mu.Unlock()

	for _, e := range events {
		s.dispatcher.Dispatch(e)
	}
	if finish {
		s.completeFinish()
	}
	if persist {
		s.persist()
	}
	for _, fn := range terminal {
		fn()
	}
}

func (s *Scheduler) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.throttle.Mark()
	// Only ranges committed before the sync may reach the sidecar.
	md := s.set.Snapshot()
	if err := s.backing.Sync(); err != nil {
		s.logger.Warn("failed to sync backing file", zap.Error(err))
		return
	}
	if err := s.store.PersistSnapshot(context.Background(), md); err != nil {
		s.logger.Warn("failed to persist cache metadata", zap.Error(err))
	}
}

// Notify returns a channel that receives a value after state changes.
// Notifications coalesce; one pending value may stand for many chunks.
func (s *Scheduler) Notify() <-chan struct{} {
	return s.notify
}

// Changed returns a channel closed at the next state change.
func (s *Scheduler) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// RangeAvailable checks membership under the provider lock.
func (s *Scheduler) RangeAvailable(r domain.ByteRange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.RangeAvailable(r)
}

// CachedRange returns the cached run starting at offset under the provider lock.
func (s *Scheduler) CachedRange(offset int64) domain.ByteRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.CachedRange(offset)
}

// Status returns the download status.
func (s *Scheduler) Status() domain.ProviderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the terminal failure, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IntegrityErr returns the integrity verification failure, if any.
func (s *Scheduler) IntegrityErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.integrityErr
}

// WaitingPosition returns where sequential readahead resumes.
func (s *Scheduler) WaitingPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingPosition
}

// Pending returns a copy of the queued seeks.
func (s *Scheduler) Pending() []domain.ByteRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ByteRange, len(s.pending))
	copy(out, s.pending)
	return out
}

// ActiveSession returns a copy of the in-flight session.
func (s *Scheduler) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Session{}, false
	}
	cp := *s.active
	cp.cancel = nil
	return cp, true
}

func resourcePath(key string) string {
	if u, err := url.Parse(key); err == nil && u.Path != "" {
		return u.Path
	}
	return key
}
