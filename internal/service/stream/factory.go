// Package stream schedules progressive range downloads and exposes the
// partially cached resources to consumers.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/domain/event"
	"github.com/vertextoedge/streamcache/internal/port"
	"github.com/vertextoedge/streamcache/internal/rangeset"
	"github.com/vertextoedge/streamcache/internal/service/recovery"
)

// ResourceStore is the cache store as seen by the factory.
type ResourceStore interface {
	CacheStore
	Acquire(key string) (*rangeset.Set, error)
	Release(ctx context.Context, key string, purge bool) error
	OpenData(key string) (port.BackingFile, error)
	Touch(ctx context.Context, key string)
}

// Config holds provider settings
type Config struct {
	Scheduler       SchedulerConfig
	WatchdogEnabled bool
	Watchdog        recovery.Config
}

// OpenOption configures a single Open call
type OpenOption func(*openOptions)

type openOptions struct {
	expectedDigest string
	noAutostart    bool
}

// WithExpectedDigest verifies the completed resource against a hex sha256.
func WithExpectedDigest(hexDigest string) OpenOption {
	return func(o *openOptions) { o.expectedDigest = hexDigest }
}

func withoutAutostart() OpenOption {
	return func(o *openOptions) { o.noAutostart = true }
}

type liveProvider struct {
	p    *Provider
	refs int
}

// Factory opens providers. There is at most one live provider per resource
// key; opening a key that is already open shares it.
type Factory struct {
	store      ResourceStore
	fetcher    port.RangeFetcher
	dispatcher event.EventDispatcher
	logger     *zap.Logger
	config     Config

	mu   sync.Mutex
	live map[string]*liveProvider
}

// NewFactory creates a provider factory
func NewFactory(store ResourceStore, fetcher port.RangeFetcher, dispatcher event.EventDispatcher, cfg Config, logger *zap.Logger) *Factory {
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Factory{
		store:      store,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		logger:     logger,
		config:     cfg,
		live:       make(map[string]*liveProvider),
	}
}

// Open returns a provider for key and starts downloading what is missing.
// Every Open must be paired with one Provider.Close.
func (f *Factory) Open(ctx context.Context, key string, opts ...OpenOption) (*Provider, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	f.mu.Lock()
	if lp, ok := f.live[key]; ok {
		lp.refs++
		f.mu.Unlock()
		if !o.noAutostart {
			lp.p.Start()
		}
		return lp.p, nil
	}

	// Held across the open so two callers never build two schedulers for one key.
	p, err := f.newProvider(key, o)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.live[key] = &liveProvider{p: p, refs: 1}
	f.mu.Unlock()

	f.store.Touch(ctx, key)
	if p.watchdog != nil {
		p.watchdog.Start(context.Background())
	}
	if !o.noAutostart {
		p.Start()
	}
	return p, nil
}

func (f *Factory) newProvider(key string, o openOptions) (*Provider, error) {
	set, err := f.store.Acquire(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	backing, err := f.store.OpenData(key)
	if err != nil {
		_ = f.store.Release(context.Background(), key, false)
		return nil, fmt.Errorf("failed to open backing file for %s: %w", key, err)
	}

	id := uuid.NewString()
	logger := f.logger.With(zap.String("provider_id", id), zap.String("resource", key))

	cfg := f.config.Scheduler
	if o.expectedDigest != "" {
		cfg.ExpectedDigest = o.expectedDigest
	}
	sched := NewScheduler(SchedulerParams{
		ProviderID: id,
		Set:        set,
		Backing:    backing,
		Fetcher:    f.fetcher,
		Store:      f.store,
		Dispatcher: f.dispatcher,
		Logger:     f.logger,
		Config:     cfg,
	})
	p := &Provider{
		id:      id,
		key:     key,
		sched:   sched,
		set:     set,
		backing: backing,
		factory: f,
		logger:  logger,
	}
	sched.OnTerminal(p.onTerminal)
	if f.config.WatchdogEnabled {
		p.watchdog = recovery.New(sched, f.config.Watchdog, logger)
	}

	logger.Debug("provider opened",
		zap.Int64("cached", set.ReceivedLength()),
		zap.Int64("expected_length", set.ExpectedLength()),
	)
	return p, nil
}

// release drops one reference to p and reports whether it was the last.
func (f *Factory) release(p *Provider) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	lp, ok := f.live[p.key]
	if !ok || lp.p != p {
		return false
	}
	lp.refs--
	if lp.refs > 0 {
		return false
	}
	delete(f.live, p.key)
	return true
}

// Lookup returns the live provider for key without taking a reference.
func (f *Factory) Lookup(key string) (*Provider, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lp, ok := f.live[key]
	if !ok {
		return nil, false
	}
	return lp.p, true
}

// Live returns the number of open providers.
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// CloseAll closes every open provider regardless of outstanding references.
func (f *Factory) CloseAll() {
	f.mu.Lock()
	providers := make([]*Provider, 0, len(f.live))
	for _, lp := range f.live {
		lp.refs = 1
		providers = append(providers, lp.p)
	}
	f.mu.Unlock()

	for _, p := range providers {
		if err := p.Close(); err != nil {
			f.logger.Warn("failed to close provider", zap.String("resource", p.key), zap.Error(err))
		}
	}
}
