// Package cache owns the range sets of every cached resource and their
// on-disk representation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/domain/event"
	"github.com/vertextoedge/streamcache/internal/port"
	"github.com/vertextoedge/streamcache/internal/rangeset"
)

// Config holds cache store settings
type Config struct {
	// PurgeOnRelease removes a resource once its last user releases it
	PurgeOnRelease bool
}

type entry struct {
	set  *rangeset.Set
	refs int
}

// Store maps resource keys to range sets, loading persisted metadata lazily.
// The map lock is held only for lookups and inserts, never across I/O.
type Store struct {
	fs         port.FileSystem
	index      port.ResourceIndex
	space      port.SpaceManager
	dispatcher event.EventDispatcher
	logger     *zap.Logger
	config     Config

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures optional Store collaborators
type Option func(*Store)

// WithIndex records every persisted resource in index
func WithIndex(index port.ResourceIndex) Option {
	return func(s *Store) { s.index = index }
}

// WithSpaceManager enforces cache size limits when backing files grow
func WithSpaceManager(space port.SpaceManager) Option {
	return func(s *Store) { s.space = space }
}

// WithDispatcher publishes cache events
func WithDispatcher(d event.EventDispatcher) Option {
	return func(s *Store) { s.dispatcher = d }
}

// NewStore creates a new cache store
func NewStore(fs port.FileSystem, cfg Config, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		fs:         fs,
		dispatcher: event.NewNullDispatcher(),
		logger:     logger,
		config:     cfg,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the range set for key, loading persisted metadata the
// first time. Corrupted metadata is discarded and an empty set returned.
func (s *Store) GetOrCreate(key string) (*rangeset.Set, error) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return e.set, nil
	}
	s.mu.Unlock()

	loaded, err := s.load(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		// Another caller won the race; its set is the canonical one.
		return e.set, nil
	}
	s.entries[key] = &entry{set: loaded}
	return loaded, nil
}

// Peek returns the range set for key without registering it. Resources that
// are not in use are read from disk on every call.
func (s *Store) Peek(key string) (*rangeset.Set, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if ok {
		return e.set, nil
	}
	return s.load(key)
}

func (s *Store) load(key string) (*rangeset.Set, error) {
	rc, err := s.fs.ReadMeta(key)
	if errors.Is(err, domain.ErrNotFound) {
		return rangeset.New(key), nil
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	size, err := s.fs.GetFileSize(s.fs.DataPath(key))
	if err != nil {
		size = 0
	}

	set, err := rangeset.Load(rc, key, size)
	if errors.Is(err, domain.ErrCacheCorruption) {
		s.logger.Warn("discarding cache metadata",
			zap.String("resource", key),
			zap.Error(err),
		)
		s.dispatcher.Dispatch(event.NewCacheCorrupted(key, err.Error()))
		if rmErr := s.fs.RemoveResource(key); rmErr != nil {
			s.logger.Warn("failed to remove corrupted resource", zap.String("resource", key), zap.Error(rmErr))
		}
		return rangeset.New(key), nil
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Acquire returns the set for key and registers one more user of it.
func (s *Store) Acquire(key string) (*rangeset.Set, error) {
	set, err := s.GetOrCreate(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if e, ok := s.entries[key]; ok && e.set == set {
		e.refs++
	} else {
		// Purged between GetOrCreate and here; re-register.
		s.entries[key] = &entry{set: set, refs: 1}
	}
	s.mu.Unlock()
	return set, nil
}

// Release drops one user of key. The last release forgets the in-memory
// set, and purges the resource when purge or Config.PurgeOnRelease is set.
func (s *Store) Release(ctx context.Context, key string, purge bool) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	e.refs--
	last := e.refs <= 0
	if last {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if last && (purge || s.config.PurgeOnRelease) {
		return s.removeFiles(ctx, key)
	}
	return nil
}

// Purge removes the resource from memory, disk and the index.
func (s *Store) Purge(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return s.removeFiles(ctx, key)
}

func (s *Store) removeFiles(ctx context.Context, key string) error {
	if err := s.fs.RemoveResource(key); err != nil {
		return fmt.Errorf("failed to purge %s: %w", key, err)
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to remove %s from index: %w", key, err)
		}
	}
	s.logger.Info("purged cached resource", zap.String("resource", key))
	return nil
}

// Persist atomically rewrites the sidecar metadata of set and records it in
// the index. Index failures are logged; the sidecar is authoritative.
func (s *Store) Persist(ctx context.Context, set *rangeset.Set) error {
	return s.PersistSnapshot(ctx, set.Snapshot())
}

// PersistSnapshot is Persist for a record captured earlier.
func (s *Store) PersistSnapshot(ctx context.Context, md rangeset.Metadata) error {
	key := md.ResourceKey
	if err := s.fs.WriteMetaAtomic(key, md.Encode); err != nil {
		return fmt.Errorf("failed to persist metadata for %s: %w", key, err)
	}

	if s.index != nil {
		rec := &port.ResourceRecord{
			Key:            key,
			DataPath:       s.fs.DataPath(key),
			ExpectedLength: md.Length(),
			ReceivedLength: md.ReceivedLength(),
			Completed:      md.Completed(),
			Digest:         md.IntegrityDigest,
			TypeHint:       md.TypeHint,
		}
		if err := s.index.Upsert(ctx, rec); err != nil {
			s.logger.Warn("failed to update resource index", zap.String("resource", key), zap.Error(err))
		}
	}
	return nil
}

// OpenData opens the backing file of key.
func (s *Store) OpenData(key string) (port.BackingFile, error) {
	return s.fs.OpenBacking(key)
}

// DataPath returns where the bytes of key are cached.
func (s *Store) DataPath(key string) string {
	return s.fs.DataPath(key)
}

// Reserve checks that the cache may grow by growth bytes.
func (s *Store) Reserve(growth int64) error {
	if s.space == nil || growth <= 0 {
		return nil
	}
	result, err := s.space.CheckSpace(growth)
	if err != nil {
		return fmt.Errorf("failed to check space: %w", err)
	}
	if !result.HasSpace {
		return fmt.Errorf("%w: need %d bytes (cache %d/%d, disk %.1f%%/%.1f%%)",
			domain.ErrInsufficientSpace, growth,
			result.CacheSizeBytes, result.MaxCacheSizeBytes,
			result.DiskUsedPct, result.MaxDiskUsagePct)
	}
	return nil
}

// Touch records an access to key in the index.
func (s *Store) Touch(ctx context.Context, key string) {
	if s.index == nil {
		return
	}
	if err := s.index.Touch(ctx, key); err != nil {
		s.logger.Debug("failed to touch resource", zap.String("resource", key), zap.Error(err))
	}
}

// List returns every indexed resource.
func (s *Store) List(ctx context.Context) ([]*port.ResourceRecord, error) {
	if s.index == nil {
		return nil, fmt.Errorf("resource index not configured")
	}
	return s.index.List(ctx)
}

// InUse reports how many users currently hold key.
func (s *Store) InUse(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.refs
	}
	return 0
}
