// Package transport routes fetches to the fetcher registered for a URL scheme.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
)

// Router dispatches by resource key scheme
type Router struct {
	mu       sync.RWMutex
	fetchers map[string]port.RangeFetcher
}

// Ensure Router implements port.RangeFetcher
var _ port.RangeFetcher = (*Router)(nil)

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]port.RangeFetcher)}
}

// Register serves scheme with f, replacing any previous fetcher
func (r *Router) Register(f port.RangeFetcher, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.fetchers[strings.ToLower(s)] = f
	}
}

// Supports reports whether key has a registered scheme
func (r *Router) Supports(key string) bool {
	_, err := r.lookup(key)
	return err == nil
}

// Fetch forwards req to the fetcher for its scheme
func (r *Router) Fetch(ctx context.Context, req port.FetchRequest, h port.FetchHandler) error {
	f, err := r.lookup(req.Key)
	if err != nil {
		return err
	}
	return f.Fetch(ctx, req, h)
}

func (r *Router) lookup(key string) (port.RangeFetcher, error) {
	u, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	r.mu.RLock()
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedScheme, u.Scheme)
	}
	return f, nil
}
