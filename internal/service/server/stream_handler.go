package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/service/stream"
)

// StreamHandler serves resources through the progressive cache
type StreamHandler struct {
	providers ProviderSource
	cache     CacheAdmin
	keys      KeyChecker
	logger    *zap.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(providers ProviderSource, cache CacheAdmin, keys KeyChecker, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		providers: providers,
		cache:     cache,
		keys:      keys,
		logger:    logger,
	}
}

// StatusResponse describes the cache state of one resource
type StatusResponse struct {
	Key            string             `json:"key"`
	ProviderID     string             `json:"provider_id,omitempty"`
	Status         string             `json:"status"`
	ExpectedLength int64              `json:"expected_length"`
	ReceivedLength int64              `json:"received_length"`
	BufferingRatio float64            `json:"buffering_ratio"`
	TypeHint       string             `json:"type_hint"`
	Digest         string             `json:"digest,omitempty"`
	CachedPath     string             `json:"cached_path,omitempty"`
	Ranges         []domain.ByteRange `json:"ranges"`
	Error          string             `json:"error,omitempty"`
}

// HandleStream serves GET /stream?url=... with Range support. Bytes are
// sent as soon as they are cached.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key, ok := h.resourceKey(w, r)
	if !ok {
		return
	}

	var opts []stream.OpenOption
	if digest := r.URL.Query().Get("sha256"); digest != "" {
		opts = append(opts, stream.WithExpectedDigest(digest))
	}

	ctx := r.Context()
	p, err := h.providers.Open(ctx, key, opts...)
	if err != nil {
		h.logger.Error("failed to open provider", zap.String("resource", key), zap.Error(err))
		http.Error(w, "Resource not available", http.StatusInternalServerError)
		return
	}
	defer p.Close()

	if _, err := p.WaitForLength(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		h.writeProviderError(w, key, err)
		return
	}

	w.Header().Set("Content-Type", p.TypeHint().MIMEType())
	w.Header().Set("X-Cache-Provider", p.ID())
	http.ServeContent(w, r, "", time.Time{}, p.NewReader(ctx))

	h.logger.Debug("stream served",
		zap.String("resource", key),
		zap.String("provider", p.ID()),
		zap.Int64("received", p.ReceivedLength()))
}

// HandleStatus serves GET /status?url=...
func (h *StreamHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key, ok := h.resourceKey(w, r)
	if !ok {
		return
	}

	var resp StatusResponse
	if p, live := h.providers.Lookup(key); live {
		resp = StatusResponse{
			Key:            key,
			ProviderID:     p.ID(),
			Status:         p.Status().String(),
			ExpectedLength: p.ExpectedLength(),
			ReceivedLength: p.ReceivedLength(),
			BufferingRatio: p.BufferingRatio(),
			TypeHint:       p.TypeHint().String(),
			Digest:         p.Digest(),
			CachedPath:     p.CachedPath(),
			Ranges:         p.Ranges(),
		}
		if err := p.Err(); err != nil {
			resp.Error = err.Error()
		}
	} else {
		set, err := h.cache.Peek(key)
		if err != nil {
			h.logger.Error("failed to read cache metadata", zap.String("resource", key), zap.Error(err))
			http.Error(w, "Failed to read cache metadata", http.StatusInternalServerError)
			return
		}
		resp = StatusResponse{
			Key:            key,
			Status:         "idle",
			ExpectedLength: set.ExpectedLength(),
			ReceivedLength: set.ReceivedLength(),
			TypeHint:       set.TypeHint().String(),
			Digest:         set.Digest(),
			Ranges:         set.Ranges(),
		}
		if set.IsCompleted() {
			resp.Status = domain.StatusFinished.String()
		}
		if n := set.ExpectedLength(); n > 0 {
			resp.BufferingRatio = float64(set.ReceivedLength()) / float64(n)
		} else if n == 0 {
			resp.BufferingRatio = 1
		}
	}
	if resp.Ranges == nil {
		resp.Ranges = []domain.ByteRange{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *StreamHandler) resourceKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.URL.Query().Get("url")
	if key == "" {
		http.Error(w, "url parameter required", http.StatusBadRequest)
		return "", false
	}
	if h.keys != nil && !h.keys.Supports(key) {
		http.Error(w, "Unsupported resource url", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

func (h *StreamHandler) writeProviderError(w http.ResponseWriter, key string, err error) {
	var ne *domain.NetworkError
	switch {
	case errors.Is(err, domain.ErrUnsupportedScheme), errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, "Unsupported resource url", http.StatusBadRequest)
	case errors.Is(err, domain.ErrInsufficientSpace):
		http.Error(w, "Cache is full", http.StatusInsufficientStorage)
	case errors.As(err, &ne) && ne.StatusCode != 0:
		w.Header().Set("X-Upstream-Status", strconv.Itoa(ne.StatusCode))
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
	case errors.Is(err, context.Canceled):
		// Client went away
	default:
		h.logger.Warn("stream failed", zap.String("resource", key), zap.Error(err))
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
	}
}
