package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// AdminHandler handles cache administration requests
type AdminHandler struct {
	cache  CacheAdmin
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(cache CacheAdmin, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		cache:  cache,
		logger: logger,
	}
}

// HandlePurge handles DELETE /cache?url=...
func (h *AdminHandler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("url")
	if key == "" {
		http.Error(w, "url parameter required", http.StatusBadRequest)
		return
	}
	if h.cache.InUse(key) > 0 {
		http.Error(w, "Resource is being streamed", http.StatusConflict)
		return
	}

	if err := h.cache.Purge(r.Context(), key); err != nil {
		h.logger.Error("failed to purge resource", zap.String("resource", key), zap.Error(err))
		http.Error(w, "Failed to purge resource", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleList handles GET /debug/resources
func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := h.cache.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list resources", zap.Error(err))
		http.Error(w, "Failed to list resources", http.StatusInternalServerError)
		return
	}

	type resource struct {
		Key            string `json:"key"`
		ExpectedLength int64  `json:"expected_length"`
		ReceivedLength int64  `json:"received_length"`
		Completed      bool   `json:"completed"`
		Digest         string `json:"digest,omitempty"`
		InUse          int    `json:"in_use"`
	}
	out := make([]resource, 0, len(records))
	for _, rec := range records {
		out = append(out, resource{
			Key:            rec.Key,
			ExpectedLength: rec.ExpectedLength,
			ReceivedLength: rec.ReceivedLength,
			Completed:      rec.Completed,
			Digest:         rec.Digest,
			InUse:          h.cache.InUse(rec.Key),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"resources": out})
}
