package event

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case ChunkReceived:
		// Too chatty for anything above debug.
		if ce := h.logger.Check(zap.DebugLevel, "chunk received"); ce != nil {
			ce.Write(
				zap.String("provider_id", e.ProviderID),
				zap.Uint64("session_id", e.SessionID),
				zap.Int64("offset", e.Offset),
				zap.Int64("length", e.Length),
			)
		}
	case SessionStarted:
		h.logger.Debug("session started",
			zap.String("provider_id", e.ProviderID),
			zap.String("resource", e.ResourceKey),
			zap.Uint64("session_id", e.SessionID),
			zap.Int64("start", e.Start),
			zap.Int64("length", e.Length),
			zap.Bool("seek", e.Seek),
		)
	case SessionFinished:
		h.logger.Debug("session finished",
			zap.String("provider_id", e.ProviderID),
			zap.Uint64("session_id", e.SessionID),
			zap.String("state", e.State),
			zap.Int64("received", e.Received),
			zap.String("error", e.Error),
		)
	case Reconnected:
		h.logger.Warn("stalled session reconnected",
			zap.String("provider_id", e.ProviderID),
			zap.String("resource", e.ResourceKey),
			zap.Uint64("stalled_session_id", e.StalledSessionID),
			zap.Int64("offset", e.Offset),
			zap.String("reason", e.Reason),
		)
	case DownloadFinished:
		h.logger.Info("download finished",
			zap.String("provider_id", e.ProviderID),
			zap.String("resource", e.ResourceKey),
			zap.Int64("size", e.Size),
			zap.String("sha256", e.Digest),
		)
	case DownloadFailed:
		h.logger.Error("download failed",
			zap.String("provider_id", e.ProviderID),
			zap.String("resource", e.ResourceKey),
			zap.String("error", e.Error),
			zap.Int("attempts", e.Attempts),
		)
	case IntegrityMismatch:
		h.logger.Error("integrity mismatch",
			zap.String("resource", e.ResourceKey),
			zap.String("expected", e.Expected),
			zap.String("actual", e.Actual),
		)
	case CacheCorrupted:
		h.logger.Warn("discarding corrupted cache metadata",
			zap.String("resource", e.ResourceKey),
			zap.String("reason", e.Reason),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"}
}

// MetricsHandler counts download activity. Safe for concurrent use.
type MetricsHandler struct {
	bytesReceived     atomic.Int64
	sessionsStarted   atomic.Int64
	reconnects        atomic.Int64
	downloadsFinished atomic.Int64
	downloadsFailed   atomic.Int64
	integrityErrors   atomic.Int64
	corruptedEntries  atomic.Int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case ChunkReceived:
		h.bytesReceived.Add(e.Length)
	case SessionStarted:
		h.sessionsStarted.Add(1)
	case Reconnected:
		h.reconnects.Add(1)
	case DownloadFinished:
		h.downloadsFinished.Add(1)
	case DownloadFailed:
		h.downloadsFailed.Add(1)
	case IntegrityMismatch:
		h.integrityErrors.Add(1)
	case CacheCorrupted:
		h.corruptedEntries.Add(1)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		"chunk.received",
		"session.started",
		"session.reconnected",
		"download.finished",
		"download.failed",
		"integrity.mismatch",
		"cache.corrupted",
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"bytes_received":     h.bytesReceived.Load(),
		"sessions_started":   h.sessionsStarted.Load(),
		"reconnects":         h.reconnects.Load(),
		"downloads_finished": h.downloadsFinished.Load(),
		"downloads_failed":   h.downloadsFailed.Load(),
		"integrity_errors":   h.integrityErrors.Load(),
		"corrupted_entries":  h.corruptedEntries.Load(),
	}
}
