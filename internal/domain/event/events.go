package event

import (
	"time"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp   time.Time
	ProviderID  string
	ResourceKey string
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func newBase(providerID, key string) BaseEvent {
	return BaseEvent{Timestamp: time.Now(), ProviderID: providerID, ResourceKey: key}
}

// ChunkReceived is raised once per chunk committed to the cache
type ChunkReceived struct {
	BaseEvent
	SessionID uint64
	Offset    int64
	Length    int64
}

// EventName returns the event name
func (e ChunkReceived) EventName() string {
	return "chunk.received"
}

// NewChunkReceived creates a new ChunkReceived event
func NewChunkReceived(providerID, key string, sessionID uint64, offset, length int64) ChunkReceived {
	return ChunkReceived{
		BaseEvent: newBase(providerID, key),
		SessionID: sessionID,
		Offset:    offset,
		Length:    length,
	}
}

// SessionStarted is raised when the scheduler issues a new request
type SessionStarted struct {
	BaseEvent
	SessionID uint64
	Start     int64
	Length    int64
	Seek      bool
}

// EventName returns the event name
func (e SessionStarted) EventName() string {
	return "session.started"
}

// NewSessionStarted creates a new SessionStarted event
func NewSessionStarted(providerID, key string, sessionID uint64, start, length int64, seek bool) SessionStarted {
	return SessionStarted{
		BaseEvent: newBase(providerID, key),
		SessionID: sessionID,
		Start:     start,
		Length:    length,
		Seek:      seek,
	}
}

// SessionFinished is raised when a request completes, fails or is cancelled
type SessionFinished struct {
	BaseEvent
	SessionID uint64
	State     string
	Received  int64
	Error     string
}

// EventName returns the event name
func (e SessionFinished) EventName() string {
	return "session.finished"
}

// NewSessionFinished creates a new SessionFinished event
func NewSessionFinished(providerID, key string, sessionID uint64, state string, received int64, err error) SessionFinished {
	ev := SessionFinished{
		BaseEvent: newBase(providerID, key),
		SessionID: sessionID,
		State:     state,
		Received:  received,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// Reconnected is raised when a stalled session is replaced
type Reconnected struct {
	BaseEvent
	StalledSessionID uint64
	Offset           int64
	Reason           string
}

// EventName returns the event name
func (e Reconnected) EventName() string {
	return "session.reconnected"
}

// NewReconnected creates a new Reconnected event
func NewReconnected(providerID, key string, stalled uint64, offset int64, reason string) Reconnected {
	return Reconnected{
		BaseEvent:        newBase(providerID, key),
		StalledSessionID: stalled,
		Offset:           offset,
		Reason:           reason,
	}
}

// DownloadFinished is raised when every byte of a resource is cached
type DownloadFinished struct {
	BaseEvent
	Size   int64
	Digest string
}

// EventName returns the event name
func (e DownloadFinished) EventName() string {
	return "download.finished"
}

// NewDownloadFinished creates a new DownloadFinished event
func NewDownloadFinished(providerID, key string, size int64, digest string) DownloadFinished {
	return DownloadFinished{
		BaseEvent: newBase(providerID, key),
		Size:      size,
		Digest:    digest,
	}
}

// DownloadFailed is raised when a provider gives up
type DownloadFailed struct {
	BaseEvent
	Error    string
	Attempts int
}

// EventName returns the event name
func (e DownloadFailed) EventName() string {
	return "download.failed"
}

// NewDownloadFailed creates a new DownloadFailed event
func NewDownloadFailed(providerID, key string, err error, attempts int) DownloadFailed {
	ev := DownloadFailed{
		BaseEvent: newBase(providerID, key),
		Attempts:  attempts,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// IntegrityMismatch is raised when a completed resource fails verification
type IntegrityMismatch struct {
	BaseEvent
	Expected string
	Actual   string
}

// EventName returns the event name
func (e IntegrityMismatch) EventName() string {
	return "integrity.mismatch"
}

// NewIntegrityMismatch creates a new IntegrityMismatch event
func NewIntegrityMismatch(providerID, key, expected, actual string) IntegrityMismatch {
	return IntegrityMismatch{
		BaseEvent: newBase(providerID, key),
		Expected:  expected,
		Actual:    actual,
	}
}

// CacheCorrupted is raised when persisted metadata is discarded on load
type CacheCorrupted struct {
	BaseEvent
	Reason string
}

// EventName returns the event name
func (e CacheCorrupted) EventName() string {
	return "cache.corrupted"
}

// NewCacheCorrupted creates a new CacheCorrupted event
func NewCacheCorrupted(key, reason string) CacheCorrupted {
	return CacheCorrupted{
		BaseEvent: newBase("", key),
		Reason:    reason,
	}
}
