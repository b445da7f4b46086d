package stream

import (
	"context"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
)

// Session is one bounded in-flight range request.
// A negative Length means the whole remaining body, used when the server
// ignores range requests.
type Session struct {
	ID       uint64
	Start    int64
	Length   int64
	Received int64
	State    domain.SessionState
	Seek     bool

	cancel context.CancelFunc
}

// End returns the exclusive end of the requested span, or -1 when unbounded.
func (s *Session) End() int64 {
	if s.Length < 0 {
		return -1
	}
	return s.Start + s.Length
}

// Covers reports whether offset falls inside the requested span or directly
// after it, where sequential readahead continues.
func (s *Session) Covers(offset int64) bool {
	if offset < s.Start {
		return false
	}
	return s.Length < 0 || offset <= s.Start+s.Length
}

// sessionHandler routes fetcher callbacks for one session id to the scheduler.
type sessionHandler struct {
	s  *Scheduler
	id uint64
}

func (h sessionHandler) OnInfo(info port.ResourceInfo) {
	h.s.OnResourceInfo(h.id, info)
}

func (h sessionHandler) OnData(offset int64, p []byte) error {
	return h.s.OnBytesReceived(h.id, offset, p)
}
