// Package rangeset tracks which byte ranges of a resource are present in the
// local backing file.
package rangeset

import (
	"math"
	"sort"
	"sync"

	"github.com/vertextoedge/streamcache/internal/domain"
)

// Set is the sorted, coalesced collection of cached byte ranges of one
// resource, plus the resource header learned from the server.
// No two stored ranges overlap or touch. All methods are safe for concurrent use.
type Set struct {
	mu             sync.RWMutex
	key            string
	expectedLength int64
	supportSeek    bool
	typeHint       domain.TypeHint
	digest         string
	ranges         []domain.ByteRange
	received       int64
}

// New creates an empty set for key. The length is unknown and range
// requests are assumed to work until the server says otherwise.
func New(key string) *Set {
	return &Set{
		key:            key,
		expectedLength: domain.UnknownLength,
		supportSeek:    true,
	}
}

// ResourceKey returns the key the set belongs to.
func (s *Set) ResourceKey() string {
	return s.key
}

// ExpectedLength returns the total resource size or domain.UnknownLength.
func (s *Set) ExpectedLength() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expectedLength
}

// SetExpectedLength records the total size. Ranges beyond it are clipped.
func (s *Set) SetExpectedLength(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expectedLength = n
	if n < 0 {
		return
	}
	kept := s.ranges[:0]
	var received int64
	for _, r := range s.ranges {
		r = r.Clip(n)
		if r.IsEmpty() {
			continue
		}
		kept = append(kept, r)
		received += r.Length
	}
	s.ranges = kept
	s.received = received
}

// SupportSeek reports whether the server honours range requests.
func (s *Set) SupportSeek() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supportSeek
}

// SetSupportSeek records whether the server honours range requests.
func (s *Set) SetSupportSeek(v bool) {
	s.mu.Lock()
	s.supportSeek = v
	s.mu.Unlock()
}

// TypeHint returns the container type hint.
func (s *Set) TypeHint() domain.TypeHint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typeHint
}

// SetTypeHint records the container type hint.
func (s *Set) SetTypeHint(h domain.TypeHint) {
	s.mu.Lock()
	s.typeHint = h
	s.mu.Unlock()
}

// Digest returns the hex sha256 of the complete resource, if known.
func (s *Set) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digest
}

// SetDigest records the hex sha256 of the complete resource.
func (s *Set) SetDigest(d string) {
	s.mu.Lock()
	s.digest = d
	s.mu.Unlock()
}

// ReceivedLength returns the total number of cached bytes.
func (s *Set) ReceivedLength() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received
}

// Ranges returns a copy of the stored ranges in ascending order.
func (s *Set) Ranges() []domain.ByteRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ByteRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// IsCompleted reports whether every byte of a known-length resource is cached.
func (s *Set) IsCompleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completedLocked()
}

func (s *Set) completedLocked() bool {
	return s.expectedLength >= 0 && s.received == s.expectedLength
}

// RangeAvailable reports whether q is fully cached. Because stored ranges
// are coalesced, that is the same as q lying inside a single stored range.
func (s *Set) RangeAvailable(q domain.ByteRange) bool {
	if q.IsEmpty() {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexContaining(q.Start)
	return i >= 0 && s.ranges[i].Contains(q)
}

// CachedRange returns the maximal contiguous cached range starting at from.
// The result is empty when from itself is not cached.
func (s *Set) CachedRange(from int64) domain.ByteRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexContaining(from)
	if i < 0 {
		return domain.ByteRange{Start: from}
	}
	return domain.NewByteRange(from, s.ranges[i].End())
}

// indexContaining returns the index of the range holding offset or -1.
func (s *Set) indexContaining(offset int64) int {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End() > offset
	})
	if i < len(s.ranges) && s.ranges[i].Start <= offset {
		return i
	}
	return -1
}

// Append marks r as cached, merging it with every range it overlaps or
// touches. Appending an already cached range is a no-op.
func (s *Set) Append(r domain.ByteRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r = r.Clip(s.expectedLength)
	if r.IsEmpty() || r.Start < 0 {
		return
	}

	// First stored range that could merge with r.
	lo := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End() >= r.Start
	})
	hi := lo
	merged := r
	for hi < len(s.ranges) && s.ranges[hi].Start <= r.End() {
		cur := s.ranges[hi]
		s.received -= cur.Length
		start := min(merged.Start, cur.Start)
		end := max(merged.End(), cur.End())
		merged = domain.NewByteRange(start, end)
		hi++
	}
	s.received += merged.Length

	switch {
	case hi == lo:
		s.ranges = append(s.ranges, domain.ByteRange{})
		copy(s.ranges[lo+1:], s.ranges[lo:])
		s.ranges[lo] = merged
	default:
		s.ranges[lo] = merged
		s.ranges = append(s.ranges[:lo+1], s.ranges[hi:]...)
	}
}

// NextNeededRange returns the first gap at or after from. The gap ends at
// the next cached range or at the expected length. With an unknown length
// the trailing gap is open-ended and callers must bound it.
// It returns false when nothing from from onwards is missing.
func (s *Set) NextNeededRange(from int64) (domain.ByteRange, bool) {
	if from < 0 {
		from = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.completedLocked() {
		return domain.ByteRange{}, false
	}
	if s.expectedLength >= 0 && from >= s.expectedLength {
		return domain.ByteRange{}, false
	}

	start := from
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End() > from
	})
	if i < len(s.ranges) && s.ranges[i].Start <= from {
		start = s.ranges[i].End()
		i++
	}

	end := int64(math.MaxInt64)
	if i < len(s.ranges) {
		end = s.ranges[i].Start
	} else if s.expectedLength >= 0 {
		end = s.expectedLength
	}
	if start >= end {
		return domain.ByteRange{}, false
	}
	return domain.NewByteRange(start, end), true
}
