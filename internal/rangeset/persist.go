package rangeset

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/vertextoedge/streamcache/internal/domain"
)

// Metadata is the sidecar record persisted next to the backing file.
// A nil ExpectedLength means the length is unknown.
type Metadata struct {
	ResourceKey     string     `json:"resource_key"`
	ExpectedLength  *int64     `json:"expected_length"`
	Ranges          [][2]int64 `json:"ranges"`
	SupportSeek     bool       `json:"support_seek"`
	TypeHint        int32      `json:"type_hint"`
	IntegrityDigest string     `json:"integrity_digest,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Snapshot captures the current state as a sidecar record.
func (s *Set) Snapshot() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	md := Metadata{
		ResourceKey:     s.key,
		Ranges:          make([][2]int64, 0, len(s.ranges)),
		SupportSeek:     s.supportSeek,
		TypeHint:        int32(s.typeHint),
		IntegrityDigest: s.digest,
		UpdatedAt:       time.Now().UTC(),
	}
	if s.expectedLength >= 0 {
		n := s.expectedLength
		md.ExpectedLength = &n
	}
	for _, r := range s.ranges {
		md.Ranges = append(md.Ranges, [2]int64{r.Start, r.Length})
	}
	return md
}

// Persist writes the sidecar record to w.
func (s *Set) Persist(w io.Writer) error {
	return s.Snapshot().Encode(w)
}

// Encode writes md to w as JSON.
func (md Metadata) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(md); err != nil {
		return fmt.Errorf("failed to encode cache metadata: %w", err)
	}
	return nil
}

// ReceivedLength returns the number of bytes covered by the recorded ranges.
func (md Metadata) ReceivedLength() int64 {
	var n int64
	for _, r := range md.Ranges {
		n += r[1]
	}
	return n
}

// Length returns the recorded expected length, or domain.UnknownLength.
func (md Metadata) Length() int64 {
	if md.ExpectedLength == nil {
		return domain.UnknownLength
	}
	return *md.ExpectedLength
}

// Completed reports whether the recorded ranges cover the whole resource.
func (md Metadata) Completed() bool {
	return md.ExpectedLength != nil && md.ReceivedLength() == *md.ExpectedLength
}

// Load reads a sidecar record for key and validates it against the size of
// the backing file. Any inconsistency yields domain.ErrCacheCorruption and
// the caller is expected to start from an empty set.
func Load(r io.Reader, key string, backingSize int64) (*Set, error) {
	var md Metadata
	dec := json.NewDecoder(r)
	if err := dec.Decode(&md); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorruption, err)
	}
	return FromMetadata(md, key, backingSize)
}

// FromMetadata rebuilds a set from a decoded sidecar record.
func FromMetadata(md Metadata, key string, backingSize int64) (*Set, error) {
	if md.ResourceKey != key {
		return nil, fmt.Errorf("%w: metadata belongs to %q", domain.ErrCacheCorruption, md.ResourceKey)
	}

	s := New(key)
	s.supportSeek = md.SupportSeek
	s.typeHint = domain.TypeHint(md.TypeHint)
	s.digest = md.IntegrityDigest
	if md.ExpectedLength != nil {
		if *md.ExpectedLength < 0 {
			return nil, fmt.Errorf("%w: negative expected length %d", domain.ErrCacheCorruption, *md.ExpectedLength)
		}
		s.expectedLength = *md.ExpectedLength
	}

	prevEnd := int64(-1)
	for i, pair := range md.Ranges {
		r := domain.ByteRange{Start: pair[0], Length: pair[1]}
		switch {
		case r.Start < 0 || r.Length <= 0:
			return nil, fmt.Errorf("%w: range %d %v is empty or negative", domain.ErrCacheCorruption, i, r)
		case r.Start < prevEnd:
			return nil, fmt.Errorf("%w: range %d %v overlaps or is out of order", domain.ErrCacheCorruption, i, r)
		case s.expectedLength >= 0 && r.End() > s.expectedLength:
			return nil, fmt.Errorf("%w: range %d %v exceeds expected length %d", domain.ErrCacheCorruption, i, r, s.expectedLength)
		case r.End() > backingSize:
			return nil, fmt.Errorf("%w: range %d %v exceeds backing file size %d", domain.ErrCacheCorruption, i, r, backingSize)
		}
		prevEnd = r.End()
		// Adjacent ranges written by an older process are merged here.
		s.appendLocked(r)
	}

	if s.digest != "" && !s.completedLocked() {
		s.digest = ""
	}
	return s, nil
}

// appendLocked appends a range known to start at or after every stored range.
func (s *Set) appendLocked(r domain.ByteRange) {
	if n := len(s.ranges); n > 0 && s.ranges[n-1].End() == r.Start {
		s.ranges[n-1].Length += r.Length
	} else {
		s.ranges = append(s.ranges, r)
	}
	s.received += r.Length
}
