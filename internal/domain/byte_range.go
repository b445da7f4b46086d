package domain

import "fmt"

// UnknownLength marks a resource whose total size has not been learned yet.
const UnknownLength int64 = -1

// ByteRange is the half-open interval [Start, Start+Length).
type ByteRange struct {
	Start  int64
	Length int64
}

// NewByteRange creates a range covering [start, end).
func NewByteRange(start, end int64) ByteRange {
	if end < start {
		end = start
	}
	return ByteRange{Start: start, Length: end - start}
}

// End returns the exclusive end offset.
func (r ByteRange) End() int64 {
	return r.Start + r.Length
}

// IsEmpty reports whether the range covers no bytes.
func (r ByteRange) IsEmpty() bool {
	return r.Length <= 0
}

// Contains reports whether other lies fully inside r.
// An empty range is contained by every range.
func (r ByteRange) Contains(other ByteRange) bool {
	if other.IsEmpty() {
		return true
	}
	return other.Start >= r.Start && other.End() <= r.End()
}

// ContainsOffset reports whether offset lies inside r.
func (r ByteRange) ContainsOffset(offset int64) bool {
	return offset >= r.Start && offset < r.End()
}

// Touches reports whether r and other overlap or are adjacent,
// meaning their union is a single contiguous range.
func (r ByteRange) Touches(other ByteRange) bool {
	return r.Start <= other.End() && other.Start <= r.End()
}

// Clip limits r to [0, limit). A negative limit leaves r unchanged.
func (r ByteRange) Clip(limit int64) ByteRange {
	if limit < 0 {
		return r
	}
	end := r.End()
	if end > limit {
		end = limit
	}
	start := r.Start
	if start > end {
		start = end
	}
	return ByteRange{Start: start, Length: end - start}
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End())
}
