// Package integrity computes a sha256 digest of a resource while it downloads.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/vertextoedge/streamcache/internal/domain"
)

// Accumulator hashes bytes strictly in offset order. The first chunk that
// does not start at the cursor invalidates it until Reset.
// It is not safe for concurrent use; the scheduler lock serializes calls.
type Accumulator struct {
	h      hash.Hash
	cursor int64
	valid  bool
}

// New creates an accumulator positioned at offset zero.
func New() *Accumulator {
	return &Accumulator{h: sha256.New(), valid: true}
}

// Feed folds p into the digest if it continues the contiguous prefix.
func (a *Accumulator) Feed(offset int64, p []byte) {
	if !a.valid {
		return
	}
	if offset != a.cursor {
		a.valid = false
		return
	}
	a.h.Write(p)
	a.cursor += int64(len(p))
}

// Valid reports whether every byte so far arrived in order.
func (a *Accumulator) Valid() bool {
	return a.valid
}

// Cursor returns the number of bytes hashed.
func (a *Accumulator) Cursor() int64 {
	return a.cursor
}

// Finalize returns the digest when the accumulator is valid and has hashed
// exactly expectedLength bytes.
func (a *Accumulator) Finalize(expectedLength int64) ([]byte, bool) {
	if !a.valid || expectedLength < 0 || a.cursor != expectedLength {
		return nil, false
	}
	return a.h.Sum(nil), true
}

// Reset restarts hashing from offset zero.
func (a *Accumulator) Reset() {
	a.h.Reset()
	a.cursor = 0
	a.valid = true
}

// Prime hashes the first n bytes of r so a resumed download can keep
// accumulating from n.
func (a *Accumulator) Prime(r io.ReaderAt, n int64) error {
	a.Reset()
	if n <= 0 {
		return nil
	}
	written, err := io.Copy(a.h, io.NewSectionReader(r, 0, n))
	if err != nil {
		a.valid = false
		return fmt.Errorf("failed to hash cached prefix: %w", err)
	}
	a.cursor = written
	return nil
}

// HashReader returns the hex sha256 of the first n bytes of r.
func HashReader(r io.ReaderAt, n int64) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, n)); err != nil {
		return "", fmt.Errorf("failed to hash resource: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares a computed hex digest with the expected one.
func Verify(key, expectedHex, actualHex string) error {
	if expectedHex == "" || strings.EqualFold(expectedHex, actualHex) {
		return nil
	}
	return &domain.IntegrityMismatchError{ResourceKey: key, Expected: expectedHex, Actual: actualHex}
}
