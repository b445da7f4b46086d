package port

import (
	"context"
	"time"
)

// ResourceRecord is one row of the persistent resource index
type ResourceRecord struct {
	Key            string
	DataPath       string
	ExpectedLength int64
	ReceivedLength int64
	Completed      bool
	Digest         string
	TypeHint       int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt *time.Time
}

// ResourceIndex records which resources exist in the cache directory
type ResourceIndex interface {
	// Upsert creates or updates the row for rec.Key
	Upsert(ctx context.Context, rec *ResourceRecord) error
	// Get returns the row for key or domain.ErrNotFound
	Get(ctx context.Context, key string) (*ResourceRecord, error)
	// List returns all rows ordered by key
	List(ctx context.Context) ([]*ResourceRecord, error)
	// Delete removes the row for key; deleting a missing row is not an error
	Delete(ctx context.Context, key string) error
	// Touch updates last access time
	Touch(ctx context.Context, key string) error
}
