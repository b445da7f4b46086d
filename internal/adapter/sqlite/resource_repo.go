package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
)

// Ensure Store implements port.ResourceIndex
var _ port.ResourceIndex = (*Store)(nil)

const resourceColumns = `resource_key, data_path, expected_length, received_length,
	completed, digest, type_hint, created_at, updated_at, last_accessed_at`

// Upsert creates or updates the row for rec.Key
func (s *Store) Upsert(ctx context.Context, rec *port.ResourceRecord) error {
	query := `
		INSERT INTO resources (
			resource_key, data_path, expected_length, received_length,
			completed, digest, type_hint, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_key) DO UPDATE SET
			data_path = excluded.data_path,
			expected_length = excluded.expected_length,
			received_length = excluded.received_length,
			completed = excluded.completed,
			digest = excluded.digest,
			type_hint = excluded.type_hint,
			updated_at = excluded.updated_at
	`

	var digest sql.NullString
	if rec.Digest != "" {
		digest = sql.NullString{String: rec.Digest, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Key, rec.DataPath, rec.ExpectedLength, rec.ReceivedLength,
		rec.Completed, digest, rec.TypeHint, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}
	return nil
}

// Get returns the row for key or domain.ErrNotFound
func (s *Store) Get(ctx context.Context, key string) (*port.ResourceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE resource_key = ?`, key)
	rec, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all rows ordered by key
func (s *Store) List(ctx context.Context) ([]*port.ResourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY resource_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*port.ResourceRecord
	for rows.Next() {
		rec, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes the row for key
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE resource_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

// Touch updates last access time
func (s *Store) Touch(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE resources SET last_accessed_at = ? WHERE resource_key = ?`,
		time.Now().UTC(), key)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*port.ResourceRecord, error) {
	rec := &port.ResourceRecord{}
	var digest sql.NullString
	var createdAt, updatedAt, lastAccessed sql.NullTime

	err := row.Scan(
		&rec.Key, &rec.DataPath, &rec.ExpectedLength, &rec.ReceivedLength,
		&rec.Completed, &digest, &rec.TypeHint, &createdAt, &updatedAt, &lastAccessed,
	)
	if err != nil {
		return nil, err
	}

	rec.Digest = digest.String
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	if lastAccessed.Valid {
		t := lastAccessed.Time
		rec.LastAccessedAt = &t
	}
	return rec, nil
}
