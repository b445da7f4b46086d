package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "index.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &port.ResourceRecord{
		Key:            "http://example.com/a.mp3",
		DataPath:       "/cache/ab/abc.data",
		ExpectedLength: 1000,
		ReceivedLength: 400,
		TypeHint:       int32(domain.TypeMP3),
	}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	rec.ReceivedLength = 1000
	rec.Completed = true
	rec.Digest = "deadbeef"
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() second error = %v", err)
	}

	got, err := s.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ReceivedLength != 1000 || !got.Completed || got.Digest != "deadbeef" {
		t.Errorf("Get() = %+v, want updated row", got)
	}
	if got.TypeHint != int32(domain.TypeMP3) {
		t.Errorf("TypeHint = %d, want %d", got.TypeHint, domain.TypeMP3)
	}
	if got.LastAccessedAt != nil {
		t.Errorf("LastAccessedAt = %v, want nil before Touch", got.LastAccessedAt)
	}

	if err := s.Touch(ctx, rec.Key); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	got, _ = s.Get(ctx, rec.Key)
	if got.LastAccessedAt == nil {
		t.Error("LastAccessedAt = nil after Touch")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListDeleteStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, rec := range []*port.ResourceRecord{
		{Key: "b", DataPath: "/b", ExpectedLength: 10, ReceivedLength: 10, Completed: true},
		{Key: "a", DataPath: "/a", ExpectedLength: -1, ReceivedLength: 5},
	} {
		if err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Key != "a" || list[1].Key != "b" {
		t.Fatalf("List() = %+v, want rows a, b", list)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Resources != 2 || stats.Completed != 1 || stats.ReceivedBytes != 15 {
		t.Errorf("GetStats() = %+v", stats)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() missing error = %v", err)
	}
	list, _ = s.List(ctx)
	if len(list) != 1 {
		t.Errorf("List() after Delete = %d rows, want 1", len(list))
	}
}
