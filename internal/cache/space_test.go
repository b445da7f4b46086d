package cache

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vertextoedge/streamcache/internal/port"
)

const gb = 1024 * 1024 * 1024

// mockFileSystem implements port.FileSystem for testing
type mockFileSystem struct {
	cacheSize int64
	diskUsage *port.DiskUsage
	err       error
}

func (m *mockFileSystem) GetCacheSize() (int64, error) {
	return m.cacheSize, m.err
}

func (m *mockFileSystem) GetDiskUsage() (*port.DiskUsage, error) {
	return m.diskUsage, m.err
}

// Stub implementations for other FileSystem methods
func (m *mockFileSystem) RootDir() string                                  { return "" }
func (m *mockFileSystem) DataPath(key string) string                       { return "" }
func (m *mockFileSystem) MetaPath(key string) string                       { return "" }
func (m *mockFileSystem) OpenBacking(key string) (port.BackingFile, error) { return nil, m.err }
func (m *mockFileSystem) ReadMeta(key string) (io.ReadCloser, error)       { return nil, m.err }
func (m *mockFileSystem) WriteMetaAtomic(key string, write func(io.Writer) error) error {
	return m.err
}
func (m *mockFileSystem) RemoveResource(key string) error                        { return nil }
func (m *mockFileSystem) FileExists(path string) bool                            { return false }
func (m *mockFileSystem) GetFileSize(path string) (int64, error)                 { return 0, nil }
func (m *mockFileSystem) CleanOldTempFiles(olderThan time.Duration) (int, error) { return 0, nil }
func (m *mockFileSystem) CleanEmptyDirs() error                                  { return nil }

func TestSpaceManager_CheckSpace(t *testing.T) {
	tests := []struct {
		name             string
		maxCacheSize     int64
		maxDiskUsagePct  float64
		cacheSize        int64
		diskUsage        *port.DiskUsage
		growth           int64
		wantHasSpace     bool
		wantLimitedCache bool
		wantLimitedDisk  bool
	}{
		{
			name:            "has space - well under limits",
			maxCacheSize:    100 * gb,
			maxDiskUsagePct: 80,
			cacheSize:       10 * gb,
			diskUsage:       &port.DiskUsage{Total: 1000 * gb, Used: 400 * gb, Free: 600 * gb, UsedPct: 40},
			growth:          1 * gb,
			wantHasSpace:    true,
		},
		{
			name:             "limited by cache size",
			maxCacheSize:     50 * gb,
			maxDiskUsagePct:  80,
			cacheSize:        49 * gb,
			diskUsage:        &port.DiskUsage{Total: 1000 * gb, Used: 400 * gb, Free: 600 * gb, UsedPct: 40},
			growth:           2 * gb,
			wantLimitedCache: true,
		},
		{
			name:            "limited by current disk usage",
			maxCacheSize:    100 * gb,
			maxDiskUsagePct: 50,
			cacheSize:       10 * gb,
			diskUsage:       &port.DiskUsage{Total: 1000 * gb, Used: 500 * gb, Free: 500 * gb, UsedPct: 50},
			growth:          1 * gb,
			wantLimitedDisk: true,
		},
		{
			name:            "limited by projected disk usage",
			maxCacheSize:    100 * gb,
			maxDiskUsagePct: 50,
			cacheSize:       10 * gb,
			diskUsage:       &port.DiskUsage{Total: 1000 * gb, Used: 450 * gb, Free: 550 * gb, UsedPct: 45},
			growth:          60 * gb,
			wantLimitedDisk: true,
		},
		{
			name:            "exactly at cache limit - still ok",
			maxCacheSize:    50 * gb,
			maxDiskUsagePct: 80,
			cacheSize:       49 * gb,
			diskUsage:       &port.DiskUsage{Total: 1000 * gb, Used: 400 * gb, Free: 600 * gb, UsedPct: 40},
			growth:          1 * gb,
			wantHasSpace:    true,
		},
		{
			name:            "limits disabled",
			maxCacheSize:    0,
			maxDiskUsagePct: 0,
			cacheSize:       500 * gb,
			diskUsage:       &port.DiskUsage{Total: 1000 * gb, Used: 999 * gb, UsedPct: 99.9},
			growth:          100 * gb,
			wantHasSpace:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &mockFileSystem{
				cacheSize: tt.cacheSize,
				diskUsage: tt.diskUsage,
			}

			sm := NewSpaceManager(fs, tt.maxCacheSize, tt.maxDiskUsagePct)
			result, err := sm.CheckSpace(tt.growth)
			if err != nil {
				t.Fatalf("CheckSpace() error = %v", err)
			}

			if result.HasSpace != tt.wantHasSpace {
				t.Errorf("HasSpace = %v, want %v", result.HasSpace, tt.wantHasSpace)
			}
			if result.LimitedByCacheSize != tt.wantLimitedCache {
				t.Errorf("LimitedByCacheSize = %v, want %v", result.LimitedByCacheSize, tt.wantLimitedCache)
			}
			if result.LimitedByDiskUsage != tt.wantLimitedDisk {
				t.Errorf("LimitedByDiskUsage = %v, want %v", result.LimitedByDiskUsage, tt.wantLimitedDisk)
			}
		})
	}
}

func TestSpaceManager_Error(t *testing.T) {
	fs := &mockFileSystem{err: errors.New("statfs failed")}
	sm := NewSpaceManager(fs, 10, 50)
	if _, err := sm.HasSpace(1); err == nil {
		t.Error("HasSpace() error = nil, want error")
	}
}
