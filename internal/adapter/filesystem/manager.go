package filesystem

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/port"
)

const (
	dataExt = ".data"
	metaExt = ".meta"
	tempExt = ".tmp"
)

// Manager handles local filesystem operations for the cache directory.
// Each resource key maps to <root>/<shard>/<sha256(key)>.data and .meta.
type Manager struct {
	rootDir string
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager(rootDir string) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root dir: %w", err)
	}
	return &Manager{rootDir: rootDir}, nil
}

// RootDir returns the cache root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

func (m *Manager) basePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(m.rootDir, name[:2], name)
}

// DataPath returns the backing file path for a resource key
func (m *Manager) DataPath(key string) string {
	return m.basePath(key) + dataExt
}

// MetaPath returns the sidecar metadata path for a resource key
func (m *Manager) MetaPath(key string) string {
	return m.basePath(key) + metaExt
}

// EnsureDir ensures the directory for a file path exists
func (m *Manager) EnsureDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0755)
}

type backingFile struct {
	*os.File
}

func (f backingFile) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// OpenBacking opens or creates the backing file for a resource key
func (m *Manager) OpenBacking(key string) (port.BackingFile, error) {
	path := m.DataPath(key)
	if err := m.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("failed to create parent dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file: %w", err)
	}
	return backingFile{File: f}, nil
}

// ReadMeta opens the sidecar metadata of a resource key for reading.
// It returns domain.ErrNotFound when no sidecar exists.
func (m *Manager) ReadMeta(key string) (io.ReadCloser, error) {
	f, err := os.Open(m.MetaPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	return f, nil
}

// WriteMetaAtomic replaces the sidecar metadata of a resource key.
// Readers observe either the old or the new record, never a partial one.
func (m *Manager) WriteMetaAtomic(key string, write func(io.Writer) error) error {
	path := m.MetaPath(key)
	if err := m.EnsureDir(path); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tempExt)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// RemoveResource removes backing data and metadata of a resource key
func (m *Manager) RemoveResource(key string) error {
	if err := m.DeleteFile(m.DataPath(key)); err != nil {
		return err
	}
	return m.DeleteFile(m.MetaPath(key))
}

// DeleteFile removes a file, ignoring missing files
func (m *Manager) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// FileExists checks if a file exists
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns the size of a file
func (m *Manager) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// GetCacheSize returns total size of cached files
func (m *Manager) GetCacheSize() (int64, error) {
	var size int64
	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == tempExt && info.ModTime().Before(threshold) {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}

// CleanEmptyDirs removes empty directories under root
func (m *Manager) CleanEmptyDirs() error {
	return filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != m.rootDir {
			os.Remove(path) // Will only succeed if empty
		}
		return nil
	})
}
