package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// BackingFile is the sparse local file holding the downloaded bytes of one
// resource. Reads of committed ranges may run concurrently with writes.
type BackingFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	// Truncate grows or shrinks the file to size bytes
	Truncate(size int64) error
	// Size returns the current file size
	Size() (int64, error)
	// Sync flushes written data to stable storage
	Sync() error
	// Name returns the path of the file
	Name() string
}

// FileSystem defines the interface for cache filesystem operations
type FileSystem interface {
	// RootDir returns the cache root directory
	RootDir() string

	// DataPath returns the backing file path for a resource key
	DataPath(key string) string

	// MetaPath returns the sidecar metadata path for a resource key
	MetaPath(key string) string

	// OpenBacking opens or creates the backing file for a resource key
	OpenBacking(key string) (BackingFile, error)

	// ReadMeta opens the sidecar metadata of a resource key for reading
	ReadMeta(key string) (io.ReadCloser, error)

	// WriteMetaAtomic replaces the sidecar metadata of a resource key
	// via a temp file and rename
	WriteMetaAtomic(key string, write func(io.Writer) error) error

	// RemoveResource removes backing data and metadata of a resource key
	RemoveResource(key string) error

	// FileExists checks if a file exists
	FileExists(path string) bool

	// GetFileSize returns the size of a file
	GetFileSize(path string) (int64, error)

	// GetCacheSize returns total size of cached files
	GetCacheSize() (int64, error)

	// GetDiskUsage returns disk usage statistics
	GetDiskUsage() (*DiskUsage, error)

	// CleanOldTempFiles removes temp files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)

	// CleanEmptyDirs removes empty shard directories
	CleanEmptyDirs() error
}
