package cache

import (
	"github.com/vertextoedge/streamcache/internal/port"
)

// SpaceManager checks whether the cache directory may grow.
// A zero limit disables the corresponding check.
type SpaceManager struct {
	fs              port.FileSystem
	maxCacheSize    int64
	maxDiskUsagePct float64
}

// Ensure SpaceManager implements port.SpaceManager
var _ port.SpaceManager = (*SpaceManager)(nil)

// NewSpaceManager creates a new SpaceManager
func NewSpaceManager(fs port.FileSystem, maxCacheSize int64, maxDiskUsagePct float64) *SpaceManager {
	return &SpaceManager{
		fs:              fs,
		maxCacheSize:    maxCacheSize,
		maxDiskUsagePct: maxDiskUsagePct,
	}
}

// CheckSpace checks if the cache may grow by growth bytes
func (sm *SpaceManager) CheckSpace(growth int64) (*port.SpaceCheckResult, error) {
	result := &port.SpaceCheckResult{
		MaxCacheSizeBytes: sm.maxCacheSize,
		MaxDiskUsagePct:   sm.maxDiskUsagePct,
	}

	if sm.maxCacheSize > 0 {
		cacheSize, err := sm.fs.GetCacheSize()
		if err != nil {
			return nil, err
		}
		result.CacheSizeBytes = cacheSize
		result.AvailableBytes = sm.maxCacheSize - cacheSize

		if cacheSize+growth > sm.maxCacheSize {
			result.LimitedByCacheSize = true
			return result, nil
		}
	}

	if sm.maxDiskUsagePct > 0 {
		usage, err := sm.fs.GetDiskUsage()
		if err != nil {
			return nil, err
		}
		result.DiskUsedPct = usage.UsedPct

		if usage.UsedPct >= sm.maxDiskUsagePct {
			result.LimitedByDiskUsage = true
			return result, nil
		}

		if usage.Total > 0 {
			newUsedPct := float64(usage.Used+uint64(growth)) / float64(usage.Total) * 100
			if newUsedPct >= sm.maxDiskUsagePct {
				result.LimitedByDiskUsage = true
				return result, nil
			}
		}
	}

	result.HasSpace = true
	return result, nil
}

// HasSpace returns true if the cache may grow by growth bytes
func (sm *SpaceManager) HasSpace(growth int64) (bool, error) {
	result, err := sm.CheckSpace(growth)
	if err != nil {
		return false, err
	}
	return result.HasSpace, nil
}
