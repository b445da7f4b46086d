package port

// SpaceCheckResult contains detailed space availability information
type SpaceCheckResult struct {
	HasSpace           bool
	AvailableBytes     int64
	CacheSizeBytes     int64
	MaxCacheSizeBytes  int64
	DiskUsedPct        float64
	MaxDiskUsagePct    float64
	LimitedByCacheSize bool
	LimitedByDiskUsage bool
}

// SpaceManager decides whether a backing file may grow by a number of bytes
type SpaceManager interface {
	// CheckSpace checks if there's enough space for growth bytes
	// and returns detailed information about space availability
	CheckSpace(growth int64) (*SpaceCheckResult, error)

	// HasSpace returns true if there's enough space for growth bytes
	HasSpace(growth int64) (bool, error)
}
