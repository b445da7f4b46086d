package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// TempFileMaxAge is the maximum age of temp files before cleanup
	TempFileMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CleanupInterval: 10 * time.Minute,
		TempFileMaxAge:  time.Hour,
	}
}

// UsageChecker reports whether a resource is currently open
type UsageChecker interface {
	InUse(key string) int
}

// Report summarizes one maintenance pass
type Report struct {
	TempFilesRemoved int
	RowsRemoved      int
}

// Service handles periodic maintenance tasks
type Service struct {
	config *Config
	fs     port.FileSystem
	index  port.ResourceIndex
	usage  UsageChecker
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. index and usage may be nil.
func New(cfg *Config, fs port.FileSystem, index port.ResourceIndex, usage UsageChecker, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = time.Hour
	}

	return &Service{
		config: cfg,
		fs:     fs,
		index:  index,
		usage:  usage,
		logger: logger,
	}
}

// Start runs maintenance until ctx is cancelled or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("cleanup_interval", s.config.CleanupInterval),
		zap.Duration("temp_file_max_age", s.config.TempFileMaxAge))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanupTicker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance pass
func (s *Service) RunOnce(ctx context.Context) Report {
	var r Report
	r.TempFilesRemoved = s.cleanupTempFiles()
	r.RowsRemoved = s.reconcileIndex(ctx)
	if err := s.fs.CleanEmptyDirs(); err != nil {
		s.logger.Warn("failed to clean empty directories", zap.Error(err))
	}
	return r
}

// cleanupTempFiles removes old temporary files from the filesystem
func (s *Service) cleanupTempFiles() int {
	fileCount, err := s.fs.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if fileCount > 0 {
		s.logger.Info("cleaned up old temp files from filesystem", zap.Int("count", fileCount))
	}
	return fileCount
}

// reconcileIndex drops index rows whose backing data is gone
func (s *Service) reconcileIndex(ctx context.Context) int {
	if s.index == nil {
		return 0
	}
	records, err := s.index.List(ctx)
	if err != nil {
		s.logger.Error("failed to list resource index", zap.Error(err))
		return 0
	}

	removed := 0
	for _, rec := range records {
		if s.usage != nil && s.usage.InUse(rec.Key) > 0 {
			continue
		}
		if s.fs.FileExists(s.fs.DataPath(rec.Key)) {
			continue
		}
		if err := s.fs.RemoveResource(rec.Key); err != nil {
			s.logger.Warn("failed to remove orphaned metadata", zap.String("resource", rec.Key), zap.Error(err))
			continue
		}
		if err := s.index.Delete(ctx, rec.Key); err != nil {
			s.logger.Warn("failed to delete index row", zap.String("resource", rec.Key), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed index rows without cached data", zap.Int("count", removed))
	}
	return removed
}
