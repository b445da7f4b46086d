package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vertextoedge/streamcache/internal/adapter/filesystem"
	"github.com/vertextoedge/streamcache/internal/adapter/httpfetch"
	"github.com/vertextoedge/streamcache/internal/adapter/s3fetch"
	"github.com/vertextoedge/streamcache/internal/adapter/sqlite"
	"github.com/vertextoedge/streamcache/internal/adapter/transport"
	"github.com/vertextoedge/streamcache/internal/cache"
	"github.com/vertextoedge/streamcache/internal/config"
	"github.com/vertextoedge/streamcache/internal/domain/event"
	"github.com/vertextoedge/streamcache/internal/logger"
	"github.com/vertextoedge/streamcache/internal/service/recovery"
	"github.com/vertextoedge/streamcache/internal/service/stream"
)

// app holds the wired components shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	fs      *filesystem.Manager
	db      *sqlite.Store
	store   *cache.Store
	router  *transport.Router
	metrics *event.MetricsHandler
	factory *stream.Factory
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zapLogger := logger.GetZapLogger()

	fsManager, err := filesystem.NewManager(cfg.Cache.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem manager: %w", err)
	}

	dbPath := cfg.GetDatabasePath()
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	dispatcher := event.NewInMemoryDispatcher()
	dispatcher.Subscribe(event.NewLoggingHandler(zapLogger))
	metrics := event.NewMetricsHandler()
	dispatcher.Subscribe(metrics)

	space := cache.NewSpaceManager(fsManager, cfg.Cache.GetMaxSizeBytes(), float64(cfg.Cache.MaxDiskUsagePercent))
	store := cache.NewStore(fsManager,
		cache.Config{PurgeOnRelease: cfg.Options.PurgeOnRelease},
		zapLogger,
		cache.WithIndex(db),
		cache.WithSpaceManager(space),
		cache.WithDispatcher(dispatcher),
	)

	router := transport.NewRouter()
	router.Register(httpfetch.New(httpfetch.Config{
		UserAgent:             cfg.Fetch.UserAgent,
		ResponseHeaderTimeout: cfg.Fetch.GetResponseHeaderTimeout(),
		IdleConnTimeout:       cfg.Fetch.GetIdleConnTimeout(),
		BufferSizeKB:          cfg.Fetch.BufferSizeKB,
		SkipTLSVerify:         cfg.Fetch.SkipTLSVerify,
	}), "http", "https")

	if cfg.S3.Enabled {
		s3Fetcher, err := s3fetch.NewFromConfig(ctx, s3fetch.Config{
			Region:       cfg.S3.Region,
			Profile:      cfg.S3.Profile,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		router.Register(s3Fetcher, s3fetch.Scheme)
	}

	sched := stream.DefaultSchedulerConfig()
	sched.MaxRequestLength = cfg.Cache.GetMaxRequestLength()
	sched.MaxAttempts = cfg.Cache.MaxAttempts
	sched.RetryBackoff = cfg.Cache.GetRetryBackoff()
	sched.PersistInterval = cfg.Cache.GetPersistInterval()
	sched.RequireIntegrity = cfg.Options.RequireIntegrity

	watchdog := recovery.DefaultConfig()
	watchdog.Period = cfg.Watchdog.GetPeriod()
	watchdog.InactiveBeforeReconnect = cfg.Watchdog.GetInactiveBeforeReconnect()
	watchdog.MaxReconnectsPerMinute = cfg.Watchdog.MaxReconnectsPerMinute

	factory := stream.NewFactory(store, router, dispatcher, stream.Config{
		Scheduler:       sched,
		WatchdogEnabled: cfg.Watchdog.Enabled,
		Watchdog:        watchdog,
	}, zapLogger)

	return &app{
		cfg:     cfg,
		logger:  zapLogger,
		fs:      fsManager,
		db:      db,
		store:   store,
		router:  router,
		metrics: metrics,
		factory: factory,
	}, nil
}

func (a *app) Close() error {
	a.factory.CloseAll()
	err := a.db.Close()
	logger.Sync()
	return err
}
