package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertextoedge/streamcache/internal/service/maintenance"
	"github.com/vertextoedge/streamcache/internal/service/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming proxy and cache maintenance",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting streamcache",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.String("cache_dir", a.cfg.Cache.RootDir),
	)

	maintenanceService := maintenance.New(&maintenance.Config{
		CleanupInterval: a.cfg.Maintenance.GetCleanupInterval(),
		TempFileMaxAge:  a.cfg.Maintenance.GetTempFileMaxAge(),
	}, a.fs, a.db, a.store, a.logger)

	httpServer := server.New(&server.Config{
		BindAddr:      a.cfg.HTTP.BindAddr,
		AdminUsername: a.cfg.HTTP.AdminUsername,
		AdminPassword: a.cfg.HTTP.AdminPassword,
		ReadTimeout:   a.cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  a.cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   a.cfg.HTTP.GetIdleTimeout(),
	}, a.factory, a.store, a.logger,
		server.WithHealthCheck(a.db),
		server.WithKeyChecker(a.router),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		return maintenanceService.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received, stopping services...")
		maintenanceService.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("failed to stop HTTP server gracefully", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	a.logger.Info("streamcache stopped", zap.Any("metrics", a.metrics.GetMetrics()))
	return err
}
