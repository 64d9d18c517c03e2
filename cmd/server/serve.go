package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/heatmap-tiles/server/internal/api"
	"github.com/heatmap-tiles/server/internal/cache"
	"github.com/heatmap-tiles/server/internal/config"
	"github.com/heatmap-tiles/server/internal/data/payload"
	"github.com/heatmap-tiles/server/internal/render"
	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/internal/service"
	"github.com/heatmap-tiles/server/internal/statestore"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tiles, views and dataset queries over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			logger := loggerFrom(cmd)
			if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("verbose") {
				if lvl, err := parseLevel(cfg.Log.Level); err == nil {
					logger.SetLevel(lvl)
				} else {
					logger.Warn("ignoring log level from config", "err", err)
				}
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/server.yaml", "path to configuration file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port; overrides the config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	dsCfg, renderCfg, vpCfg, err := engineConfigs(cfg)
	if err != nil {
		return err
	}

	// Shared across all datasets
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	renderer := render.NewTileRenderer(renderCfg)

	reader, err := payload.NewReader()
	if err != nil {
		return fmt.Errorf("failed to initialize payload reader: %w", err)
	}
	defer reader.Close()

	states, err := statestore.NewStore(cfg.State.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer states.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.State.HistoryRetention > 0 {
		go pruneHistory(ctx, states, time.Duration(cfg.State.HistoryRetention)*24*time.Hour, logger)
	}

	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	var loops []*scheduler.Loop
	defer func() {
		for _, l := range loops {
			l.Stop()
		}
	}()

	for _, id := range datasetIDs {
		ds := cfg.Data.Datasets[id]
		loop := scheduler.NewLoop(cfg.Viewport.Frame())
		loop.Start(ctx)
		loops = append(loops, loop)

		svc := service.NewHeatmapService(service.HeatmapServiceConfig{
			DatasetID:      id,
			PayloadPath:    ds.PayloadPath,
			ClusteringPath: ds.ClusteringPath,
			Reader:         reader,
			Runner:         loop,
			Cache:          cacheManager,
			Renderer:       renderer,
			States:         states,
			Dataset:        dsCfg,
			Viewport:       vpCfg,
			Logger:         logger,
		})
		registry.Register(id, svc)

		// Datasets answer 503 until their ingestion finishes.
		go func(id string) {
			if _, err := svc.Load(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("failed to load dataset", "dataset", id, "err", err)
			}
		}(id)
		logger.Info("registered dataset", "dataset", id, "payload", ds.PayloadPath)
	}

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "err", err)
	}
	logger.Info("server stopped")
	return nil
}

func pruneHistory(ctx context.Context, states *statestore.Store, retention time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if n, err := states.PruneHistory(retention); err != nil {
			logger.Warn("failed to prune state history", "err", err)
		} else if n > 0 {
			logger.Debug("pruned state history", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
