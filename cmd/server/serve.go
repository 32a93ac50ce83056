package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	h "github.com/veranemoloko/offline-downloader/internal/api/http"
	"github.com/veranemoloko/offline-downloader/internal/auth"
	cfgpkg "github.com/veranemoloko/offline-downloader/internal/config"
	"github.com/veranemoloko/offline-downloader/internal/filerepo"
	repo "github.com/veranemoloko/offline-downloader/internal/repository"
	svc "github.com/veranemoloko/offline-downloader/internal/service"
	"github.com/veranemoloko/offline-downloader/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the download workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func openStore(ctx context.Context, cfg *cfgpkg.Config) (repo.TaskRepo, error) {
	store, err := repo.Open(ctx, repo.Options{
		Driver:    cfg.StoreDriver,
		DSN:       cfg.StoreDSN,
		StateFile: cfg.StateFile,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	return store, nil
}

func newRepoService(cfg *cfgpkg.Config) (filerepo.Service, error) {
	switch cfg.RepoService {
	case cfgpkg.RepoServiceHTTP:
		return filerepo.NewHTTPService(cfg.RepoServiceURL, cfg.RepoServiceToken, cfg.RepoTimeout), nil
	default:
		return filerepo.NewLocalService(cfg.RepoRoot, cfg.RepoManifest)
	}
}

func serve() error {
	cfg, err := cfgpkg.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully",
		"environment", cfg.Environment,
		"store_driver", cfg.StoreDriver,
		"repo_service", cfg.RepoService,
		"offline_download_enabled", cfg.OfflineDownloadEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	repos, err := newRepoService(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize repository service: %w", err)
	}

	downloadWorker := worker.NewDownloadWorker(store, repos, worker.Options{
		DownloadTimeout: cfg.DownloadTimeout,
		MaxFileSize:     cfg.MaxFileSize,
		MaxAttempts:     cfg.MaxAttempts,
		FetchRetries:    cfg.FetchRetries,
	}, logger)
	dispatcher := worker.NewDispatcher(store, downloadWorker, worker.DispatcherOptions{
		PoolSize:     cfg.WorkerPoolSize,
		PollInterval: cfg.PollInterval,
		Lease:        cfg.LeaseDuration,
	}, logger)

	taskService := svc.NewTaskService(store, repos, dispatcher, svc.TaskOptions{
		BlockPrivateHosts:     cfg.BlockPrivateHosts,
		MaxActiveTasksPerUser: cfg.MaxActiveTasksPerUser,
	}, logger)
	adminService := svc.NewAdminService(store, repos, svc.AdminOptions{
		CacheTTL:    cfg.RepoCacheTTL,
		CacheSize:   cfg.RepoCacheSize,
		Parallelism: cfg.EnrichParallel,
	}, logger)

	router := h.NewRouter(h.RouterDeps{
		TaskService:     taskService,
		AdminService:    adminService,
		Verifier:        auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Enabled:         cfg.OfflineDownloadEnabled,
		AdminMaxPerPage: cfg.AdminMaxPerPage,
		UserRateLimit:   cfg.UserRateLimit,
		UserRateBurst:   cfg.UserRateBurst,
		Logger:          logger,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	dispatcherDone := make(chan struct{})
	if cfg.OfflineDownloadEnabled {
		go func() {
			defer close(dispatcherDone)
			if err := dispatcher.Run(ctx); err != nil {
				logger.Error("dispatcher failed", "error", err)
			}
		}()
	} else {
		close(dispatcherDone)
		logger.Warn("offline download disabled, workers not started")
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		stop()
		<-dispatcherDone
		return fmt.Errorf("server failed to start: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher shutdown timed out")
	}
	logger.Info("shutdown complete")
	return nil
}
