package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/ledgersync/internal/config"
	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/logging"
	"github.com/JonMunkholm/ledgersync/internal/provider"
	"github.com/JonMunkholm/ledgersync/internal/rawstore"
	"github.com/JonMunkholm/ledgersync/internal/store/memory"
	"github.com/JonMunkholm/ledgersync/internal/store/postgres"
	"github.com/JonMunkholm/ledgersync/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"sync_enabled", cfg.Sync.Enabled,
		"sync_interval", cfg.Sync.Interval.String(),
		"raw_archive", cfg.RawArchive.Bucket != "",
	)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	registry, stopWatch, err := loadProviders(cfg.Sync.ProvidersFile)
	if err != nil {
		slog.Error("failed to load providers", "error", err)
		os.Exit(1)
	}
	defer stopWatch()
	slog.Info("providers registered", "names", registry.Names())

	var opts []core.Option
	if cfg.RawArchive.Bucket != "" {
		archive, err := rawstore.NewGCS(ctx, cfg.RawArchive.Bucket, cfg.RawArchive.Prefix)
		if err != nil {
			slog.Error("failed to open raw archive", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		opts = append(opts, core.WithRawArchive(archive))
	}

	service := core.NewService(store, registry, provider.NewEnvResolver(), core.Config{
		BatchSize:      cfg.Import.BatchSize,
		MaxFileSize:    cfg.Import.MaxFileSize,
		RawInlineLimit: cfg.RawArchive.InlineLimit,
		JobTimeout:     cfg.Import.JobTimeout,
		Sync: core.SyncOptions{
			MaxPages:   cfg.Sync.MaxPages,
			TimeBudget: cfg.Sync.TimeBudget,
		},
	}, opts...)

	// Create server with config
	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Sync.Enabled {
		scheduler := core.NewScheduler(service, core.SchedulerConfig{
			Interval:    cfg.Sync.Interval,
			Concurrency: cfg.Sync.Concurrency,
		})
		go scheduler.Start(jobCtx)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first; in-flight imports keep running
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Stop scheduling, then wait for running jobs to reach a terminal state
		cancelJobs()
		if active := service.Guard().ActiveCount(); active > 0 {
			slog.Info("waiting for jobs to complete", "active", active)
			if err := service.Guard().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("jobs did not complete in time", "error", err)
			} else {
				slog.Info("all jobs completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openStore returns the configured store and a func releasing it.
func openStore(ctx context.Context, dc config.DatabaseConfig) (ledger.Store, func(), error) {
	if dc.Driver == config.DriverMemory {
		slog.Warn("using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	}

	if dc.AutoMigrate {
		if err := postgres.Migrate(dc.URL); err != nil {
			return nil, nil, err
		}
	}

	pool, err := postgres.Connect(ctx, dc.URL, postgres.PoolConfig{
		MaxConns:        dc.MaxConns,
		MinConns:        dc.MinConns,
		MaxConnLifetime: dc.MaxConnLifetime,
		MaxConnIdleTime: dc.MaxConnIdleTime,
	})
	if err != nil {
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(dc.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return postgres.New(pool), pool.Close, nil
}

// loadProviders builds the adapter registry. Without a providers file only
// the sandbox is registered; with one, the file is watched and the registry
// swapped on every successful reload.
func loadProviders(path string) (*provider.Registry, func(), error) {
	sandbox := provider.NewSandbox(provider.KindSandbox, provider.SandboxSettings{})
	if path == "" {
		return provider.NewRegistry(sandbox), func() {}, nil
	}

	loader, err := provider.NewLoader(path)
	if err != nil {
		return nil, nil, err
	}

	build := func(pc *provider.Config) ([]provider.Adapter, error) {
		adapters, err := pc.Build(nil)
		if err != nil {
			return nil, err
		}
		for _, a := range adapters {
			if a.Name() == sandbox.Name() {
				return adapters, nil
			}
		}
		return append(adapters, sandbox), nil
	}

	adapters, err := build(loader.Config())
	if err != nil {
		return nil, nil, err
	}
	registry := provider.NewRegistry(adapters...)

	loader.OnChange(func(pc *provider.Config) {
		adapters, err := build(pc)
		if err != nil {
			slog.Error("providers rebuild failed", "error", err)
			return
		}
		registry.Replace(adapters)
	})

	stop, err := loader.Watch()
	if err != nil {
		return nil, nil, err
	}
	return registry, stop, nil
}
