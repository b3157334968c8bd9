// Package app initializes and holds the long-lived services of the
// lookup binary, acting as a dependency injection container, and
// drives the run lifecycle on top of them.
package app

import (
	"context"
	"fmt"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/cache"
	cacheredis "github.com/swatchlab/swatchsync/internal/cache/redis"
	"github.com/swatchlab/swatchsync/internal/cleanup"
	"github.com/swatchlab/swatchsync/internal/clock/system"
	"github.com/swatchlab/swatchsync/internal/config"
	"github.com/swatchlab/swatchsync/internal/dataset"
	datasetpg "github.com/swatchlab/swatchsync/internal/dataset/postgres"
	"github.com/swatchlab/swatchsync/internal/hash/sha256"
	"github.com/swatchlab/swatchsync/internal/id/uuid"
	"github.com/swatchlab/swatchsync/internal/logging"
	"github.com/swatchlab/swatchsync/internal/monitor"
	"github.com/swatchlab/swatchsync/internal/progress"
	"github.com/swatchlab/swatchsync/internal/progress/sinks"
	"github.com/swatchlab/swatchsync/internal/queue"
	"github.com/swatchlab/swatchsync/internal/storage"
	storagegcs "github.com/swatchlab/swatchsync/internal/storage/gcs"
	storagelocal "github.com/swatchlab/swatchsync/internal/storage/local"
	"github.com/swatchlab/swatchsync/internal/swatch"
	"github.com/swatchlab/swatchsync/internal/telemetry"
)

// App holds the shared, long-lived services. It is initialized once at
// startup and passed to the commands that need it.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Hub     *progress.Hub
	Dataset swatch.DatasetProvider
	Cache   swatch.LookupCache
	Queue   swatch.Publisher
	Storage storage.Provider
	Cleaner *cleanup.Cleaner
	Monitor *monitor.Monitor
	Clock   swatch.Clock
	IDGen   swatch.IDGenerator

	// Writer is non-nil when the dataset provider supports write-back.
	Writer swatch.DatasetWriter
	// History is non-nil when a run-history store is available.
	History swatch.RunHistoryStore
}

// New builds every service the runner needs, failing fast when a
// critical dependency cannot be reached.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewWithFile(cfg.Logging.Development, logging.FileConfig{
		Enabled:    cfg.Logging.FileEnabled,
		Path:       cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		MaxBackups: cfg.Logging.FileMaxBackups,
		MaxAgeDays: cfg.Logging.FileMaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logging.Set(logger)

	if _, _, err := telemetry.Init(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  system.New(),
		IDGen:  uuid.New(),
	}
	cleaner := cleanup.New(logger)
	a.Cleaner = cleaner

	if err := a.initDataset(ctx); err != nil {
		a.closePartial()
		return nil, err
	}
	if err := a.initCache(ctx); err != nil {
		a.closePartial()
		return nil, err
	}
	if err := a.initQueue(ctx); err != nil {
		a.closePartial()
		return nil, err
	}
	if err := a.initStorage(ctx); err != nil {
		a.closePartial()
		return nil, err
	}
	a.initHub()

	if cfg.Monitor.Enabled {
		a.Monitor = monitor.New(monitor.Config{
			Interval:    cfg.Monitor.Interval,
			WarnPercent: cfg.Monitor.WarnPercent,
		}, logger)
		a.Monitor.Start(ctx)
	}

	logger.Info("application services initialized",
		zap.String("dataset", cfg.Dataset.Provider),
		zap.String("cache", cfg.Cache.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.String("storage", cfg.Storage.Provider))
	return a, nil
}

func (a *App) initDataset(ctx context.Context) error {
	cfg := a.Config.Dataset
	switch cfg.Provider {
	case "file":
		provider := dataset.NewFileProvider(cfg.FilePath, sha256.New(), a.Logger)
		a.Dataset = provider
		if cfg.WriteBack {
			a.Writer = provider
		}
	case "postgres":
		store, err := datasetpg.NewStore(ctx, datasetpg.Config{
			DSN:   cfg.DSN,
			Table: cfg.Table,
		}, sha256.New())
		if err != nil {
			return fmt.Errorf("init postgres dataset: %w", err)
		}
		a.Dataset = store
		a.History = store
		if cfg.WriteBack {
			a.Writer = store
		}
	default:
		return fmt.Errorf("unknown dataset provider %q", cfg.Provider)
	}
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	cfg := a.Config.Cache
	switch cfg.Provider {
	case "redis":
		c, err := cacheredis.New(ctx, cacheredis.Config{
			Addr: cfg.Addr,
			DB:   cfg.DB,
			TTL:  cfg.TTL,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("init redis cache: %w", err)
		}
		a.Cache = c
	case "noop":
		a.Cache = cache.NewNoOp()
	default:
		return fmt.Errorf("unknown cache provider %q", cfg.Provider)
	}
	return nil
}

func (a *App) initQueue(ctx context.Context) error {
	cfg := a.Config.Publisher
	switch cfg.Provider {
	case "pubsub":
		pub, err := queue.NewPubSubPublisher(ctx, cfg.ProjectID, cfg.TopicID, a.Logger)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.Queue = pub
	case "noop":
		a.Queue = &queue.NoOpPublisher{}
	default:
		return fmt.Errorf("unknown publisher provider %q", cfg.Provider)
	}
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		provider, err := storagegcs.New(client, storagegcs.Config{
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Storage = provider
	case "local":
		provider, err := storagelocal.New(storagelocal.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Storage = provider
	case "noop":
		a.Storage = &storage.NoOpProvider{}
	default:
		return fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	return nil
}

func (a *App) initHub() {
	sinkList := []progress.Sink{sinks.NewLogSink(a.Logger)}
	prom, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		a.Logger.Warn("progress prometheus sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, prom)
	}
	if a.Config.Logging.Development {
		sinkList = append(sinkList, sinks.NewBarSink())
	}
	if a.History != nil {
		sinkList = append(sinkList, sinks.NewRunHistorySink(a.History, a.Logger))
	}
	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger}, sinkList...)
}

// Emitter returns the progress emitter, never nil.
func (a *App) Emitter() progress.Emitter {
	return a.Hub
}

// Close shuts services down in reverse construction order. Errors are
// logged, not returned: shutdown proceeds regardless.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	a.Cleaner.Run(cleanup.TriggerExit)
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.Hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("closing progress hub", zap.Error(err))
		}
		cancel()
	}
	a.closePartial()
	if err := a.Logger.Sync(); err != nil {
		// Sync on stderr commonly fails on Linux; nothing to do.
		_ = err
	}
}

func (a *App) closePartial() {
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn("closing storage provider", zap.Error(err))
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn("closing publisher", zap.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("closing cache", zap.Error(err))
		}
	}
	if a.Dataset != nil {
		if err := a.Dataset.Close(); err != nil {
			a.Logger.Warn("closing dataset provider", zap.Error(err))
		}
	}
}
