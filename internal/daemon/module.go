package daemon

import (
	"context"
	"os"

	"github.com/matheus3301/hybridmind/internal/backend"
	"github.com/matheus3301/hybridmind/internal/backend/gemini"
	"github.com/matheus3301/hybridmind/internal/backend/local"
	"github.com/matheus3301/hybridmind/internal/bus"
	"github.com/matheus3301/hybridmind/internal/chat"
	"github.com/matheus3301/hybridmind/internal/cloudsync"
	"github.com/matheus3301/hybridmind/internal/config"
	"github.com/matheus3301/hybridmind/internal/download"
	"github.com/matheus3301/hybridmind/internal/engine"
	"github.com/matheus3301/hybridmind/internal/identity"
	"github.com/matheus3301/hybridmind/internal/lock"
	"github.com/matheus3301/hybridmind/internal/logging"
	"github.com/matheus3301/hybridmind/internal/netmon"
	"github.com/matheus3301/hybridmind/internal/paths"
	"github.com/matheus3301/hybridmind/internal/prune"
	"github.com/matheus3301/hybridmind/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module() fx.Option {
	return fx.Module("daemon",
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideIdentity,
			provideMonitor,
			provideDocStore,
			providePusher,
			provideEngine,
			provideCaptioner,
			provideRemoteBackend,
			provideLocalBackend,
			provideDownloader,
			providePruner,
			provideOrchestrator,
		),
		fx.Invoke(registerLifecycle),
	)
}

// provideConfig loads ~/.hybridmind/config.toml, falling back to defaults
// when no file exists yet.
func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(paths.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(paths.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	logger.Info("acquiring app lock", zap.String("dir", paths.BaseDir()))
	l, err := lock.Acquire(paths.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("app lock acquired")
	return l, nil
}

func provideStore(_ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(cfg *config.Config) identity.Provider {
	return identity.Static{ID: cfg.User.ID, IsVerified: cfg.User.Verified}
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *netmon.Monitor {
	prober := netmon.DialProber{Addr: cfg.Network.ProbeAddr}
	return netmon.New(prober, cfg.ProbeInterval(), b, logger)
}

// provideDocStore connects to the configured sync project. Without one,
// replication is disabled and all writes stay local.
func provideDocStore(cfg *config.Config, logger *zap.Logger) (cloudsync.DocStore, error) {
	if cfg.Sync.ProjectID == "" {
		logger.Info("remote sync disabled: no project configured")
		return cloudsync.Disabled{}, nil
	}
	return cloudsync.NewFirestore(context.Background(), cfg.Sync.ProjectID)
}

func providePusher(db *store.DB, remote cloudsync.DocStore, id identity.Provider, b *bus.Bus, logger *zap.Logger) *cloudsync.Pusher {
	return cloudsync.NewPusher(db, remote, id, b, logger)
}

func provideEngine(cfg *config.Config, logger *zap.Logger) *engine.Engine {
	return engine.New(cfg.Engine.BaseURL, cfg.Engine.Model, logger)
}

func provideCaptioner(cfg *config.Config) engine.Captioner {
	if cfg.Engine.VisionModel == "" {
		return nil
	}
	return engine.NewVisionCaptioner(cfg.Engine.BaseURL, cfg.Engine.VisionModel)
}

// provideRemoteBackend builds the hosted backend, or nil without an API key;
// the orchestrator then routes everything to the local engine.
func provideRemoteBackend(cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
	if cfg.Gemini.APIKey == "" {
		logger.Info("remote backend disabled: no API key configured")
		return nil, nil
	}
	adapter, err := gemini.New(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.Model, logger)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

func provideLocalBackend(eng *engine.Engine, captioner engine.Captioner, logger *zap.Logger) *local.Adapter {
	return local.New(eng, captioner, logger)
}

func provideDownloader(b *bus.Bus, logger *zap.Logger) *download.Downloader {
	return download.New(paths.DownloadsDir(), b, logger)
}

func providePruner(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *prune.Pruner {
	return prune.New(db, b, logger, cfg.PruneInterval(), cfg.RetentionWindow())
}

func provideOrchestrator(
	db *store.DB,
	monitor *netmon.Monitor,
	pusher *cloudsync.Pusher,
	remote backend.Backend,
	localBackend *local.Adapter,
	eng *engine.Engine,
	id identity.Provider,
	b *bus.Bus,
	logger *zap.Logger,
) *chat.Orchestrator {
	return chat.New(chat.Options{
		DB:           db,
		Connectivity: monitor,
		Replicator:   pusher,
		Remote:       remote,
		Local:        localBackend,
		Engine:       eng,
		Identity:     id,
		ImagesDir:    paths.ImagesDir(),
		Bus:          b,
		Logger:       logger,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	lk *lock.Lock,
	monitor *netmon.Monitor,
	pusher *cloudsync.Pusher,
	pruner *prune.Pruner,
	dl *download.Downloader,
	remote cloudsync.DocStore,
	orch *chat.Orchestrator,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			monitor.Start(context.Background())
			pusher.Start(context.Background())
			pruner.Start(context.Background())

			// Bring the engine up if weights are already on disk. Not an
			// error when they are not: generation reports it per send.
			name := cfg.Engine.ModelName
			if name != "" && dl.IsDownloaded(name) {
				if err := orch.InitializeEngine(dl.FilePath(name), 1); err != nil {
					logger.Warn("engine initialization failed", zap.Error(err))
				}
			} else {
				logger.Info("offline model not downloaded yet")
			}

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			pruner.Stop()
			pusher.Stop()
			monitor.Stop()
			_ = orch.Close()
			if closer, ok := remote.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
