// Package app composes the client: config, storage, transport, the
// delivery and timeline engine, and the TUI, wired through fx.
package app

import (
	"context"
	"errors"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/bus"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/conn"
	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/lock"
	"github.com/quillchat/quill/internal/logging"
	"github.com/quillchat/quill/internal/outbound"
	"github.com/quillchat/quill/internal/profile"
	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/transport"
	"github.com/quillchat/quill/internal/tui"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideTracker,
			provideLock,
			provideStore,
			provideTransport,
			provideQueue,
			provideSelf,
			provideEngine,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("config unreadable, using defaults", zap.Error(err))
		}
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTracker(b *bus.Bus) *conn.Tracker {
	return conn.NewTracker(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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

func provideTransport() transport.Transport {
	m := transport.NewMemory()
	m.SetEcho(true)
	return m
}

func provideQueue(tracker *conn.Tracker, tr transport.Transport, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbound.Queue {
	return outbound.New(tracker, tr, db, b, logger, cfg.Engine.MaxMessageLength, cfg.Engine.MaxRetryAttempts)
}

func provideSelf(p Params) store.Author {
	return store.Author{AuthorID: "self:" + p.ProfileName, DisplayName: p.ProfileName}
}

func provideEngine(cfg *config.Config, db *store.DB, tracker *conn.Tracker, queue *outbound.Queue, tr transport.Transport, b *bus.Bus, logger *zap.Logger, self store.Author) *engine.Engine {
	return engine.New(cfg.Engine, db, tracker, queue, tr, b, logger, self)
}

func provideTUI(p Params, e *engine.Engine, db *store.DB, b *bus.Bus) *tui.App {
	return tui.NewApp(e, db, b, p.ProfileName)
}

func registerLifecycle(lc fx.Lifecycle, e *engine.Engine, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return e.Start(context.Background())
		},
		OnStop: func(_ context.Context) error {
			if err := e.Stop(); err != nil {
				logger.Warn("error stopping engine", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
