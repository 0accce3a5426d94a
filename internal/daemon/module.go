package daemon

import (
	"context"
	"fmt"

	"github.com/innosphere/chatsync/internal/bus"
	"github.com/innosphere/chatsync/internal/cache"
	"github.com/innosphere/chatsync/internal/channel"
	"github.com/innosphere/chatsync/internal/config"
	"github.com/innosphere/chatsync/internal/directory"
	"github.com/innosphere/chatsync/internal/identity"
	"github.com/innosphere/chatsync/internal/lock"
	"github.com/innosphere/chatsync/internal/logging"
	"github.com/innosphere/chatsync/internal/rest"
	"github.com/innosphere/chatsync/internal/session"
	"github.com/innosphere/chatsync/internal/status"
	"github.com/innosphere/chatsync/internal/store"
	intsync "github.com/innosphere/chatsync/internal/sync"
	"github.com/innosphere/chatsync/internal/uploader"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ServerURL   string // optional override; empty = use config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideAccount,
			provideServerURL,
			provideCache,
			provideStore,
			provideRESTClient,
			provideChannel,
			providePump,
			provideUploader,
			provideResolver,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

// serverURL is a named string so fx can tell it apart from other strings.
type serverURL string

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideAccount(p Params, logger *zap.Logger) (*identity.Account, error) {
	acc, err := identity.Load(session.AccountPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("account loaded",
		zap.Int64("user_id", acc.ID),
		zap.String("name", acc.Name))
	return acc, nil
}

func provideServerURL(p Params) (serverURL, error) {
	if p.ServerURL != "" {
		return serverURL(p.ServerURL), nil
	}
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.ServerURL == "" {
		return "", fmt.Errorf("config %s: server_url is required", session.ConfigPath())
	}
	return serverURL(cfg.ServerURL), nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(acc *identity.Account) *store.Store {
	return store.New(acc.ID)
}

func provideRESTClient(u serverURL, acc *identity.Account) *rest.Client {
	return rest.New(string(u), acc.Token)
}

func provideChannel(u serverURL, acc *identity.Account, b *bus.Bus, logger *zap.Logger) *channel.Manager {
	return channel.New(string(u), acc.Token, b, logger)
}

func providePump(st *store.Store, db *cache.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(st, db, b, logger)
}

func provideUploader(st *store.Store, api *rest.Client, pump *intsync.Engine, b *bus.Bus, logger *zap.Logger) *uploader.Uploader {
	return uploader.New(st, api, pump, b, logger)
}

func provideResolver(api *rest.Client, st *store.Store, logger *zap.Logger) *directory.Resolver {
	return directory.NewResolver(api, st, logger)
}

func provideEngine(st *store.Store, db *cache.DB, api *rest.Client, ch *channel.Manager, pump *intsync.Engine, up *uploader.Uploader, dir *directory.Resolver, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *session.Engine {
	return session.NewEngine(st, db, api, ch, pump, up, dir, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, engine *session.Engine, db *cache.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine owns the channel, the pump, and the bootstrap
			// sequence; Open never blocks on the network.
			return engine.Open(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			if err := engine.Close(); err != nil {
				logger.Warn("error closing session", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
