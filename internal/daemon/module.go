package daemon

import (
	"context"

	"github.com/matheus3301/wppchat/internal/api"
	"github.com/matheus3301/wppchat/internal/bus"
	"github.com/matheus3301/wppchat/internal/chat"
	"github.com/matheus3301/wppchat/internal/config"
	"github.com/matheus3301/wppchat/internal/lid"
	"github.com/matheus3301/wppchat/internal/lock"
	"github.com/matheus3301/wppchat/internal/logging"
	"github.com/matheus3301/wppchat/internal/session"
	"github.com/matheus3301/wppchat/internal/store"
	intsync "github.com/matheus3301/wppchat/internal/sync"
	"github.com/matheus3301/wppchat/internal/unread"
	"github.com/matheus3301/wppchat/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAdapter,
			provideLIDResolver,
			provideChatResolver,
			provideTracker,
			provideReconciler,
			provideSyncEngine,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// The lock is a parameter so the store is never opened by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideAdapter(p Params, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, logger)
}

func provideLIDResolver(db *store.DB, adapter *wa.Adapter, cfg *config.Config, logger *zap.Logger) *lid.Resolver {
	return lid.NewResolver(db, adapter, cfg.Resolver.LIDLookupTimeout, logger.Named("lid"))
}

func provideChatResolver(db *store.DB, lids *lid.Resolver, logger *zap.Logger) *chat.Resolver {
	return chat.NewResolver(db, lids, logger.Named("chat"))
}

func provideTracker(db *store.DB, logger *zap.Logger) *unread.Tracker {
	return unread.NewTracker(db, logger.Named("unread"))
}

func provideReconciler(db *store.DB, adapter *wa.Adapter, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, adapter, logger.Named("reconcile"))
}

func provideSyncEngine(db *store.DB, b *bus.Bus, rec *intsync.Reconciler, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, rec, logger.Named("sync"))
}

func provideChatService(p Params, resolver *chat.Resolver, tracker *unread.Tracker, b *bus.Bus, db *store.DB, adapter *wa.Adapter, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(p.SessionName, resolver, tracker, b, db, adapter, logger.Named("api"))
}

type lifecycleDeps struct {
	fx.In

	Config  *config.Config
	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Adapter *wa.Adapter
	Engine  *intsync.Engine
	Tracker *unread.Tracker
	Bus     *bus.Bus
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	var stopTracker func()
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first so nothing published at connect time is lost.
			stopTracker = d.Tracker.Subscribe(runCtx, d.Bus, d.Config.Unread.Buffer)
			d.Engine.Start(runCtx)

			handler := wa.NewEventHandler(d.Bus, d.Adapter, d.Logger.Named("events"))
			d.Adapter.RegisterEventHandler(handler.Handle)

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if d.Adapter.IsLoggedIn() {
				go func() {
					if err := d.Adapter.Connect(); err != nil {
						d.Logger.Error("auto-connect failed", zap.Error(err))
					}
				}()
			} else {
				d.Logger.Warn("session is not paired, running from local store only")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			if stopTracker != nil {
				stopTracker()
			}
			d.Engine.Stop()
			d.Adapter.Disconnect()
			if err := d.Adapter.Close(); err != nil {
				d.Logger.Warn("error closing device store", zap.Error(err))
			}
			d.Server.Stop(ctx)
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
