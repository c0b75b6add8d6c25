// Package app composes a profile's stores, offline queue and gateway client
// into an fx application shared by the partyline binaries.
package app

import (
	"context"

	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/config"
	"github.com/matheus3301/partyline/internal/connectivity"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/gateway/grpcgw"
	"github.com/matheus3301/partyline/internal/kv"
	"github.com/matheus3301/partyline/internal/lock"
	"github.com/matheus3301/partyline/internal/logging"
	"github.com/matheus3301/partyline/internal/offline"
	"github.com/matheus3301/partyline/internal/profile"
	"github.com/matheus3301/partyline/internal/state"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Binary  string
	Config  *config.Config
	// Watch starts the reachability listener and realtime watcher. One-shot
	// commands leave it off.
	Watch bool
}

// Module returns the fx module for a profile, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("partyline",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideReporter,
			provideBus,
			provideMachine,
			provideLock,
			provideKV,
			provideClient,
			provideGateway,
			provideStores,
			provideQueue,
			provideListener,
			NewWatcher,
		),
		fx.Invoke(bindSession, registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile, p.Binary), p.Profile, logging.ParseLevel(p.Config.LogLevel))
}

func provideReporter(logger *zap.Logger) logging.Reporter {
	return logging.NewReporter(logger)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMachine(b *bus.Bus) *connectivity.Machine {
	return connectivity.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Debug("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Debug("profile lock acquired")
	return l, nil
}

// provideKV takes the lock so the database is never opened unlocked.
func provideKV(p Params, _ *lock.Lock, logger *zap.Logger) (*kv.DB, error) {
	path := profile.KVPath(p.Profile)
	db, err := kv.Open(path)
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
	}
	logger.Debug("kv store initialized", zap.String("path", path))
	return db, nil
}

func provideClient(p Params, logger *zap.Logger) (*grpcgw.Client, error) {
	c, err := grpcgw.Dial(p.Config.GatewayAddr)
	if err != nil {
		return nil, err
	}
	logger.Debug("gateway client ready", zap.String("addr", p.Config.GatewayAddr))
	return c, nil
}

func provideGateway(c *grpcgw.Client) *gateway.Gateway {
	return gateway.New(c)
}

func provideStores(gw *gateway.Gateway, db *kv.DB, b *bus.Bus, logger *zap.Logger, r logging.Reporter) *state.Stores {
	return state.NewStores(state.Deps{
		Gateway:  gw,
		KV:       db,
		Bus:      b,
		Logger:   logger,
		Reporter: r,
	})
}

// bindSession makes gateway calls carry the signed-in user's access token.
func bindSession(c *grpcgw.Client, stores *state.Stores) {
	c.SetTokenSource(func() string {
		if sess := stores.Auth.Session(); sess != nil {
			return sess.AccessToken
		}
		return ""
	})
}

func provideQueue(p Params, stores *state.Stores, db *kv.DB, b *bus.Bus, m *connectivity.Machine, logger *zap.Logger, r logging.Reporter) *offline.Queue {
	return offline.NewQueue(stores, offline.Options{
		KV:          db,
		Bus:         b,
		Machine:     m,
		Logger:      logger,
		Reporter:    r,
		MaxAttempts: p.Config.Sync.MaxAttempts,
	})
}

func provideListener(p Params, gw *gateway.Gateway, q *offline.Queue, logger *zap.Logger) *connectivity.Listener {
	return connectivity.NewListener(gw, q, p.Config.Sync.ProbeInterval, p.Config.Sync.ProbeTimeout, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	lk *lock.Lock,
	db *kv.DB,
	client *grpcgw.Client,
	stores *state.Stores,
	q *offline.Queue,
	listener *connectivity.Listener,
	watcher *Watcher,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Rehydrate before anything can mutate the stores.
			if err := stores.Load(ctx); err != nil {
				logger.Warn("rehydrating stores", zap.Error(err))
			}
			if err := q.Load(ctx); err != nil {
				logger.Warn("rehydrating offline queue", zap.Error(err))
			}
			logger.Debug("profile loaded",
				zap.Bool("authenticated", stores.Authenticated()),
				zap.Int("queued", q.Len()))

			if p.Watch {
				watcher.Start(context.Background())
				listener.Start(context.Background())
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			if p.Watch {
				listener.Stop()
				watcher.Stop()
			}
			if err := client.Close(); err != nil {
				logger.Warn("error closing gateway client", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing kv store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Debug("profile closed")
			return nil
		},
	})
}
