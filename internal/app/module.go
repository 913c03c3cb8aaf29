// Package app composes the client: it wires the store, the dispatcher and
// its listeners, the realtime client, and the terminal surface into one fx
// application running a single control loop.
package app

import (
	"context"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/slk/internal/bus"
	"github.com/matheus3301/slk/internal/history"
	"github.com/matheus3301/slk/internal/lock"
	"github.com/matheus3301/slk/internal/logging"
	"github.com/matheus3301/slk/internal/outbox"
	"github.com/matheus3301/slk/internal/roster"
	"github.com/matheus3301/slk/internal/rtm"
	"github.com/matheus3301/slk/internal/session"
	"github.com/matheus3301/slk/internal/store"
	"github.com/matheus3301/slk/internal/ui"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	SessionName string
	Token       string
	APIBase     string
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideQueue,
			provideDispatcher,
			provideStore,
			provideClient,
			provideMaterializer,
			provideFetcher,
			provideSender,
			provideScreen,
			provideSurface,
			New,
		),
		fx.Invoke(registerLifecycle),
	)
}

// Options bundles the module with the fx logger redirect. fx's own events
// must go to the session log file; stderr would fight the screen.
func Options(p Params) fx.Option {
	return fx.Options(
		Module(p),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
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

func provideQueue() *bus.Queue {
	return bus.NewQueue()
}

func provideDispatcher(q *bus.Queue) *bus.Dispatcher {
	return bus.NewDispatcher(q)
}

func provideStore(p Params, q *bus.Queue, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath, q)
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
	// A crash can leave a fetched flag set with no history behind it; a
	// fresh start refetches instead.
	if err := db.ResetFetchFlags(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(p Params, db *store.DB, logger *zap.Logger) *rtm.Client {
	return rtm.New(db, p.APIBase, p.Token, logger)
}

func provideMaterializer(db *store.DB, logger *zap.Logger) *roster.Materializer {
	return roster.NewMaterializer(db, logger)
}

func provideFetcher(db *store.DB, client *rtm.Client, logger *zap.Logger) *history.Fetcher {
	return history.NewFetcher(db, client, logger)
}

func provideSender(db *store.DB, client *rtm.Client, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, logger)
}

func provideScreen() (tcell.Screen, error) {
	return tcell.NewScreen()
}

func provideSurface(screen tcell.Screen, db *store.DB, client *rtm.Client, q *bus.Queue, logger *zap.Logger) *ui.Surface {
	return ui.NewSurface(screen, db, client, q, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	app *App,
	lk *lock.Lock,
	dispatcher *bus.Dispatcher,
	materializer *roster.Materializer,
	fetcher *history.Fetcher,
	sender *outbox.Sender,
	client *rtm.Client,
	surface *ui.Surface,
	db *store.DB,
	logger *zap.Logger,
) {
	// Registration order carries semantics: the materializer must have
	// settled the roster before the fetcher reads selection state, and the
	// sender flushes last.
	dispatcher.Register(materializer)
	dispatcher.Register(fetcher)
	dispatcher.Register(sender)
	client.OnLive(sender.Flush)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := surface.Init(); err != nil {
				return err
			}
			// Seed the projection from whatever the store already holds,
			// so the first frame is not blank while the handshake runs.
			if err := materializer.Rebuild(); err != nil {
				return err
			}
			if err := client.Connect(); err != nil {
				return err
			}
			go func() {
				if err := app.Run(); err != nil {
					logger.Error("control loop failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			app.Stop()
			client.Close()
			surface.Fini()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
