// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/config"
	"github.com/Raikerian/go-room-egress/internal/supervisor"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	return &Application{
		app: fx.New(options...),
	}
}

// Start runs every OnStart hook. It also reports construction errors.
func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Done is signalled when the application asks to shut itself down, for
// example once every room has finished with exit_when_done set.
func (a *Application) Done() <-chan fx.ShutdownSignal {
	return a.app.Wait()
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// LifecycleParams holds dependencies for registerLifecycleHooks.
type LifecycleParams struct {
	fx.In
	LC         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Supervisor *supervisor.Supervisor
	Cfg        *config.Config
	Logger     *zap.Logger
}

// registerLifecycleHooks starts the configured rooms and drains every room
// on stop.
func registerLifecycleHooks(p LifecycleParams) {
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Logger.Info("Starting application", zap.Strings("rooms", p.Cfg.Rooms))

			if p.Cfg.Supervisor.ExitWhenDone {
				p.Supervisor.OnIdle(func() {
					p.Logger.Info("All rooms finished, shutting down")
					if err := p.Shutdowner.Shutdown(); err != nil {
						p.Logger.Error("Failed to request shutdown", zap.Error(err))
					}
				})
			}

			if len(p.Cfg.Rooms) == 0 {
				p.Logger.Warn("No rooms configured")
				if p.Cfg.Supervisor.ExitWhenDone {
					return p.Shutdowner.Shutdown()
				}
			}
			if err := p.Supervisor.StartAll(p.Cfg.Rooms); err != nil {
				p.Logger.Error("Failed to start rooms", zap.Error(err))
				return err
			}

			p.Logger.Info("Application started successfully")

			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("Stopping application: flushing running rooms",
				zap.Strings("rooms", p.Supervisor.Running()))

			if err := p.Supervisor.Shutdown(ctx); err != nil {
				p.Logger.Error("Rooms did not finish in time", zap.Error(err))
				return err
			}

			p.Logger.Info("Application stopped successfully")

			return nil
		},
	})
}
