// Package app assembles a thingengine process: platform, engine, control
// channel, admin frontend and the lifecycle coordinator that sequences them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/thingengine/internal/config"
	"github.com/roach88/thingengine/internal/control"
	"github.com/roach88/thingengine/internal/engine"
	"github.com/roach88/thingengine/internal/framer"
	"github.com/roach88/thingengine/internal/frontend"
	"github.com/roach88/thingengine/internal/lifecycle"
	"github.com/roach88/thingengine/internal/native"
	"github.com/roach88/thingengine/internal/platform"
)

// App is one assembled process.
type App struct {
	Platform    *platform.Platform
	Engine      *engine.Engine
	Relay       *native.Relay
	Channel     *control.Channel
	Frontend    *frontend.Frontend
	Coordinator *lifecycle.Coordinator

	logger *slog.Logger
}

type options struct {
	logger     *slog.Logger
	readyHook  func()
	engineOpts []engine.Option
}

// Option configures New.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithReadyHook is called once the control channel is accepting
// connections, before the engine opens.
func WithReadyHook(fn func()) Option {
	return func(o *options) {
		o.readyHook = fn
	}
}

// WithEngineOptions passes extra options to the engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// New wires every component from cfg. Nothing is opened until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	enc, err := framer.LookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("control encoding: %w", err)
	}

	plat, err := platform.New(cfg.DataDir,
		platform.WithLogger(logger.With("component", "platform")),
		platform.WithPrefsPath(cfg.Prefs),
		platform.WithControlPath(cfg.ControlPath),
		platform.WithEncoding(cfg.Encoding),
	)
	if err != nil {
		return nil, err
	}

	engineOpts := append([]engine.Option{
		engine.WithLogger(logger.With("component", "engine")),
	}, o.engineOpts...)
	eng, err := engine.New(cfg.Database, engineOpts...)
	if err != nil {
		return nil, err
	}

	a := &App{
		Platform: plat,
		Engine:   eng,
		Relay:    native.NewRelay(logger.With("component", "native")),
		Frontend: frontend.New(cfg.FrontendAddr(), eng, logger.With("component", "frontend")),
		logger:   logger,
	}

	table := NewTable(Deps{
		Engine:   eng,
		Platform: plat,
		Relay:    a.Relay,
		Stop:     a.Stop,
		Logger:   logger.With("component", "handlers"),
	})
	a.Channel = control.New(plat.ControlPath(), table,
		control.WithLogger(logger.With("component", "control")),
		control.WithEncoding(enc),
	)

	a.Coordinator = lifecycle.New(a.Channel, eng, a.Frontend,
		lifecycle.WithLogger(logger.With("component", "lifecycle")),
		lifecycle.WithShutdownTimeout(time.Duration(cfg.ShutdownTimeout)),
		lifecycle.WithReadyHook(func() {
			logger.Info("control channel ready", "path", plat.ControlPath())
			if o.readyHook != nil {
				o.readyHook()
			}
		}),
	)
	return a, nil
}

// Run blocks until the process has stopped.
func (a *App) Run(ctx context.Context) error {
	return a.Coordinator.Run(ctx)
}

// Stop requests shutdown. It is what the stop control method calls.
func (a *App) Stop() {
	a.Coordinator.Stop()
}
