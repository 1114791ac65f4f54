// Package lifecycle sequences the startup and shutdown of the control
// channel, the engine and the admin frontend.
//
// A stop request may arrive while the engine is still opening. It is then
// latched instead of acted on, and the coordinator shuts the engine down as
// soon as startup completes without ever entering Running.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultShutdownTimeout bounds engine and frontend shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Channel is the control channel as seen by the coordinator.
type Channel interface {
	Open(ctx context.Context) error
	Close() error
}

// Engine is the long-running engine as seen by the coordinator.
// Run must return once Stop is called, including when Stop is called
// before Run. Close must be safe on an engine that never opened.
type Engine interface {
	Open(ctx context.Context) error
	Run(ctx context.Context) error
	Stop()
	Close(ctx context.Context) error
}

// Frontend is the admin surface. Close must be safe when Open never ran.
type Frontend interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// StartupError is a failure while Starting. It is terminal.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed in %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Coordinator owns the lifecycle state machine.
type Coordinator struct {
	channel  Channel
	engine   Engine
	frontend Frontend

	logger          *slog.Logger
	readyHook       func()
	transitionHook  func(from, to State)
	shutdownTimeout time.Duration

	mu            sync.Mutex
	state         State
	earlyStop     bool
	channelOpen   bool
	channelClosed bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithReadyHook registers fn to run once the control channel is listening
// and before the engine opens. The host uses this signal to connect.
func WithReadyHook(fn func()) Option {
	return func(c *Coordinator) {
		c.readyHook = fn
	}
}

// WithTransitionHook registers fn to observe every state change. fn runs
// with the coordinator locked and must not call back into it.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(c *Coordinator) {
		c.transitionHook = fn
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.shutdownTimeout = d
	}
}

// New returns a coordinator in NotStarted.
func New(channel Channel, engine Engine, frontend Frontend, opts ...Option) *Coordinator {
	c := &Coordinator{
		channel:         channel,
		engine:          engine,
		frontend:        frontend,
		logger:          slog.Default(),
		shutdownTimeout: DefaultShutdownTimeout,
		state:           NotStarted,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EarlyStop reports whether a stop arrived before startup completed.
func (c *Coordinator) EarlyStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.earlyStop
}

// Run drives the whole lifecycle and returns once Stopped is reached.
//
// Cancelling ctx is equivalent to calling Stop. Shutdown always closes the
// engine, the frontend and the channel, even when one of them fails; the
// failures are joined into the returned error.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	c.mu.Lock()
	if err := c.transitionLocked(Starting); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	stopOnCancel := context.AfterFunc(ctx, c.Stop)
	defer stopOnCancel()

	defer func() {
		if shutdownErr := c.shutdown(ctx); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
	}()

	if err := c.startup(ctx); err != nil {
		c.logger.Error("startup failed", "error", err)
		c.moveTo(Stopping)
		return err
	}

	c.mu.Lock()
	early := c.earlyStop
	if early {
		c.logger.Info("stop requested during startup, shutting down")
		_ = c.transitionLocked(Stopping)
	} else {
		_ = c.transitionLocked(Running)
	}
	c.mu.Unlock()

	if early {
		return nil
	}

	c.logger.Info("engine running")
	runErr := c.engine.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	c.moveTo(Stopping)
	return runErr
}

// startup opens the channel, signals readiness, then opens the engine and
// the frontend concurrently.
func (c *Coordinator) startup(ctx context.Context) error {
	if err := c.channel.Open(ctx); err != nil {
		return &StartupError{Stage: "control channel", Err: err}
	}
	c.mu.Lock()
	c.channelOpen = true
	c.mu.Unlock()

	if c.readyHook != nil {
		c.readyHook()
	}

	var wg sync.WaitGroup
	var engineErr, frontendErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		engineErr = c.engine.Open(ctx)
	}()
	go func() {
		defer wg.Done()
		frontendErr = c.frontend.Open(ctx)
	}()
	wg.Wait()

	var errs []error
	if engineErr != nil {
		errs = append(errs, &StartupError{Stage: "engine", Err: engineErr})
	}
	if frontendErr != nil {
		errs = append(errs, &StartupError{Stage: "frontend", Err: frontendErr})
	}
	return errors.Join(errs...)
}

// Stop requests shutdown. Before Running it only latches the request; in
// Running it stops the engine. It always initiates channel close.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	stopEngine := false
	switch c.state {
	case NotStarted, Starting:
		if !c.earlyStop {
			c.logger.Info("stop requested before engine finished starting")
		}
		c.earlyStop = true
	case Running:
		_ = c.transitionLocked(Stopping)
		stopEngine = true
	}
	c.mu.Unlock()

	if stopEngine {
		c.logger.Info("stopping engine")
		c.engine.Stop()
	}
	if err := c.CloseChannel(); err != nil {
		c.logger.Warn("control channel close failed", "error", err)
	}
}

// CloseChannel closes the control channel if it is open. The channel is
// closed at most once however many times this is called.
func (c *Coordinator) CloseChannel() error {
	c.mu.Lock()
	if !c.channelOpen || c.channelClosed {
		c.mu.Unlock()
		return nil
	}
	c.channelClosed = true
	c.mu.Unlock()
	return c.channel.Close()
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := c.engine.Close(ctx); err != nil {
		c.logger.Error("engine close failed", "error", err)
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	if err := c.frontend.Close(ctx); err != nil {
		c.logger.Error("frontend close failed", "error", err)
		errs = append(errs, fmt.Errorf("close frontend: %w", err))
	}
	if err := c.CloseChannel(); err != nil {
		errs = append(errs, fmt.Errorf("close control channel: %w", err))
	}

	c.moveTo(Stopped)
	c.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// moveTo transitions to s unless the coordinator is already there.
func (c *Coordinator) moveTo(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == s {
		return
	}
	if err := c.transitionLocked(s); err != nil {
		c.logger.Error("lifecycle transition rejected", "error", err)
	}
}

func (c *Coordinator) transitionLocked(to State) error {
	from := c.state
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	c.state = to
	c.logger.Debug("lifecycle transition", "from", from, "to", to)
	if c.transitionHook != nil {
		c.transitionHook(from, to)
	}
	return nil
}
