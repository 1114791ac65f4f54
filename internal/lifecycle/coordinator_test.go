package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the calls made on the fakes in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(ev string) int {
	n := 0
	for _, e := range r.list() {
		if e == ev {
			n++
		}
	}
	return n
}

type fakeChannel struct {
	rec      *recorder
	openErr  error
	closeErr error
}

func (f *fakeChannel) Open(context.Context) error {
	f.rec.add("channel.open")
	return f.openErr
}

func (f *fakeChannel) Close() error {
	f.rec.add("channel.close")
	return f.closeErr
}

type fakeEngine struct {
	rec      *recorder
	gate     chan struct{} // Open blocks until closed, if set
	opening  chan struct{}
	openErr  error
	closeErr error

	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeEngine(rec *recorder) *fakeEngine {
	return &fakeEngine{rec: rec, opening: make(chan struct{}, 1), stopped: make(chan struct{})}
}

func (f *fakeEngine) Open(context.Context) error {
	f.rec.add("engine.open")
	f.opening <- struct{}{}
	if f.gate != nil {
		<-f.gate
	}
	return f.openErr
}

func (f *fakeEngine) Run(ctx context.Context) error {
	f.rec.add("engine.run")
	select {
	case <-f.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeEngine) Stop() {
	f.rec.add("engine.stop")
	f.stopOnce.Do(func() { close(f.stopped) })
}

func (f *fakeEngine) Close(context.Context) error {
	f.rec.add("engine.close")
	return f.closeErr
}

type fakeFrontend struct {
	rec      *recorder
	openErr  error
	closeErr error
}

func (f *fakeFrontend) Open(context.Context) error {
	f.rec.add("frontend.open")
	return f.openErr
}

func (f *fakeFrontend) Close(context.Context) error {
	f.rec.add("frontend.close")
	return f.closeErr
}

type harness struct {
	rec         *recorder
	channel     *fakeChannel
	engine      *fakeEngine
	frontend    *fakeFrontend
	coord       *Coordinator
	mu          sync.Mutex
	transitions []string
}

func newHarness(opts ...Option) *harness {
	rec := &recorder{}
	h := &harness{
		rec:      rec,
		channel:  &fakeChannel{rec: rec},
		engine:   newFakeEngine(rec),
		frontend: &fakeFrontend{rec: rec},
	}
	opts = append([]Option{WithTransitionHook(func(from, to State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.transitions = append(h.transitions, from.String()+"->"+to.String())
	})}, opts...)
	h.coord = New(h.channel, h.engine, h.frontend, opts...)
	return h
}

func (h *harness) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.transitions...)
}

// start runs the coordinator in the background and returns its result channel.
func (h *harness) start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not finish")
		return nil
	}
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.coord.State() == s }, 2*time.Second, time.Millisecond)
}

func TestCoordinator_StopWhileRunning(t *testing.T) {
	h := newHarness()
	done := h.start(context.Background())
	h.waitState(t, Running)

	h.coord.Stop()
	require.NoError(t, wait(t, done))

	assert.Equal(t, Stopped, h.coord.State())
	assert.False(t, h.coord.EarlyStop())
	assert.Equal(t, []string{
		"not-started->starting",
		"starting->running",
		"running->stopping",
		"stopping->stopped",
	}, h.seen())
	assert.Equal(t, 1, h.rec.count("engine.stop"))
	assert.Equal(t, 1, h.rec.count("engine.close"))
	assert.Equal(t, 1, h.rec.count("frontend.close"))
	assert.Equal(t, 1, h.rec.count("channel.close"))
}

func TestCoordinator_EarlyStopSkipsRunning(t *testing.T) {
	h := newHarness()
	h.engine.gate = make(chan struct{})
	done := h.start(context.Background())

	<-h.engine.opening
	assert.Equal(t, Starting, h.coord.State())

	h.coord.Stop()
	assert.True(t, h.coord.EarlyStop())
	assert.Equal(t, Starting, h.coord.State(), "stop must not interrupt startup")
	assert.Zero(t, h.rec.count("engine.stop"))

	close(h.engine.gate)
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{
		"not-started->starting",
		"starting->stopping",
		"stopping->stopped",
	}, h.seen())
	assert.NotContains(t, h.rec.list(), "engine.run")
	assert.Equal(t, 1, h.rec.count("engine.close"))
	assert.Equal(t, 1, h.rec.count("channel.close"))
}

func TestCoordinator_RepeatedStopClosesChannelOnce(t *testing.T) {
	h := newHarness()
	done := h.start(context.Background())
	h.waitState(t, Running)

	h.coord.Stop()
	h.coord.Stop()
	require.NoError(t, wait(t, done))
	h.coord.Stop()

	assert.Equal(t, 1, h.rec.count("channel.close"))
	assert.Equal(t, 1, h.rec.count("engine.stop"))
}

func TestCoordinator_ReadyHookOrder(t *testing.T) {
	var h *harness
	h = newHarness(WithReadyHook(func() { h.rec.add("ready") }))
	done := h.start(context.Background())
	h.waitState(t, Running)
	h.coord.Stop()
	require.NoError(t, wait(t, done))

	events := h.rec.list()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []string{"channel.open", "ready"}, events[:2])
	assert.Contains(t, events, "engine.open")
	assert.Contains(t, events, "frontend.open")
}

func TestCoordinator_EngineOpenFailure(t *testing.T) {
	boom := errors.New("database is locked")
	h := newHarness()
	h.engine.openErr = boom

	err := wait(t, h.start(context.Background()))
	require.Error(t, err)

	var se *StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "engine", se.Stage)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, Stopped, h.coord.State())
	assert.NotContains(t, h.rec.list(), "engine.run")
	assert.Equal(t, 1, h.rec.count("engine.close"))
	assert.Equal(t, 1, h.rec.count("frontend.close"))
	assert.Equal(t, 1, h.rec.count("channel.close"))
}

func TestCoordinator_FrontendOpenFailure(t *testing.T) {
	h := newHarness()
	h.frontend.openErr = errors.New("address already in use")

	err := wait(t, h.start(context.Background()))

	var se *StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "frontend", se.Stage)
	assert.Equal(t, Stopped, h.coord.State())
	assert.Equal(t, 1, h.rec.count("engine.close"))
}

func TestCoordinator_ChannelOpenFailure(t *testing.T) {
	h := newHarness()
	h.channel.openErr = errors.New("bind: permission denied")

	err := wait(t, h.start(context.Background()))

	var se *StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "control channel", se.Stage)
	assert.Equal(t, Stopped, h.coord.State())
	assert.NotContains(t, h.rec.list(), "engine.open")
	assert.Zero(t, h.rec.count("channel.close"), "a channel that never opened is not closed")
	assert.Equal(t, 1, h.rec.count("engine.close"))
}

func TestCoordinator_CloseFailuresStillReachStopped(t *testing.T) {
	h := newHarness()
	h.engine.closeErr = errors.New("engine flush failed")
	h.frontend.closeErr = errors.New("frontend drain failed")
	done := h.start(context.Background())
	h.waitState(t, Running)

	h.coord.Stop()
	err := wait(t, done)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine flush failed")
	assert.Contains(t, err.Error(), "frontend drain failed")
	assert.Equal(t, Stopped, h.coord.State())
	assert.Equal(t, 1, h.rec.count("frontend.close"))
	assert.Equal(t, 1, h.rec.count("channel.close"))
}

func TestCoordinator_ContextCancelStops(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	h.waitState(t, Running)

	cancel()
	require.NoError(t, wait(t, done))
	assert.Equal(t, Stopped, h.coord.State())
	assert.Equal(t, 1, h.rec.count("channel.close"))
}

func TestCoordinator_RunTwice(t *testing.T) {
	h := newHarness()
	done := h.start(context.Background())
	h.waitState(t, Running)

	err := h.coord.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	h.coord.Stop()
	require.NoError(t, wait(t, done))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{NotStarted, Starting, true},
		{Starting, Running, true},
		{Starting, Stopping, true},
		{Running, Stopping, true},
		{Stopping, Stopped, true},
		{NotStarted, Running, false},
		{Stopping, Running, false},
		{Stopped, Starting, false},
		{Running, Starting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
