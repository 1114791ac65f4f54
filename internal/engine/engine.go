package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/thingengine/internal/store"
)

// Engine owns the device, app and messaging registries.
//
// Registrations requested by the host (LoadOneDevice, LoadOneApp) are
// validated synchronously and then queued; the single-writer Run loop
// persists and registers them in FIFO order. Reads and removals are served
// directly.
//
// Thread-safety model:
//   - LoadOneDevice, LoadOneApp, reads, RemoveDevice, GetFeedWithContact:
//     safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Stop: safe from any goroutine, including before Run
type Engine struct {
	dbPath string
	logger *slog.Logger
	ids    IDGenerator
	clock  *Clock
	schema *appSchema
	queue  *jobQueue

	// jobHook observes every processed job. Tests use it to wait for
	// the run loop.
	jobHook func(Job, error)

	storeMu sync.RWMutex
	store   *store.Store

	mu      sync.RWMutex
	devices map[string]*Device
	pending map[string]struct{} // device ids queued but not yet registered
	apps    map[string]*App

	feedMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithJobHook registers fn to be called after each job the run loop
// processes, with the job's error if any.
func WithJobHook(fn func(Job, error)) Option {
	return func(e *Engine) {
		e.jobHook = fn
	}
}

// New creates an engine backed by the SQLite database at dbPath.
// Nothing is opened until Open.
func New(dbPath string, opts ...Option) (*Engine, error) {
	schema, err := newAppSchema()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		dbPath:  dbPath,
		logger:  slog.Default(),
		ids:     UUIDv7Generator{},
		clock:   NewClock(),
		schema:  schema,
		queue:   newJobQueue(),
		devices: make(map[string]*Device),
		pending: make(map[string]struct{}),
		apps:    make(map[string]*App),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Open opens the database and loads the persisted registries.
func (e *Engine) Open(ctx context.Context) error {
	s, err := store.Open(e.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	if err := e.load(ctx, s); err != nil {
		s.Close()
		return err
	}

	e.storeMu.Lock()
	e.store = s
	e.storeMu.Unlock()

	e.mu.RLock()
	e.logger.Info("engine opened",
		"database", e.dbPath,
		"devices", len(e.devices),
		"apps", len(e.apps),
	)
	e.mu.RUnlock()
	return nil
}

func (e *Engine) load(ctx context.Context, s *store.Store) error {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	apps, err := s.ListApps(ctx)
	if err != nil {
		return fmt.Errorf("load apps: %w", err)
	}
	maxSeq, err := s.MaxSeq(ctx)
	if err != nil {
		return err
	}
	e.clock.AdvanceTo(maxSeq)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range devices {
		e.devices[rec.ID] = deviceFromRecord(rec)
	}
	for _, rec := range apps {
		app, err := e.appFromRecord(rec)
		if err != nil {
			e.logger.Warn("skipping stored app", "id", rec.ID, "error", err)
			continue
		}
		e.apps[app.ID] = app
	}
	return nil
}

// Run processes queued jobs until Stop is called or ctx is cancelled.
// Jobs queued before Stop are still processed.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		job, ok := e.queue.TryDequeue()
		if ok {
			err := e.processJob(ctx, job)
			if err != nil {
				e.logger.Error("job failed",
					"job", job.Kind.String(),
					"id", job.id(),
					"error", err,
				)
			}
			if e.jobHook != nil {
				e.jobHook(job, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop makes Run return once the queue is drained. No new jobs are
// accepted afterwards.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Close releases the database. It is safe on an engine that never opened.
func (e *Engine) Close(ctx context.Context) error {
	e.queue.Close()
	if n := e.queue.Len(); n > 0 {
		e.logger.Warn("discarding queued jobs", "count", n)
	}

	e.storeMu.Lock()
	s := e.store
	e.store = nil
	e.storeMu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	e.logger.Info("engine closed")
	return nil
}

func (e *Engine) processJob(ctx context.Context, job Job) error {
	if job.Kind == JobLoadDevice {
		defer e.releaseDevice(job.Device.ID)
	}
	s, err := e.openStore()
	if err != nil {
		return &JobError{Kind: job.Kind, ID: job.id(), Err: err}
	}

	switch job.Kind {
	case JobLoadDevice:
		err = e.registerDevice(ctx, s, job.Device)
	case JobInstallApp:
		err = e.installApp(ctx, s, job.App)
	default:
		err = fmt.Errorf("unknown job kind %d", job.Kind)
	}
	if err != nil {
		return &JobError{Kind: job.Kind, ID: job.id(), Err: err}
	}
	return nil
}

func (e *Engine) openStore() (*store.Store, error) {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	if e.store == nil {
		return nil, ErrNotOpen
	}
	return e.store, nil
}

func (e *Engine) enqueue(job Job) error {
	if !e.queue.Enqueue(job) {
		return ErrStopped
	}
	return nil
}

func sortBySeq[T any](items []T, seq func(T) int64, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		si, sj := seq(items[i]), seq(items[j])
		if si != sj {
			return si < sj
		}
		return id(items[i]) < id(items[j])
	})
}
