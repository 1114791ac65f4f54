package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/thingengine/internal/store"
)

// LoadOneApp validates a serialized app definition and queues it for
// installation on tier. Definition errors are returned as *AppError.
func (e *Engine) LoadOneApp(raw json.RawMessage, tier Tier) (*App, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	fields, err := e.schema.validate(raw)
	if err != nil {
		return nil, err
	}

	id := fields.UniqueID
	if id == "" {
		id = "app-" + e.ids.Generate()
	}
	app := newApp(id, tier, fields, raw)
	out := app.clone()

	if err := e.enqueue(Job{Kind: JobInstallApp, App: app}); err != nil {
		return nil, err
	}
	e.logger.Debug("app queued", "id", app.ID, "tier", string(tier))
	return out, nil
}

// Apps returns every installed app in installation order.
func (e *Engine) Apps() []*App {
	e.mu.RLock()
	out := make([]*App, 0, len(e.apps))
	for _, a := range e.apps {
		out = append(out, a.clone())
	}
	e.mu.RUnlock()

	sortBySeq(out, func(a *App) int64 { return a.seq }, func(a *App) string { return a.ID })
	return out
}

// GetApp returns a copy of the installed app with id.
func (e *Engine) GetApp(id string) (*App, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.apps[id]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// installApp persists and registers a. Reinstalling an id replaces the
// definition but keeps its position.
func (e *Engine) installApp(ctx context.Context, s *store.Store, a *App) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.apps[a.ID]; ok {
		a.seq = prev.seq
		e.logger.Info("replacing app", "id", a.ID)
	} else {
		a.seq = e.clock.Next()
	}

	err := s.PutApp(ctx, store.AppRecord{
		ID:         a.ID,
		Tier:       string(a.Tier),
		Name:       a.Name,
		Definition: a.Definition,
		Seq:        a.seq,
	})
	if err != nil {
		return err
	}
	e.apps[a.ID] = a
	e.logger.Info("app installed", "id", a.ID, "tier", string(a.Tier))
	return nil
}

func (e *Engine) appFromRecord(rec store.AppRecord) (*App, error) {
	tier, err := ParseTier(rec.Tier)
	if err != nil {
		return nil, err
	}
	fields, err := e.schema.validate(rec.Definition)
	if err != nil {
		return nil, err
	}
	app := newApp(rec.ID, tier, fields, rec.Definition)
	app.seq = rec.Seq
	return app, nil
}

func newApp(id string, tier Tier, f appFields, raw json.RawMessage) *App {
	return &App{
		ID:          id,
		Name:        f.Name,
		Description: f.Description,
		Tier:        tier,
		Code:        f.Code,
		State:       f.State,
		Definition:  slices.Clone(raw),
	}
}

func (a *App) clone() *App {
	c := *a
	c.State = maps.Clone(a.State)
	c.Definition = slices.Clone(a.Definition)
	return &c
}
