package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/thingengine/internal/dispatch"
	"github.com/roach88/thingengine/internal/engine"
	"github.com/roach88/thingengine/internal/native"
	"github.com/roach88/thingengine/internal/platform"
	"github.com/roach88/thingengine/internal/protocol"
)

// Deps are the collaborators the control methods act on.
type Deps struct {
	Engine   *engine.Engine
	Platform *platform.Platform
	Relay    *native.Relay
	// Stop requests process shutdown. It must not block on the handler
	// that calls it.
	Stop   func()
	Logger *slog.Logger
}

type handlers struct {
	Deps
}

// NewTable builds the dispatch table for every control method.
func NewTable(d Deps) *dispatch.Table {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{Deps: d}
	return dispatch.NewTable(map[string]dispatch.Handler{
		protocol.MethodFoo:                   dispatch.Func(h.foo),
		protocol.MethodStop:                  dispatch.Func(h.stop),
		protocol.MethodSetCloudID:            dispatch.Func(h.setCloudID),
		protocol.MethodSetServerAddress:      dispatch.Func(h.setServerAddress),
		protocol.MethodAddApp:                dispatch.Func(h.addApp),
		protocol.MethodInjectDevice:          dispatch.Func(h.injectDevice),
		protocol.MethodCreateFeedWithContact: dispatch.Func(h.createFeedWithContact),
		protocol.MethodRemoveDevice:          dispatch.Func(h.removeDevice),
		protocol.MethodInvokeCallback:        dispatch.Func(h.invokeCallback),
	})
}

func (h *handlers) foo(_ context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.Foo)
	h.Logger.Info("foo called", "value", c.Value.String())
	return c.Value, nil
}

func (h *handlers) stop(_ context.Context, _ protocol.Call) (any, error) {
	h.Stop()
	return nil, nil
}

// setCloudID pairs with the user's cloud engine. It replies false when a
// cloud engine is already paired or the token is refused.
func (h *handlers) setCloudID(_ context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.SetCloudID)
	if h.Engine.HasDevice(engine.OwnDeviceID(engine.TierCloud)) {
		return false, nil
	}
	if !h.setAuthToken(c.AuthToken) {
		return false, nil
	}
	return h.loadOwnDevice(engine.DeviceConfig{
		"kind":    engine.KindEngine,
		"tier":    string(engine.TierCloud),
		"cloudId": c.CloudID,
		"own":     true,
	})
}

// setServerAddress pairs with the user's server engine. A null token keeps
// the stored one.
func (h *handlers) setServerAddress(_ context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.SetServerAddress)
	if h.Engine.HasDevice(engine.OwnDeviceID(engine.TierServer)) {
		return false, nil
	}
	if c.AuthToken != nil && !h.setAuthToken(*c.AuthToken) {
		return false, nil
	}
	return h.loadOwnDevice(engine.DeviceConfig{
		"kind": engine.KindEngine,
		"tier": string(engine.TierServer),
		"host": c.Host,
		"port": c.Port,
		"own":  true,
	})
}

// setAuthToken reports whether the token was stored. A token that cannot
// be persisted counts as refused.
func (h *handlers) setAuthToken(token string) bool {
	ok, err := h.Platform.SetAuthToken(token)
	switch {
	case errors.Is(err, platform.ErrEmptyToken):
		return false
	case err != nil:
		h.Logger.Error("failed to persist auth token", "error", err)
		return false
	}
	return ok
}

// loadOwnDevice queues an own engine device. A pairing already registered
// or still queued by a concurrent request replies false.
func (h *handlers) loadOwnDevice(cfg engine.DeviceConfig) (any, error) {
	_, err := h.Engine.LoadOneDevice(cfg)
	switch {
	case errors.Is(err, engine.ErrDeviceExists):
		return false, nil
	case err != nil:
		return nil, err
	}
	return true, nil
}

// addApp validates the definition and queues installation. The reply does
// not wait for the install.
func (h *handlers) addApp(_ context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.AddApp)
	tier, err := engine.ParseTier(c.Tier)
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.LoadOneApp(c.App, tier); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *handlers) injectDevice(_ context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.InjectDevice)
	_, err := h.Engine.LoadOneDevice(engine.DeviceConfig(c.Device))
	return nil, err
}

func (h *handlers) createFeedWithContact(ctx context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.CreateFeedWithContact)
	feed, err := h.Engine.GetFeedWithContact(ctx, c.Contact)
	if err != nil {
		return nil, err
	}
	return feed.ID, nil
}

func (h *handlers) removeDevice(ctx context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.RemoveDevice)
	d, err := h.Engine.GetDevice(c.DeviceID)
	if err != nil {
		return nil, err
	}
	return nil, h.Engine.RemoveDevice(ctx, d)
}

func (h *handlers) invokeCallback(_ context.Context, call protocol.Call) (any, error) {
	c := call.(protocol.InvokeCallback)
	if err := h.Relay.Invoke(c.CallbackID, c.Error, c.Value); err != nil {
		return nil, fmt.Errorf("invokeCallback: %w", err)
	}
	return nil, nil
}
