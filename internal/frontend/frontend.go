// Package frontend serves the engine's admin HTTP surface.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/thingengine/internal/engine"
)

// Registry is the part of the engine the frontend reads and edits.
type Registry interface {
	Devices() []*engine.Device
	GetDevice(id string) (*engine.Device, error)
	RemoveDevice(ctx context.Context, d *engine.Device) error
	Apps() []*engine.App
}

// Frontend is an HTTP server bound on Open and shut down on Close.
// An empty address disables it; Open and Close then do nothing.
type Frontend struct {
	addr     string
	registry Registry
	logger   *slog.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
	wg  sync.WaitGroup
}

func New(addr string, registry Registry, logger *slog.Logger) *Frontend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontend{addr: addr, registry: registry, logger: logger}
}

// Handler returns the router. Routes:
//
//	GET    /healthz
//	GET    /api/devices
//	DELETE /api/devices/{id}
//	GET    /api/apps
func (f *Frontend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", f.healthz)
	r.Get("/api/devices", f.listDevices)
	r.Delete("/api/devices/{id}", f.deleteDevice)
	r.Get("/api/apps", f.listApps)
	return r
}

// Addr returns the bound address, or "" before Open or when disabled.
func (f *Frontend) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ln == nil {
		return ""
	}
	return f.ln.Addr().String()
}

func (f *Frontend) Open(ctx context.Context) error {
	if f.addr == "" {
		f.logger.Info("frontend disabled")
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", f.addr)
	if err != nil {
		return fmt.Errorf("frontend: listen %s: %w", f.addr, err)
	}
	srv := &http.Server{
		Handler:           f.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	f.mu.Lock()
	f.ln = ln
	f.srv = srv
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("frontend stopped", "error", err)
		}
	}()
	f.logger.Info("frontend listening", "addr", ln.Addr().String())
	return nil
}

// Close shuts the server down gracefully within ctx. A failed shutdown is
// logged and returned.
func (f *Frontend) Close(ctx context.Context) error {
	f.mu.Lock()
	srv := f.srv
	f.srv = nil
	f.ln = nil
	f.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		f.logger.Error("frontend shutdown failed", "error", err)
		err = errors.Join(fmt.Errorf("frontend: shutdown: %w", err), srv.Close())
	}
	f.wg.Wait()
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func (f *Frontend) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *Frontend) listDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.registry.Devices())
}

func (f *Frontend) listApps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.registry.Apps())
}

func (f *Frontend) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := f.registry.GetDevice(id)
	if err == nil {
		err = f.registry.RemoveDevice(r.Context(), d)
	}
	switch {
	case errors.Is(err, engine.ErrDeviceNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		f.logger.Error("delete device failed", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
