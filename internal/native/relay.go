// Package native relays results of host-native operations back to the Go
// code that started them.
//
// Code that needs the host to do something registers a Callback and hands
// the returned id to the host. The host later answers with the
// invokeCallback control method, which lands in Relay.Invoke.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownCallback is returned for an id that was never registered or
// was already invoked.
var ErrUnknownCallback = errors.New("unknown callback")

// HostError is a failure reported by the host.
type HostError struct {
	Message string
}

func (e *HostError) Error() string {
	return "host: " + e.Message
}

// Callback receives the host's answer. err is a *HostError when the host
// reported a failure.
type Callback func(err error, value json.RawMessage)

// Relay maps callback ids to pending callbacks. Each id fires at most once.
type Relay struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]Callback
}

func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		logger:  logger,
		pending: make(map[string]Callback),
	}
}

// Register stores fn and returns its callback id.
func (r *Relay) Register(fn Callback) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.pending[id] = fn
	r.mu.Unlock()
	return id
}

// Cancel forgets id without invoking it. It reports whether id was pending.
func (r *Relay) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	return ok
}

// Pending returns the number of callbacks waiting for the host.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Invoke fires and forgets the callback for id. A non-nil errMsg is
// delivered as a *HostError.
func (r *Relay) Invoke(id string, errMsg *string, value json.RawMessage) error {
	r.mu.Lock()
	fn, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCallback, id)
	}

	var err error
	if errMsg != nil {
		err = &HostError{Message: *errMsg}
	}
	r.logger.Debug("native callback invoked", "id", id, "failed", err != nil)
	fn(err, value)
	return nil
}

// Await registers a callback and returns its id together with a function
// that blocks until the host answers or ctx is done. On ctx expiry the
// callback is cancelled.
func (r *Relay) Await() (id string, wait func(ctx context.Context) (json.RawMessage, error)) {
	type result struct {
		value json.RawMessage
		err   error
	}
	ch := make(chan result, 1)
	id = r.Register(func(err error, value json.RawMessage) {
		ch <- result{value: value, err: err}
	})

	wait = func(ctx context.Context) (json.RawMessage, error) {
		select {
		case res := <-ch:
			return res.value, res.err
		case <-ctx.Done():
			r.Cancel(id)
			return nil, ctx.Err()
		}
	}
	return id, wait
}
