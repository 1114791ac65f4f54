// Package dispatch maps method names to handlers and settles every
// invocation with exactly one Outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/roach88/thingengine/internal/protocol"
)

// Outcome is the settled result of one handler invocation.
type Outcome struct {
	Value any
	Err   error
}

// Handler serves one method. The returned channel must deliver one Outcome.
type Handler interface {
	Call(ctx context.Context, call protocol.Call) <-chan Outcome
}

// Func adapts a plain function to Handler. It runs on its own goroutine.
type Func func(ctx context.Context, call protocol.Call) (any, error)

func (f Func) Call(ctx context.Context, call protocol.Call) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		defer recoverInto(ch, call.Method())
		v, err := f(ctx, call)
		ch <- Outcome{Value: v, Err: err}
	}()
	return ch
}

// Deferred adapts a function that settles later on a channel it owns.
type Deferred func(ctx context.Context, call protocol.Call) <-chan Outcome

func (f Deferred) Call(ctx context.Context, call protocol.Call) <-chan Outcome {
	return f(ctx, call)
}

// Settled returns a channel already holding the given outcome.
func Settled(v any, err error) <-chan Outcome {
	ch := make(chan Outcome, 1)
	ch <- Outcome{Value: v, Err: err}
	close(ch)
	return ch
}

// PanicError is a handler panic converted into a failure.
type PanicError struct {
	Method string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: handler panicked: %v", e.Method, e.Value)
}

// ErrNoOutcome is reported when a handler returns a nil channel.
var ErrNoOutcome = errors.New("handler returned no outcome")

// Table is a read-only method table.
type Table struct {
	handlers map[string]Handler
}

// NewTable copies handlers into a new table. Later changes to the map do
// not affect the table.
func NewTable(handlers map[string]Handler) *Table {
	t := &Table{handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		if h != nil {
			t.handlers[name] = h
		}
	}
	return t
}

// Methods returns the served method names, sorted.
func (t *Table) Methods() []string {
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the handler for call.Method(). The returned channel always
// yields exactly one Outcome: a missing handler, a panic, or a nil result
// channel all become failures.
func (t *Table) Invoke(ctx context.Context, call protocol.Call) <-chan Outcome {
	method := call.Method()
	h, ok := t.handlers[method]
	if !ok {
		return Settled(nil, fmt.Errorf("%w: %s", protocol.ErrUnknownMethod, method))
	}

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		defer recoverInto(out, method)

		ch := h.Call(ctx, call)
		if ch == nil {
			out <- Outcome{Err: fmt.Errorf("%s: %w", method, ErrNoOutcome)}
			return
		}
		o, ok := <-ch
		if !ok {
			o = Outcome{Err: fmt.Errorf("%s: %w", method, ErrNoOutcome)}
		}
		out <- o
	}()
	return out
}

// recoverInto turns a panic into a failed Outcome on ch. ch must be
// buffered and still empty.
func recoverInto(ch chan<- Outcome, method string) {
	if r := recover(); r != nil {
		ch <- Outcome{Err: &PanicError{Method: method, Value: r, Stack: debug.Stack()}}
	}
}
