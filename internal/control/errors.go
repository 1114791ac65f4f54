package control

import (
	"errors"
	"fmt"
)

// ErrInUse reports a socket path that another live process is serving.
var ErrInUse = errors.New("control socket already in use")

// ErrClientClosed is returned for calls on a client whose connection ended.
var ErrClientClosed = errors.New("control client closed")

// BindError reports a failure to create or bind the control endpoint.
// It is fatal to startup.
type BindError struct {
	Path string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("control: bind %s: %v", e.Path, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// RemoteError is a failure reply received from the engine.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}
