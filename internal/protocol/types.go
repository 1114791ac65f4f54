// Package protocol defines the control channel's wire messages and the closed
// set of typed calls the host may issue.
//
// A request on the wire is {"method": <string>, "args": <array>, "id"?: <any>}.
// A reply is {"id": <any>, "reply"?: <any>} on success or
// {"id": <any>, "error": <string>} on failure. The id is opaque: it is copied
// from request to reply byte for byte and never interpreted.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Error classes for inbound messages.
var (
	// ErrMalformed marks a message without a method name or argument list.
	// Malformed messages are dropped without a reply.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownMethod marks a request naming a method that is not served.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidArgs marks a request whose arguments do not fit the method.
	ErrInvalidArgs = errors.New("invalid arguments")
)

// Request is an inbound method call.
type Request struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// HasID reports whether the request carries a reply identifier.
// A request without one is fire-and-forget.
func (r Request) HasID() bool {
	return !isNull(r.ID)
}

// DecodeRequest parses one framed value into a Request.
// Anything that is not an object with a method name and an argument list
// yields an error wrapping ErrMalformed.
func DecodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: missing method", ErrMalformed)
	}
	if isNull(req.Args) {
		return Request{}, fmt.Errorf("%w: missing args", ErrMalformed)
	}
	return req, nil
}

// NewRequest builds a request with positional arguments. A nil id produces
// a fire-and-forget request.
func NewRequest(method string, id any, args ...any) (Request, error) {
	if args == nil {
		args = []any{}
	}
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return Request{}, fmt.Errorf("marshal args: %w", err)
	}
	req := Request{Method: method, Args: rawArgs}
	if id != nil {
		rawID, err := json.Marshal(id)
		if err != nil {
			return Request{}, fmt.Errorf("marshal id: %w", err)
		}
		req.ID = rawID
	}
	return req, nil
}

// Reply answers a request that carried an id.
type Reply struct {
	ID    json.RawMessage `json:"id"`
	Reply json.RawMessage `json:"reply,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Failed reports whether the reply carries an error.
func (r Reply) Failed() bool {
	return r.Error != ""
}

// NewReply builds a success reply. A nil value is omitted from the wire.
// A value that cannot be marshalled turns into an error reply.
func NewReply(id json.RawMessage, value any) Reply {
	if value == nil {
		return Reply{ID: id}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return NewErrorReply(id, fmt.Errorf("marshal reply: %w", err))
	}
	return Reply{ID: id, Reply: data}
}

// NewErrorReply builds a failure reply carrying only err's message.
func NewErrorReply(id json.RawMessage, err error) Reply {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Reply{ID: id, Error: msg}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
