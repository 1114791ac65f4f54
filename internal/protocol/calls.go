package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Method names exposed to the host. Names and positional argument order are
// part of the compatibility contract with the native shell.
const (
	MethodFoo                   = "foo"
	MethodStop                  = "stop"
	MethodSetCloudID            = "setCloudId"
	MethodSetServerAddress      = "setServerAddress"
	MethodAddApp                = "addApp"
	MethodInjectDevice          = "injectDevice"
	MethodCreateFeedWithContact = "createOmletFeedWithContact"
	MethodRemoveDevice          = "removeDevice"
	MethodInvokeCallback        = "invokeCallback"
)

// Call is a decoded request with typed arguments.
// The concrete type is one of the structs in this file.
type Call interface {
	Method() string
}

// Foo is a smoke-test call that echoes a number.
type Foo struct {
	Value json.Number
}

// Stop asks the engine to shut down.
type Stop struct{}

// SetCloudID registers the cloud-tier engine this phone syncs with.
type SetCloudID struct {
	CloudID   string
	AuthToken string
}

// SetServerAddress registers the server-tier engine this phone syncs with.
// A nil AuthToken keeps the token already stored.
type SetServerAddress struct {
	Host      string
	Port      int
	AuthToken *string
}

// AddApp installs an application definition on the given tier.
type AddApp struct {
	App  json.RawMessage
	Tier string
}

// InjectDevice loads a raw device definition. Test-only.
type InjectDevice struct {
	Device map[string]any
}

// CreateFeedWithContact opens (or reuses) a messaging feed with a contact.
type CreateFeedWithContact struct {
	Contact string
}

// RemoveDevice removes a registered device by id.
type RemoveDevice struct {
	DeviceID string
}

// InvokeCallback settles a pending native callback.
type InvokeCallback struct {
	CallbackID string
	Error      *string
	Value      json.RawMessage
}

func (Foo) Method() string                   { return MethodFoo }
func (Stop) Method() string                  { return MethodStop }
func (SetCloudID) Method() string            { return MethodSetCloudID }
func (SetServerAddress) Method() string      { return MethodSetServerAddress }
func (AddApp) Method() string                { return MethodAddApp }
func (InjectDevice) Method() string          { return MethodInjectDevice }
func (CreateFeedWithContact) Method() string { return MethodCreateFeedWithContact }
func (RemoveDevice) Method() string          { return MethodRemoveDevice }
func (InvokeCallback) Method() string        { return MethodInvokeCallback }

// ArgumentError reports arguments that do not fit a method's schema.
type ArgumentError struct {
	Method string
	// Index is the offending argument position, or -1 when the problem is
	// the argument list as a whole.
	Index int
	Msg   string
}

func (e *ArgumentError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Method, e.Msg)
	}
	return fmt.Sprintf("%s: argument %d %s", e.Method, e.Index, e.Msg)
}

// Is makes errors.Is(err, ErrInvalidArgs) hold for every ArgumentError.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgs
}

type decodeFunc func(a argList) (Call, error)

var decoders = map[string]decodeFunc{
	MethodFoo:                   decodeFoo,
	MethodStop:                  func(argList) (Call, error) { return Stop{}, nil },
	MethodSetCloudID:            decodeSetCloudID,
	MethodSetServerAddress:      decodeSetServerAddress,
	MethodAddApp:                decodeAddApp,
	MethodInjectDevice:          decodeInjectDevice,
	MethodCreateFeedWithContact: decodeCreateFeedWithContact,
	MethodRemoveDevice:          decodeRemoveDevice,
	MethodInvokeCallback:        decodeInvokeCallback,
}

// Methods returns every method name DecodeCall understands, sorted.
func Methods() []string {
	names := make([]string, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeCall validates a request's arguments against its method's schema.
//
// Unknown methods yield an error wrapping ErrUnknownMethod; argument
// problems yield an *ArgumentError. Extra trailing arguments are ignored.
func DecodeCall(req Request) (Call, error) {
	dec, ok := decoders[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, req.Method)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(req.Args, &items); err != nil {
		return nil, &ArgumentError{Method: req.Method, Index: -1, Msg: "args must be an array"}
	}
	return dec(argList{method: req.Method, items: items})
}

func decodeFoo(a argList) (Call, error) {
	if err := a.require(1); err != nil {
		return nil, err
	}
	n, err := a.number(0)
	if err != nil {
		return nil, err
	}
	return Foo{Value: n}, nil
}

func decodeSetCloudID(a argList) (Call, error) {
	if err := a.require(2); err != nil {
		return nil, err
	}
	var c SetCloudID
	if err := a.str(0, &c.CloudID); err != nil {
		return nil, err
	}
	if err := a.str(1, &c.AuthToken); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeSetServerAddress(a argList) (Call, error) {
	if err := a.require(2); err != nil {
		return nil, err
	}
	var c SetServerAddress
	if err := a.str(0, &c.Host); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(a.items[1], &c.Port); err != nil || isNull(a.items[1]) {
		return nil, a.invalid(1, "must be an integer port")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return nil, a.invalid(1, "must be a port between 1 and 65535")
	}
	token, err := a.optStr(2)
	if err != nil {
		return nil, err
	}
	c.AuthToken = token
	return c, nil
}

func decodeAddApp(a argList) (Call, error) {
	if err := a.require(2); err != nil {
		return nil, err
	}
	app := a.items[0]
	// Hosts may pass the app either as an object or as its JSON text.
	var text string
	if json.Unmarshal(app, &text) == nil && !isNull(app) {
		app = json.RawMessage(text)
	}
	if !isObject(app) {
		return nil, a.invalid(0, "must be a serialized app object")
	}
	var c AddApp
	c.App = app
	if err := a.str(1, &c.Tier); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeInjectDevice(a argList) (Call, error) {
	if err := a.require(1); err != nil {
		return nil, err
	}
	var dev map[string]any
	if err := json.Unmarshal(a.items[0], &dev); err != nil || dev == nil {
		return nil, a.invalid(0, "must be a device object")
	}
	return InjectDevice{Device: dev}, nil
}

func decodeCreateFeedWithContact(a argList) (Call, error) {
	if err := a.require(1); err != nil {
		return nil, err
	}
	var c CreateFeedWithContact
	if err := a.str(0, &c.Contact); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeRemoveDevice(a argList) (Call, error) {
	if err := a.require(1); err != nil {
		return nil, err
	}
	var c RemoveDevice
	if err := a.str(0, &c.DeviceID); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeInvokeCallback(a argList) (Call, error) {
	if err := a.require(1); err != nil {
		return nil, err
	}
	var c InvokeCallback
	id, err := a.token(0)
	if err != nil {
		return nil, err
	}
	c.CallbackID = id
	if len(a.items) > 1 && !isNull(a.items[1]) {
		var msg string
		if json.Unmarshal(a.items[1], &msg) != nil {
			// Non-string errors are relayed as their JSON text.
			msg = string(bytes.TrimSpace(a.items[1]))
		}
		c.Error = &msg
	}
	if len(a.items) > 2 && !isNull(a.items[2]) {
		c.Value = a.items[2]
	}
	return c, nil
}

// argList is a positional argument array awaiting typed extraction.
type argList struct {
	method string
	items  []json.RawMessage
}

func (a argList) invalid(i int, msg string) error {
	return &ArgumentError{Method: a.method, Index: i, Msg: msg}
}

func (a argList) require(n int) error {
	if len(a.items) < n {
		return &ArgumentError{
			Method: a.method,
			Index:  -1,
			Msg:    fmt.Sprintf("expected at least %d arguments, got %d", n, len(a.items)),
		}
	}
	return nil
}

func (a argList) str(i int, dst *string) error {
	if isNull(a.items[i]) || json.Unmarshal(a.items[i], dst) != nil {
		return a.invalid(i, "must be a string")
	}
	return nil
}

func (a argList) optStr(i int) (*string, error) {
	if i >= len(a.items) || isNull(a.items[i]) {
		return nil, nil
	}
	var s string
	if err := a.str(i, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a argList) number(i int) (json.Number, error) {
	dec := json.NewDecoder(bytes.NewReader(a.items[i]))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", a.invalid(i, "must be a number")
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", a.invalid(i, "must be a number")
	}
	return n, nil
}

// token accepts an identifier sent either as a string or as a number.
func (a argList) token(i int) (string, error) {
	var s string
	if err := json.Unmarshal(a.items[i], &s); err == nil && !isNull(a.items[i]) {
		if s == "" {
			return "", a.invalid(i, "must not be empty")
		}
		return s, nil
	}
	n, err := a.number(i)
	if err != nil {
		return "", a.invalid(i, "must be a string or number")
	}
	return n.String(), nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
