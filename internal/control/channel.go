package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/text/encoding"

	"github.com/roach88/thingengine/internal/dispatch"
	"github.com/roach88/thingengine/internal/framer"
	"github.com/roach88/thingengine/internal/protocol"
)

const (
	// socketMode restricts the endpoint to the owning user.
	socketMode = 0o600

	staleProbeTimeout = 250 * time.Millisecond
	acceptBackoff     = 50 * time.Millisecond
)

// Channel is the control channel server.
type Channel struct {
	path   string
	table  *dispatch.Table
	logger *slog.Logger
	enc    encoding.Encoding

	mu       sync.Mutex
	ln       net.Listener
	active   *conn
	expected bool // set by Close so the final end-of-stream is not an anomaly
	closed   bool
	ctx      context.Context
	nextConn uint64

	wg sync.WaitGroup
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

// WithEncoding sets the text encoding of the wire. The default is UTF-8.
func WithEncoding(enc encoding.Encoding) Option {
	return func(c *Channel) {
		c.enc = enc
	}
}

// New returns a channel that will serve table on the socket at path.
func New(path string, table *dispatch.Table, opts ...Option) *Channel {
	c := &Channel{
		path:   path,
		table:  table,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the socket path.
func (c *Channel) Path() string {
	return c.path
}

// Open binds the endpoint and starts accepting connections.
//
// Any stale artifact at the path is removed first. If another process is
// still answering on the path, Open fails with a *BindError wrapping
// ErrInUse. ctx bounds nothing after Open returns; handlers run with a
// context that keeps ctx's values but is never cancelled.
func (c *Channel) Open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return &BindError{Path: c.path, Err: err}
	}
	if err := removeStale(c.path); err != nil {
		return &BindError{Path: c.path, Err: err}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", c.path)
	if err != nil {
		return &BindError{Path: c.path, Err: err}
	}
	if err := os.Chmod(c.path, socketMode); err != nil {
		ln.Close()
		return &BindError{Path: c.path, Err: err}
	}

	c.mu.Lock()
	c.ln = ln
	c.ctx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.acceptLoop(ln)

	c.logger.Info("control channel listening", "path", c.path)
	return nil
}

// Close ends the active connection, stops listening and removes the socket.
// It waits for the channel's own goroutines but not for in-flight handlers.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.expected = true
	c.closed = true
	cn := c.active
	ln := c.ln
	c.mu.Unlock()

	if cn != nil {
		cn.close()
	}

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove socket: %w", err))
	}

	c.wg.Wait()
	c.logger.Info("control channel closed", "path", c.path)
	return errors.Join(errs...)
}

// Connected reports whether a peer is currently attached.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Channel) acceptLoop(ln net.Listener) {
	defer c.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Error("control accept failed", "error", err)
			time.Sleep(acceptBackoff)
			continue
		}
		c.accept(nc)
	}
}

func (c *Channel) accept(nc net.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		nc.Close()
		return
	}
	if c.active != nil {
		current := c.active.id
		c.mu.Unlock()
		c.logger.Error("rejecting control connection: another peer is attached",
			"active_conn", current,
		)
		nc.Close()
		return
	}
	c.nextConn++
	cn := &conn{id: c.nextConn, nc: nc, out: framer.NewEncoder(nc, c.enc)}
	c.active = cn
	c.expected = false
	c.mu.Unlock()

	c.logger.Info("control peer connected", "conn", cn.id)

	c.wg.Add(1)
	go c.readLoop(cn)
}

func (c *Channel) readLoop(cn *conn) {
	defer c.wg.Done()

	dec := framer.NewDecoder(cn.nc, c.enc)
	var err error
	for {
		var raw []byte
		raw, err = dec.Next()
		if err != nil {
			if errors.Is(err, framer.ErrFraming) {
				c.logger.Warn("dropping unreadable message", "conn", cn.id, "error", err)
				continue
			}
			break
		}
		c.handle(cn, raw)
	}
	c.endOfStream(cn, err)
}

func (c *Channel) handle(cn *conn, raw []byte) {
	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		c.logger.Warn("dropping malformed message", "conn", cn.id, "error", err)
		return
	}

	var out <-chan dispatch.Outcome
	call, err := protocol.DecodeCall(req)
	if err != nil {
		out = dispatch.Settled(nil, err)
	} else {
		out = c.table.Invoke(c.ctx, call)
	}

	c.logger.Debug("request dispatched", "conn", cn.id, "method", req.Method, "has_id", req.HasID())
	go c.settle(cn, req, out)
}

func (c *Channel) settle(cn *conn, req protocol.Request, out <-chan dispatch.Outcome) {
	o := <-out
	if o.Err != nil {
		c.logger.Debug("handler failed", "method", req.Method, "error", o.Err)
	}
	if !req.HasID() {
		return
	}

	c.mu.Lock()
	current := c.active == cn
	c.mu.Unlock()
	if !current {
		c.logger.Debug("dropping reply for departed peer", "conn", cn.id, "method", req.Method)
		return
	}

	reply := protocol.NewReply(req.ID, o.Value)
	if o.Err != nil {
		reply = protocol.NewErrorReply(req.ID, o.Err)
	}
	if err := cn.out.Encode(reply); err != nil {
		c.logger.Warn("failed to send reply", "conn", cn.id, "method", req.Method, "error", err)
	}
}

func (c *Channel) endOfStream(cn *conn, cause error) {
	c.mu.Lock()
	expected := c.expected
	tracked := c.active == cn
	if tracked {
		c.active = nil
	}
	c.mu.Unlock()

	if !expected && tracked {
		attrs := []any{"conn", cn.id}
		if cause != nil && !errors.Is(cause, io.EOF) {
			attrs = append(attrs, "error", cause)
		}
		c.logger.Error("control peer disconnected unexpectedly", attrs...)
	}
	cn.close()
}

// removeStale clears a leftover socket from a previous run. A socket that
// still answers belongs to a live process and is left alone.
func removeStale(path string) error {
	d := net.Dialer{Timeout: staleProbeTimeout}
	if nc, err := d.Dial("unix", path); err == nil {
		nc.Close()
		return ErrInUse
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

type conn struct {
	id   uint64
	nc   net.Conn
	out  *framer.Encoder
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		c.nc.Close()
	})
}
