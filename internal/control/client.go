package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/text/encoding"

	"github.com/roach88/thingengine/internal/framer"
	"github.com/roach88/thingengine/internal/protocol"
)

// Client is a control channel peer. It is used by the CLI and by tests
// that play the host's role.
//
// Calls are correlated by integer id, so one Client may issue calls from
// several goroutines at once.
type Client struct {
	nc  net.Conn
	out *framer.Encoder
	enc encoding.Encoding

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan protocol.Reply
	err     error

	done chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientEncoding sets the client's wire encoding. It must match the
// channel's.
func WithClientEncoding(enc encoding.Encoding) ClientOption {
	return func(c *Client) {
		c.enc = enc
	}
}

// Dial connects to the control socket at path.
func Dial(ctx context.Context, path string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}

	c := &Client{
		nc:      nc,
		pending: make(map[int64]chan protocol.Reply),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.out = framer.NewEncoder(nc, c.enc)

	go c.readLoop()
	return c, nil
}

// Call sends a request and waits for its reply. A failure reply is
// returned as a *RemoteError.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan protocol.Reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req, err := protocol.NewRequest(method, id, args...)
	if err != nil {
		return nil, err
	}
	if err := c.out.Encode(req); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.Failed() {
			return nil, &RemoteError{Method: method, Message: reply.Error}
		}
		return reply.Reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeErr()
	}
}

// Notify sends a request without an id. No reply will arrive.
func (c *Client) Notify(method string, args ...any) error {
	req, err := protocol.NewRequest(method, nil, args...)
	if err != nil {
		return err
	}
	return c.out.Encode(req)
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection.
func (c *Client) Close() error {
	err := c.nc.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) readLoop() {
	dec := framer.NewDecoder(c.nc, c.enc)
	var err error
	for {
		var raw json.RawMessage
		raw, err = dec.Next()
		if err != nil {
			if errors.Is(err, framer.ErrFraming) {
				continue
			}
			break
		}
		var reply protocol.Reply
		if json.Unmarshal(raw, &reply) != nil {
			continue
		}
		var id int64
		if json.Unmarshal(reply.ID, &id) != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- reply:
			default: // duplicate reply for an id already answered
			}
		}
	}

	c.mu.Lock()
	c.err = fmt.Errorf("%w: %v", ErrClientClosed, err)
	c.mu.Unlock()
	close(c.done)
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
