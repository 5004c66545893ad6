package host

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/1ureka/chatnet/internal/protocol"
	"github.com/1ureka/chatnet/internal/queue"
	"github.com/1ureka/chatnet/internal/transport"
	"github.com/1ureka/chatnet/internal/util"
)

// ErrAlreadyConnected is returned by Connect while a link is still open.
var ErrAlreadyConnected = errors.New("already connected")

// Client owns at most one connection to a server. Its packets go to a
// private inbound queue drained by Update.
type Client struct {
	opts     options
	inbound  *queue.Queue[transport.OwnedPacket]
	handlers *handlerTable

	mu   sync.Mutex
	conn *transport.Connection
}

// NewClient creates a disconnected client.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		opts:     o,
		inbound:  queue.New[transport.OwnedPacket](),
		handlers: newHandlerTable(),
	}
}

// Handle registers fn for packets of type t. A nil fn removes the handler.
func (c *Client) Handle(t protocol.MessageType, fn HandlerFunc) {
	c.handlers.set(t, fn)
}

// Incoming exposes the inbound queue.
func (c *Client) Incoming() *queue.Queue[transport.OwnedPacket] { return c.inbound }

// Connect resolves host and opens a TCP link to it. On failure no
// connection is kept.
func (c *Client) Connect(ctx context.Context, host string, port uint16) error {
	if c.IsConnected() {
		return ErrAlreadyConnected
	}
	raw, err := transport.Dial(ctx, host, port)
	if err != nil {
		return err
	}
	return c.attach(ctx, raw)
}

// ConnectURL opens the link over a WebSocket (ws:// or wss://).
func (c *Client) ConnectURL(ctx context.Context, url string) error {
	if c.IsConnected() {
		return ErrAlreadyConnected
	}
	raw, err := transport.DialURL(ctx, url)
	if err != nil {
		return err
	}
	return c.attach(ctx, raw)
}

func (c *Client) attach(ctx context.Context, raw net.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsOpen() {
		raw.Close()
		return ErrAlreadyConnected
	}

	conn, err := transport.NewConnection(transport.OwnerClient, raw, c.inbound,
		transport.WithMaxBodySize(c.opts.maxBody))
	if err != nil {
		raw.Close()
		return err
	}

	if c.opts.handshake {
		if err := conn.AnswerValidation(ctx); err != nil {
			return err
		}
	}

	// Whatever the previous link left behind belongs to a dead session.
	c.inbound.Clear()
	conn.Start()
	c.conn = conn
	util.LogSuccess("connected to %s", raw.RemoteAddr())
	return nil
}

// Disconnect closes the link, waits for its goroutines and drops the
// packets it left undispatched. It is safe to call at any time, any number
// of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	<-conn.Done()
	c.inbound.Clear()
	util.LogInfo("disconnected")
}

func (c *Client) current() *transport.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsConnected reports whether the link is open.
func (c *Client) IsConnected() bool {
	conn := c.current()
	return conn != nil && conn.IsOpen()
}

// Send queues pkt on the link. It does nothing and returns false when not
// connected.
func (c *Client) Send(pkt *protocol.Packet) bool {
	conn := c.current()
	if conn == nil {
		return false
	}
	return conn.Send(pkt)
}

// Update dispatches up to maxMessages queued packets (Unbounded for all of
// them) on the calling goroutine. With wait set it blocks until at least one
// packet is queued or ctx is done.
func (c *Client) Update(ctx context.Context, maxMessages int, wait bool) (int, error) {
	return drain(ctx, c.inbound, maxMessages, wait, c.dispatch)
}

func (c *Client) dispatch(op transport.OwnedPacket) {
	conn := c.current()
	if conn == nil {
		util.Logf("dropped %s received before disconnect", op.Packet.Type())
		return
	}

	if err := c.handlers.call(conn, op.Packet); err != nil {
		util.LogWarning("%v", err)
		if hook := c.opts.hooks.OnDispatchError; hook != nil {
			hook(conn, op.Packet, err)
		}
		if errors.Is(err, protocol.ErrBodyUnderflow) {
			conn.Close()
		}
	}
}
