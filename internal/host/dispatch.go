// Package host drives connections for the two roles: Server accepts many
// clients and Client owns exactly one link. Both hand inbound packets to a
// shared queue that the application drains with Update.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/chatnet/internal/protocol"
	"github.com/1ureka/chatnet/internal/queue"
	"github.com/1ureka/chatnet/internal/transport"
)

// Unbounded tells Update to drain every queued packet.
const Unbounded = -1

var (
	// ErrNoHandler means no handler is registered for the packet's type.
	ErrNoHandler = errors.New("no handler registered")

	// ErrUnauthenticated means the authentication gate dropped the packet.
	ErrUnauthenticated = errors.New("connection not authenticated")
)

// HandlerFunc handles one inbound packet. conn is the connection the packet
// arrived on. A returned error is reported and the connection stays open,
// unless it wraps protocol.ErrBodyUnderflow: a body that does not match its
// type's layout closes the connection.
type HandlerFunc func(conn *transport.Connection, pkt *protocol.Packet) error

// Hooks are the overridable connection events. Every field is optional.
type Hooks struct {
	// OnClientConnect is offered every accepted socket before it gets an id.
	// Returning false drops it silently.
	OnClientConnect func(conn *transport.Connection) bool

	// OnClientValidated runs once the connection passed the handshake (or
	// right after accept when the handshake is disabled), before it opens.
	OnClientValidated func(conn *transport.Connection)

	// OnClientDisconnect runs exactly once for every registered connection
	// when it is pruned. It may run on a connection's own goroutine.
	OnClientDisconnect func(conn *transport.Connection)

	// OnDispatchError receives every packet Update could not dispatch.
	OnDispatchError func(conn *transport.Connection, pkt *protocol.Packet, err error)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

type options struct {
	handshake bool
	maxBody   uint64
	maxConns  int
	gate      map[protocol.MessageType]bool // nil: no gate
	hooks     Hooks
}

func defaultOptions() options {
	return options{maxBody: protocol.DefaultMaxBodySize}
}

// Option configures a Server or a Client. Options that only make sense for
// one role are ignored by the other.
type Option func(*options)

// WithHandshake enables the nonce challenge before a connection opens. Both
// ends of a link must agree on it.
func WithHandshake(enabled bool) Option {
	return func(o *options) { o.handshake = enabled }
}

// WithMaxBodySize caps the body size accepted from peers. Zero disables it.
func WithMaxBodySize(n uint64) Option {
	return func(o *options) { o.maxBody = n }
}

// WithMaxConnections limits how many clients a server keeps open at once.
func WithMaxConnections(n int) Option {
	return func(o *options) { o.maxConns = n }
}

// WithAuthGate makes a server dispatch only the allowed types for
// connections whose Authenticated flag is still false.
func WithAuthGate(allowed ...protocol.MessageType) Option {
	return func(o *options) {
		o.gate = make(map[protocol.MessageType]bool, len(allowed))
		for _, t := range allowed {
			o.gate[t] = true
		}
	}
}

// WithHooks installs connection event hooks.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// ---------------------------------------------------------------------------
// Handler table
// ---------------------------------------------------------------------------

type handlerTable struct {
	mu sync.RWMutex
	m  map[protocol.MessageType]HandlerFunc
}

func newHandlerTable() *handlerTable {
	return &handlerTable{m: make(map[protocol.MessageType]HandlerFunc)}
}

func (h *handlerTable) set(t protocol.MessageType, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.m, t)
		return
	}
	h.m[t] = fn
}

func (h *handlerTable) get(t protocol.MessageType) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.m[t]
	return fn, ok
}

// call runs the handler for pkt on conn.
func (h *handlerTable) call(conn *transport.Connection, pkt *protocol.Packet) error {
	fn, ok := h.get(pkt.Type())
	if !ok {
		return fmt.Errorf("%w for %s", ErrNoHandler, pkt.Type())
	}
	if err := fn(conn, pkt); err != nil {
		return fmt.Errorf("%s handler: %w", pkt.Type(), err)
	}
	return nil
}

// drain pops up to max packets (all of them for Unbounded) and passes each
// to dispatch. With wait set it first blocks until a packet is queued or ctx
// is done.
func drain(ctx context.Context, in *queue.Queue[transport.OwnedPacket], max int, wait bool, dispatch func(transport.OwnedPacket)) (int, error) {
	if wait {
		if err := in.Wait(ctx); err != nil {
			return 0, err
		}
	}

	n := 0
	for max < 0 || n < max {
		op, ok := in.PopFront()
		if !ok {
			break
		}
		dispatch(op)
		n++
	}
	return n, nil
}
