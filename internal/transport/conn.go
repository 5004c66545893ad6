// Package transport implements the per-socket connection endpoint: optional
// handshake, framed read loop and serialized write loop over any net.Conn
// (plain TCP or the WebSocket stream adapter).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	fifo "github.com/eapache/queue"

	"github.com/1ureka/chatnet/internal/protocol"
	"github.com/1ureka/chatnet/internal/queue"
	"github.com/1ureka/chatnet/internal/util"
)

var (
	// ErrClosed is reported by Err when the connection was closed locally.
	ErrClosed = errors.New("connection closed")

	// ErrHandshakeRejected means the peer answered the challenge wrongly.
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// Option configures a Connection.
type Option func(*Connection)

// WithMaxBodySize caps the body size accepted from the peer.
// Zero disables the limit.
func WithMaxBodySize(n uint64) Option {
	return func(c *Connection) { c.maxBody = n }
}

// WithOnClose registers a hook that runs exactly once, after both I/O
// goroutines have exited. No other callback fires after it.
func WithOnClose(fn func(*Connection)) Option {
	return func(c *Connection) { c.onClose = fn }
}

// Connection owns one socket and its outbound queue.
//
// Once started, a reader goroutine loops header → body → inbound queue and a
// writer goroutine drains the outbound queue one whole packet at a time, so
// packets leave in Send order and never interleave. Any I/O or framing error
// closes the socket; nothing is retried.
type Connection struct {
	// Identity
	id    uint32
	owner Owner
	conn  net.Conn

	// Lifecycle
	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup
	done      chan struct{}
	onClose   func(*Connection)

	errMu sync.Mutex
	err   error

	// Communication
	inbound *queue.Queue[OwnedPacket] // shared with the host, pushed by readLoop
	maxBody uint64

	outMu   sync.Mutex
	pending *fifo.Queue   // unbounded, Send → writeLoop
	wake    chan struct{} // cap 1, signals pending is non-empty

	// Handshake validation (server side).
	nonce    uint64
	expected uint64

	authenticated atomic.Bool
}

// NewConnection wraps an established socket. Server-owned connections draw
// their handshake challenge here.
func NewConnection(owner Owner, conn net.Conn, inbound *queue.Queue[OwnedPacket], opts ...Option) (*Connection, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		owner:   owner,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		inbound: inbound,
		pending: fifo.New(),
		wake:    make(chan struct{}, 1),
		maxBody: protocol.DefaultMaxBodySize,
	}
	c.state.Store(int32(StateConnecting))

	for _, opt := range opts {
		opt(c)
	}

	if owner == OwnerServer {
		nonce, err := newNonce()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to draw handshake nonce: %w", err)
		}
		c.nonce = nonce
		c.expected = Scramble(nonce)
	}

	return c, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (c *Connection) ID() uint32 { return c.id }

// AssignID sets the host-assigned id. It must be called before Start.
func (c *Connection) AssignID(id uint32) { c.id = id }

func (c *Connection) Owner() Owner         { return c.owner }
func (c *Connection) State() State         { return State(c.state.Load()) }
func (c *Connection) IsOpen() bool         { return c.State() == StateOpen }
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Done is closed once the connection is fully closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Authenticated reports the application-level login flag.
func (c *Connection) Authenticated() bool { return c.authenticated.Load() }

// SetAuthenticated sets the application-level login flag.
func (c *Connection) SetAuthenticated(v bool) { c.authenticated.Store(v) }

// Err returns the error that closed the connection, ErrClosed for a local
// Close, or nil while it is still alive.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Connection) String() string {
	if c.owner == OwnerClient {
		return fmt.Sprintf("[client] %s", c.conn.RemoteAddr())
	}
	return fmt.Sprintf("[%d] %s", c.id, c.conn.RemoteAddr())
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start moves the connection to Open and launches its reader and writer.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) &&
			!c.state.CompareAndSwap(int32(StateAwaitingValidation), int32(StateOpen)) {
			return
		}
		c.started.Store(true)
		util.Stats.AddConn()

		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// Send queues pkt for the writer goroutine and never blocks on the socket.
// It returns false if the connection is closing or closed. Packets sent
// before Start are written once the connection opens.
func (c *Connection) Send(pkt *protocol.Packet) bool {
	if s := c.State(); s == StateClosing || s == StateClosed {
		return false
	}

	c.outMu.Lock()
	c.pending.Add(pkt)
	c.outMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of packets queued but not yet written.
func (c *Connection) Pending() int {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.pending.Length()
}

// next pops the oldest queued packet, or nil.
func (c *Connection) next() *protocol.Packet {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.pending.Length() == 0 {
		return nil
	}
	return c.pending.Remove().(*protocol.Packet)
}

// Close requests shutdown. In-flight reads and writes observe the closed
// socket and exit; queued outbound packets are discarded.
func (c *Connection) Close() {
	c.shutdown(ErrClosed)
}

// fail records err and closes the connection.
func (c *Connection) fail(err error) {
	if c.ctx.Err() == nil {
		util.LogWarning("%s connection lost: %v", c, err)
	}
	c.shutdown(err)
}

func (c *Connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()

		c.state.Store(int32(StateClosing))
		c.cancel()
		c.conn.Close()

		go func() {
			c.wg.Wait()
			c.state.Store(int32(StateClosed))
			if c.started.Load() {
				util.Stats.RemoveConn()
			}
			util.Logf("%s connection closed", c)
			if c.onClose != nil {
				c.onClose(c)
			}
			close(c.done)
		}()
	})
}

// ---------------------------------------------------------------------------
// I/O loops
// ---------------------------------------------------------------------------

// readLoop reads whole packets and pushes them to the host's inbound queue,
// then immediately starts on the next header.
func (c *Connection) readLoop() {
	defer c.wg.Done()

	for {
		pkt, err := protocol.ReadPacket(c.conn, c.maxBody)
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		util.Stats.AddRecv(protocol.HeaderSize + pkt.Len())

		var remote uint32
		if c.owner == OwnerServer {
			remote = c.id
		}
		c.inbound.PushBack(OwnedPacket{Remote: remote, Packet: pkt})
	}
}

// writeLoop is the single writer. It drains pending in Send order and
// sleeps on wake once it is empty.
func (c *Connection) writeLoop() {
	defer c.wg.Done()

	for {
		pkt := c.next()
		if pkt == nil {
			select {
			case <-c.wake:
				continue
			case <-c.ctx.Done():
				return
			}
		}

		n, err := protocol.WritePacket(c.conn, pkt)
		if err != nil {
			c.fail(fmt.Errorf("write %s: %w", pkt.Type(), err))
			return
		}
		util.Stats.AddSent(n)
	}
}
