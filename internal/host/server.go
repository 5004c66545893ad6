package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/chatnet/internal/protocol"
	"github.com/1ureka/chatnet/internal/queue"
	"github.com/1ureka/chatnet/internal/transport"
	"github.com/1ureka/chatnet/internal/util"
)

// Server accepts clients on one or more listeners, keeps them in a registry
// keyed by connection id and dispatches their packets on the goroutine that
// calls Update.
type Server struct {
	opts     options
	inbound  *queue.Queue[transport.OwnedPacket]
	registry *Registry
	ids      *idGen
	handlers *handlerTable

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // accept loops and connection openers

	mu        sync.Mutex
	listeners []net.Listener
	stopOnce  sync.Once
}

// NewServer creates a server with no listener.
func NewServer(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     o,
		inbound:  queue.New[transport.OwnedPacket](),
		registry: NewRegistry(),
		ids:      newIDGen(),
		handlers: newHandlerTable(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers fn for packets of type t. A nil fn removes the handler.
func (s *Server) Handle(t protocol.MessageType, fn HandlerFunc) {
	s.handlers.set(t, fn)
}

// Incoming exposes the shared inbound queue.
func (s *Server) Incoming() *queue.Queue[transport.OwnedPacket] { return s.inbound }

// Connection returns the registered connection with the given id.
func (s *Server) Connection(id uint32) (*transport.Connection, bool) {
	return s.registry.Get(id)
}

// Connections returns a snapshot of the registered connections by id.
func (s *Server) Connections() []*transport.Connection { return s.registry.Snapshot() }

// Count returns the number of registered connections.
func (s *Server) Count() int { return s.registry.Len() }

// Addr returns the address of the first listener, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// ---------------------------------------------------------------------------
// Accepting
// ---------------------------------------------------------------------------

// Start listens on addr and serves it in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := transport.Listen(ctx, addr, s.opts.maxConns)
	if err != nil {
		return err
	}
	s.track(ln)
	util.LogInfo("server listening on %s", ln.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.serve(ctx, ln); err != nil {
			util.LogError("accept loop on %s stopped: %v", ln.Addr(), err)
		}
	}()
	return nil
}

// Serve runs the accept loop on ln until ctx is done, Stop is called or ln
// fails. It may run concurrently for several listeners. A closed listener
// ends it with a nil error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.track(ln)

	s.wg.Add(1)
	defer s.wg.Done()
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopServer := context.AfterFunc(s.ctx, cancel)
	defer stopServer()
	stopListener := context.AfterFunc(ctx, func() { ln.Close() })
	defer stopListener()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.accept(ctx, raw)
	}
}

func (s *Server) track(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l == ln {
			return
		}
	}
	s.listeners = append(s.listeners, ln)
}

// accept wraps raw, offers it to OnClientConnect and opens it in the
// background so a slow handshake never stalls the accept loop.
func (s *Server) accept(ctx context.Context, raw net.Conn) {
	conn, err := transport.NewConnection(transport.OwnerServer, raw, s.inbound,
		transport.WithMaxBodySize(s.opts.maxBody),
		transport.WithOnClose(func(c *transport.Connection) { s.prune(c.ID()) }),
	)
	if err != nil {
		util.LogError("failed to set up connection from %s: %v", raw.RemoteAddr(), err)
		raw.Close()
		return
	}

	if hook := s.opts.hooks.OnClientConnect; hook != nil && !hook(conn) {
		util.Logf("connection from %s denied", raw.RemoteAddr())
		conn.Close()
		return
	}

	conn.AssignID(s.ids.Next())
	util.LogInfo("[%d] new connection from %s", conn.ID(), raw.RemoteAddr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.open(ctx, conn)
	}()
}

func (s *Server) open(ctx context.Context, conn *transport.Connection) {
	if s.opts.handshake {
		if err := conn.ValidateClient(ctx); err != nil {
			util.LogWarning("[%d] client validation failed: %v", conn.ID(), err)
			return
		}
		util.Logf("[%d] client validated", conn.ID())
	}
	if ctx.Err() != nil {
		conn.Close()
		return
	}

	s.registry.Add(conn)
	if hook := s.opts.hooks.OnClientValidated; hook != nil {
		hook(conn)
	}

	conn.Start()
	if !conn.IsOpen() {
		s.prune(conn.ID())
	}
}

// Stop closes every listener and connection and waits for their goroutines.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		for _, ln := range s.listeners {
			ln.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()

		conns := s.registry.Snapshot()
		for _, c := range conns {
			c.Close()
		}
		for _, c := range conns {
			<-c.Done()
		}
		util.LogInfo("server stopped")
	})
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

// prune removes id from the registry. OnClientDisconnect fires only for the
// call that actually removed it.
func (s *Server) prune(id uint32) {
	conn, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	conn.Close()
	util.LogInfo("[%d] client disconnected", id)
	if hook := s.opts.hooks.OnClientDisconnect; hook != nil {
		hook(conn)
	}
}

// deliver queues pkt on conn if it is open. dead is set only for a
// connection that is closing or closed; one still being opened is skipped.
func deliver(conn *transport.Connection, pkt *protocol.Packet) (sent, dead bool) {
	switch conn.State() {
	case transport.StateOpen:
		if conn.Send(pkt) {
			return true, false
		}
		return false, true
	case transport.StateClosing, transport.StateClosed:
		return false, true
	default:
		return false, false
	}
}

// MessageOne sends pkt to the connection with the given id. A connection
// found dead is pruned and false is returned.
func (s *Server) MessageOne(id uint32, pkt *protocol.Packet) bool {
	conn, ok := s.registry.Get(id)
	if !ok {
		return false
	}
	sent, dead := deliver(conn, pkt)
	if dead {
		s.prune(id)
	}
	return sent
}

// MessageAll sends pkt to every open connection except the one with id
// except (zero excludes none) and returns how many accepted it. Dead
// connections met on the way are pruned after the sweep; ones that are not
// open yet are skipped. pkt is shared between the writers and must not be
// modified afterwards.
func (s *Server) MessageAll(pkt *protocol.Packet, except uint32) int {
	var (
		sent int
		dead []uint32
	)
	for _, conn := range s.registry.Snapshot() {
		if conn.ID() == except {
			continue
		}
		ok, gone := deliver(conn, pkt)
		if ok {
			sent++
		}
		if gone {
			dead = append(dead, conn.ID())
		}
	}

	for _, id := range dead {
		s.prune(id)
	}
	return sent
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// Update dispatches up to maxMessages queued packets (Unbounded for all of
// them) on the calling goroutine. With wait set it blocks until at least one
// packet is queued or ctx is done. It returns how many packets it popped.
func (s *Server) Update(ctx context.Context, maxMessages int, wait bool) (int, error) {
	return drain(ctx, s.inbound, maxMessages, wait, s.dispatch)
}

func (s *Server) dispatch(op transport.OwnedPacket) {
	conn, ok := s.registry.Get(op.Remote)
	if !ok {
		util.Logf("[%d] dropped %s from pruned connection", op.Remote, op.Packet.Type())
		return
	}

	t := op.Packet.Type()
	if s.opts.gate != nil && !conn.Authenticated() && !s.opts.gate[t] {
		s.report(conn, op.Packet, fmt.Errorf("%w: %s dropped", ErrUnauthenticated, t))
		return
	}

	if err := s.handlers.call(conn, op.Packet); err != nil {
		s.report(conn, op.Packet, err)
		if errors.Is(err, protocol.ErrBodyUnderflow) {
			util.LogWarning("[%d] closing connection after malformed %s", conn.ID(), t)
			conn.Close()
		}
	}
}

func (s *Server) report(conn *transport.Connection, pkt *protocol.Packet, err error) {
	util.LogWarning("[%d] %v", conn.ID(), err)
	if hook := s.opts.hooks.OnDispatchError; hook != nil {
		hook(conn, pkt, err)
	}
}
