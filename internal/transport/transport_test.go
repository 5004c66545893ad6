package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/chatnet/internal/protocol"
	"github.com/1ureka/chatnet/internal/queue"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// loopbackPair returns both ends of a real TCP connection on 127.0.0.1.
func loopbackPair(t *testing.T) (server, client net.Conn) {
	t.Helper()

	ln, err := Listen(context.Background(), "127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	client, err = Dial(context.Background(), "127.0.0.1", uint16(port))
	require.NoError(t, err)

	server, ok := <-accepted
	require.True(t, ok, "accept failed")
	return server, client
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("connection %d did not close", c.ID())
	}
}

func popN(t *testing.T, q *queue.Queue[OwnedPacket], n int) []OwnedPacket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make([]OwnedPacket, 0, n)
	for len(out) < n {
		require.NoError(t, q.Wait(ctx), "received %d of %d packets", len(out), n)
		for {
			op, ok := q.PopFront()
			if !ok {
				break
			}
			out = append(out, op)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Scramble
// ---------------------------------------------------------------------------

func TestScramble(t *testing.T) {
	assert.Equal(t, uint64(0x3C2622744BBF8D1F), Scramble(0x1122334455667788))

	// Distinct inputs stay distinct.
	assert.NotEqual(t, Scramble(0), Scramble(1))
}

// ---------------------------------------------------------------------------
// Ordered delivery
// ---------------------------------------------------------------------------

func TestOrderedDelivery(t *testing.T) {
	sconn, cconn := loopbackPair(t)

	serverIn := queue.New[OwnedPacket]()
	clientIn := queue.New[OwnedPacket]()

	server, err := NewConnection(OwnerServer, sconn, serverIn)
	require.NoError(t, err)
	server.AssignID(10000)
	client, err := NewConnection(OwnerClient, cconn, clientIn)
	require.NoError(t, err)

	server.Start()
	client.Start()
	defer server.Close()
	defer client.Close()

	const n = 1000
	for i := 0; i < n; i++ {
		body := bytes.Repeat([]byte{byte(i)}, (i*131)%(64*1024))
		pkt := protocol.NewPacket(protocol.ServerSendMessage).
			WriteUint32(uint32(i)).
			WriteBytes(body)
		require.True(t, client.Send(pkt))
	}

	got := popN(t, serverIn, n)
	require.Len(t, got, n)
	for i, op := range got {
		assert.Equal(t, uint32(10000), op.Remote)
		assert.Equal(t, protocol.ServerSendMessage, op.Packet.Type())

		seq, err := op.Packet.ReadUint32()
		require.NoError(t, err)
		require.Equal(t, uint32(i), seq, "packet out of order")
		assert.Equal(t, (i*131)%(64*1024), op.Packet.Len())
	}

	// Replies come back tagged with the zero remote id.
	require.True(t, server.Send(protocol.NewPacket(protocol.ClientPong)))
	back := popN(t, clientIn, 1)
	assert.Zero(t, back[0].Remote)
	assert.Equal(t, protocol.ClientPong, back[0].Packet.Type())
}

func TestSendAfterCloseFails(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	closed := make(chan *Connection, 1)
	c, err := NewConnection(OwnerClient, a, queue.New[OwnedPacket](),
		WithOnClose(func(c *Connection) { closed <- c }))
	require.NoError(t, err)
	c.Start()
	assert.True(t, c.IsOpen())

	c.Close()
	waitDone(t, c)

	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), ErrClosed)
	assert.False(t, c.Send(protocol.NewPacket(protocol.ServerGetPing)))
	assert.Same(t, c, <-closed)

	// Closing twice is harmless.
	c.Close()
}

// TestSendNeverBlocksOnStalledPeer queues far more packets than the socket
// can absorb while the peer reads nothing. Send must keep returning at once.
func TestSendNeverBlocksOnStalledPeer(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	c, err := NewConnection(OwnerServer, a, queue.New[OwnedPacket]())
	require.NoError(t, err)
	c.Start()
	defer c.Close()

	const total = 1000
	done := make(chan int, 1)
	go func() {
		sent := 0
		for i := 0; i < total; i++ {
			if c.Send(protocol.NewPacket(protocol.ClientMessagePosted).WriteUint32(uint32(i))) {
				sent++
			}
		}
		done <- sent
	}()

	select {
	case sent := <-done:
		assert.Equal(t, total, sent)
	case <-time.After(time.Second):
		t.Fatal("Send blocked behind a peer that does not read")
	}
	assert.True(t, c.IsOpen())
	assert.GreaterOrEqual(t, c.Pending(), total-1)

	// Once the peer reads, the backlog drains in order.
	for i := 0; i < total; i++ {
		pkt, err := protocol.ReadPacket(b, 0)
		require.NoError(t, err)
		v, err := pkt.ReadUint32()
		require.NoError(t, err)
		require.Equal(t, uint32(i), v)
	}
}

func TestConnectionString(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	cc, err := NewConnection(OwnerClient, a, queue.New[OwnedPacket]())
	require.NoError(t, err)
	assert.NotContains(t, cc.String(), "[0]")
	assert.Contains(t, cc.String(), "[client]")

	sc, err := NewConnection(OwnerServer, b, queue.New[OwnedPacket]())
	require.NoError(t, err)
	sc.AssignID(10001)
	assert.Contains(t, sc.String(), "[10001]")
}

// ---------------------------------------------------------------------------
// Framing errors
// ---------------------------------------------------------------------------

func TestTruncatedBodyClosesConnection(t *testing.T) {
	sconn, cconn := loopbackPair(t)
	inbound := queue.New[OwnedPacket]()

	c, err := NewConnection(OwnerServer, sconn, inbound)
	require.NoError(t, err)
	c.Start()

	hdr, _ := protocol.Header{Type: protocol.ServerLogin, Size: 100}.MarshalBinary()
	_, err = cconn.Write(hdr)
	require.NoError(t, err)
	_, err = cconn.Write(make([]byte, 40))
	require.NoError(t, err)
	require.NoError(t, cconn.Close())

	waitDone(t, c)
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), protocol.ErrTruncatedBody)
	assert.True(t, inbound.Empty(), "partial packet must never be delivered")
}

func TestOversizedBodyClosesConnection(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	inbound := queue.New[OwnedPacket]()

	c, err := NewConnection(OwnerServer, a, inbound, WithMaxBodySize(16))
	require.NoError(t, err)
	c.Start()

	hdr, _ := protocol.Header{Type: protocol.ServerLogin, Size: 17}.MarshalBinary()
	go b.Write(hdr)

	waitDone(t, c)
	assert.ErrorIs(t, c.Err(), protocol.ErrBodyTooLarge)
	assert.True(t, inbound.Empty())
}

// ---------------------------------------------------------------------------
// Handshake
// ---------------------------------------------------------------------------

func TestHandshakeAccepted(t *testing.T) {
	sconn, cconn := loopbackPair(t)

	server, err := NewConnection(OwnerServer, sconn, queue.New[OwnedPacket]())
	require.NoError(t, err)
	client, err := NewConnection(OwnerClient, cconn, queue.New[OwnedPacket]())
	require.NoError(t, err)
	defer server.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	answered := make(chan error, 1)
	go func() { answered <- client.AnswerValidation(ctx) }()

	require.NoError(t, server.ValidateClient(ctx))
	require.NoError(t, <-answered)

	server.Start()
	client.Start()
	assert.True(t, server.IsOpen())
	assert.True(t, client.IsOpen())
}

func TestHandshakeRejected(t *testing.T) {
	sconn, cconn := loopbackPair(t)
	defer cconn.Close()

	server, err := NewConnection(OwnerServer, sconn, queue.New[OwnedPacket]())
	require.NoError(t, err)

	go func() {
		var nonce [8]byte
		if _, err := cconn.Read(nonce[:]); err != nil {
			return
		}
		cconn.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = server.ValidateClient(ctx)
	assert.ErrorIs(t, err, ErrHandshakeRejected)
	waitDone(t, server)
	assert.Equal(t, StateClosed, server.State())

	server.Start()
	assert.False(t, server.IsOpen(), "rejected connection must not open")
}

func TestHandshakeWrongOwner(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	c, err := NewConnection(OwnerClient, a, queue.New[OwnedPacket]())
	require.NoError(t, err)
	assert.Error(t, c.ValidateClient(context.Background()))
}

func TestHandshakeTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	c, err := NewConnection(OwnerClient, a, queue.New[OwnedPacket]())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = c.AnswerValidation(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	waitDone(t, c)
}

// ---------------------------------------------------------------------------
// WebSocket stream
// ---------------------------------------------------------------------------

func TestWebSocketRoundTrip(t *testing.T) {
	ln, err := ListenWebSocket("127.0.0.1:0", "/ws")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	url := fmt.Sprintf("ws://%s/ws", ln.Addr())
	cconn, err := DialURL(context.Background(), url)
	require.NoError(t, err)

	var sconn net.Conn
	select {
	case sconn = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no websocket accepted")
	}

	serverIn := queue.New[OwnedPacket]()
	server, err := NewConnection(OwnerServer, sconn, serverIn)
	require.NoError(t, err)
	client, err := NewConnection(OwnerClient, cconn, queue.New[OwnedPacket]())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	answered := make(chan error, 1)
	go func() { answered <- client.AnswerValidation(ctx) }()
	require.NoError(t, server.ValidateClient(ctx))
	require.NoError(t, <-answered)

	server.AssignID(10001)
	server.Start()
	client.Start()
	defer server.Close()
	defer client.Close()

	for i := 0; i < 50; i++ {
		require.True(t, client.Send(protocol.NewPacket(protocol.ServerLogin).
			WriteString(fmt.Sprintf("user-%d", i)).
			WriteString("secret")))
	}

	got := popN(t, serverIn, 50)
	for i, op := range got {
		assert.Equal(t, uint32(10001), op.Remote)
		name, err := op.Packet.ReadString()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("user-%d", i), name)
	}
}

func TestWebSocketListenerClose(t *testing.T) {
	ln, err := ListenWebSocket("127.0.0.1:0", "/ws")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = ln.Accept()
	assert.True(t, errors.Is(err, net.ErrClosed))
}
