package chat

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/1ureka/chatnet/internal/host"
	"github.com/1ureka/chatnet/internal/protocol"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	s.cost = bcrypt.MinCost
	return s
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

func TestDecodeCredentials(t *testing.T) {
	pkt := Encode(protocol.ServerLogin, &Credentials{Username: "alice", Password: "hunter22"})
	got, err := Decode[Credentials](pkt)
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "alice", Password: "hunter22"}, got)
	assert.Zero(t, pkt.Len())
}

func TestDecodeErrors(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *protocol.Packet
		want error
	}{
		{
			name: "empty body",
			pkt:  protocol.NewPacket(protocol.ServerLogin),
			want: protocol.ErrBodyUnderflow,
		},
		{
			name: "missing password",
			pkt:  protocol.NewPacket(protocol.ServerLogin).WriteString("alice"),
			want: protocol.ErrBodyUnderflow,
		},
		{
			name: "short username",
			pkt:  Encode(protocol.ServerLogin, &Credentials{Username: "al", Password: "hunter22"}),
			want: ErrInvalidRequest,
		},
		{
			name: "username with spaces",
			pkt:  Encode(protocol.ServerLogin, &Credentials{Username: "al ice", Password: "hunter22"}),
			want: ErrInvalidRequest,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode[Credentials](tc.pkt)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMessageInfoLayout(t *testing.T) {
	sent := time.Unix(1700000000, 42)
	pkt := Encode(protocol.ClientMessagePosted, &MessageInfo{
		MessageID: "msg-3", ChannelID: "ch-2", Author: "bob", Content: "hi", Sent: sent,
	})

	// Strings first, in declaration order, then the timestamp.
	id, err := pkt.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "msg-3", id)

	got, err := Decode[MessageInfo](protocol.NewPacket(protocol.ClientMessagePosted).
		WriteString("m").WriteString("c").WriteString("a").WriteString("x").WriteTime(sent))
	require.NoError(t, err)
	assert.True(t, got.Sent.Equal(sent))
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStoreAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.CreateUser(ctx, "alice", "hunter22"))
	assert.ErrorIs(t, s.CreateUser(ctx, "alice", "other123"), ErrUserExists)

	assert.ErrorIs(t, s.Login(ctx, "alice", "wrong-pw"), ErrBadCredentials)
	assert.ErrorIs(t, s.Login(ctx, "nobody", "hunter22"), ErrBadCredentials)
	require.NoError(t, s.Login(ctx, "alice", "hunter22"))

	u, err := s.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, u.Status)
	assert.Equal(t, "alice", u.DisplayName)
	assert.False(t, u.LastLogin.IsZero())

	require.NoError(t, s.ChangeDisplayName(ctx, "alice", "Alice A."))
	require.NoError(t, s.Logout(ctx, "alice"))
	u, err = s.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, u.Status)
	assert.Equal(t, "Alice A.", u.DisplayName)

	require.NoError(t, s.DeleteUser(ctx, "alice"))
	assert.ErrorIs(t, s.DeleteUser(ctx, "alice"), ErrUnknownUser)
}

func TestMemoryStoreServersAndMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.CreateUser(ctx, "alice", "hunter22"))
	require.NoError(t, s.CreateUser(ctx, "bob", "hunter22"))

	srv, err := s.CreateServer(ctx, "alice", "lounge")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, srv.Members)

	_, err = s.CreateChannel(ctx, "bob", srv.ID, "general")
	assert.ErrorIs(t, err, ErrPermission)
	ch, err := s.CreateChannel(ctx, "alice", srv.ID, "general")
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, "bob", ch.ID, "hi")
	assert.ErrorIs(t, err, ErrNotMember)

	require.NoError(t, s.JoinServer(ctx, srv.ID, "bob"))
	assert.ErrorIs(t, s.JoinServer(ctx, srv.ID, "bob"), ErrAlreadyMember)

	msg, err := s.SendMessage(ctx, "bob", ch.ID, "hi")
	require.NoError(t, err)

	_, err = s.EditMessage(ctx, "alice", msg.ID, "edited")
	assert.ErrorIs(t, err, ErrPermission)
	edited, err := s.EditMessage(ctx, "bob", msg.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Content)
	assert.False(t, edited.EditedAt.IsZero())

	msgs, err := s.ChannelMessages(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// The server owner may delete anyone's message.
	require.NoError(t, s.DeleteMessage(ctx, "alice", ch.ID, msg.ID))
	assert.ErrorIs(t, s.DeleteMessage(ctx, "alice", ch.ID, msg.ID), ErrUnknownMessage)

	assert.ErrorIs(t, s.LeaveServer(ctx, srv.ID, "alice"), ErrPermission)
	require.NoError(t, s.LeaveServer(ctx, srv.ID, "bob"))

	assert.ErrorIs(t, s.DeleteServer(ctx, "bob", srv.ID), ErrPermission)
	require.NoError(t, s.DeleteServer(ctx, "alice", srv.ID))
	_, err = s.Channel(ctx, ch.ID)
	assert.ErrorIs(t, err, ErrUnknownChannel)

	u, err := s.User(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, u.Servers)
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

type harness struct {
	t      *testing.T
	server *host.Server
	port   uint16
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app := NewServerApp(newTestStore())
	s := host.NewServer(
		host.WithHandshake(true),
		host.WithAuthGate(PublicTypes...),
		host.WithHooks(app.Hooks()),
	)
	app.Register(s)
	require.NoError(t, s.Start(ctx, "127.0.0.1:0"))
	t.Cleanup(s.Stop)

	go func() {
		for ctx.Err() == nil {
			s.Update(ctx, host.Unbounded, true)
		}
	}()

	return &harness{t: t, server: s, port: uint16(s.Addr().(*net.TCPAddr).Port), ctx: ctx}
}

func (h *harness) client() *ClientApp {
	c := host.NewClient(host.WithHandshake(true))
	app := NewClientApp(c)
	require.NoError(h.t, c.Connect(h.ctx, "127.0.0.1", h.port))
	h.t.Cleanup(c.Disconnect)

	go func() {
		for h.ctx.Err() == nil {
			c.Update(h.ctx, host.Unbounded, true)
		}
	}()
	return app
}

// expect waits for the next event of type t, skipping others.
func expect(t *testing.T, a *ClientApp, want protocol.MessageType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-a.Events():
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestChatSession(t *testing.T) {
	h := newHarness(t)
	alice := h.client()
	bob := h.client()

	expect(t, alice, protocol.ClientClientAccepted)
	expect(t, bob, protocol.ClientClientAccepted)

	// Requests beyond the public ones are gated before login: no reply.
	require.NoError(t, alice.CreateServer("too early"))
	require.NoError(t, alice.Ping())
	expect(t, alice, protocol.ClientPong)
	assert.Positive(t, alice.RTT())

	require.NoError(t, alice.TryRegister("alice", "hunter22"))
	expect(t, alice, protocol.ClientRegisterSuccess)
	require.NoError(t, bob.TryRegister("bob", "hunter22"))
	expect(t, bob, protocol.ClientRegisterSuccess)

	require.NoError(t, alice.TryLogin("alice", "wrongpass"))
	fail := expect(t, alice, protocol.ClientLoginFail)
	assert.Contains(t, fail.Payload.(Failure).Reason, "wrong username or password")

	require.NoError(t, alice.TryLogin("alice", "hunter22"))
	expect(t, alice, protocol.ClientLoginSuccess)
	require.NoError(t, bob.TryLogin("bob", "hunter22"))
	expect(t, bob, protocol.ClientLoginSuccess)
	p, online := alice.Profile()
	assert.True(t, online)
	assert.Equal(t, "alice", p.Username)

	require.NoError(t, alice.CreateServer("lounge"))
	srv := expect(t, alice, protocol.ClientCreateServerSuccess).Payload.(ServerInfo)
	assert.Equal(t, "lounge", srv.Name)

	require.NoError(t, alice.CreateChannel(srv.ServerID, "general"))
	ch := expect(t, alice, protocol.ClientAddChannelToServerSuccess).Payload.(ChannelInfo)

	require.NoError(t, bob.JoinChannel(ch.ChannelID))
	expect(t, bob, protocol.ClientJoinChannelFail)
	require.NoError(t, bob.JoinServer(srv.ServerID))
	expect(t, bob, protocol.ClientJoinServerSuccess)
	require.NoError(t, bob.JoinChannel(ch.ChannelID))
	expect(t, bob, protocol.ClientJoinChannelSuccess)
	require.NoError(t, alice.JoinChannel(ch.ChannelID))
	expect(t, alice, protocol.ClientJoinChannelSuccess)

	require.NoError(t, alice.SendMessage("hello bob"))
	mine := expect(t, alice, protocol.ClientSendMessageSuccess).Payload.(MessageInfo)
	posted := expect(t, bob, protocol.ClientMessagePosted).Payload.(MessageInfo)
	assert.Equal(t, mine.MessageID, posted.MessageID)
	assert.Equal(t, "alice", posted.Author)
	assert.Equal(t, "hello bob", posted.Content)

	require.NoError(t, bob.EditMessage(mine.MessageID, "hacked"))
	expect(t, bob, protocol.ClientEditMessageFail)
	require.NoError(t, alice.EditMessage(mine.MessageID, "hello again"))
	assert.Equal(t, "hello again", expect(t, alice, protocol.ClientEditMessageSuccess).Payload.(MessageInfo).Content)
	require.NoError(t, alice.DeleteMessage(ch.ChannelID, mine.MessageID))
	expect(t, alice, protocol.ClientDeleteMessageSuccess)

	require.NoError(t, alice.Logout())
	expect(t, alice, protocol.ClientLogoutSuccess)
	_, online = alice.Profile()
	assert.False(t, online)
}

// eventsUntil collects events up to and including the first of type want.
func eventsUntil(t *testing.T, a *ClientApp, want protocol.MessageType) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-a.Events():
			got = append(got, e)
			if e.Type == want {
				return got
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func login(t *testing.T, a *ClientApp, name string) {
	t.Helper()
	require.NoError(t, a.TryRegister(name, "hunter22"))
	expect(t, a, protocol.ClientRegisterSuccess)
	require.NoError(t, a.TryLogin(name, "hunter22"))
	expect(t, a, protocol.ClientLoginSuccess)
}

func TestMessagePostedReachesOnlyChannelMembers(t *testing.T) {
	h := newHarness(t)
	alice := h.client()
	bob := h.client()
	carol := h.client() // never logs in
	dave := h.client()  // logs in, stays out of the channel
	for _, c := range []*ClientApp{alice, bob, carol, dave} {
		expect(t, c, protocol.ClientClientAccepted)
	}

	login(t, alice, "alice")
	login(t, bob, "bob")
	login(t, dave, "dave")

	require.NoError(t, alice.CreateServer("lounge"))
	srv := expect(t, alice, protocol.ClientCreateServerSuccess).Payload.(ServerInfo)
	require.NoError(t, alice.CreateChannel(srv.ServerID, "general"))
	ch := expect(t, alice, protocol.ClientAddChannelToServerSuccess).Payload.(ChannelInfo)
	for _, c := range []*ClientApp{bob, dave} {
		require.NoError(t, c.JoinServer(srv.ServerID))
		expect(t, c, protocol.ClientJoinServerSuccess)
	}
	require.NoError(t, bob.JoinChannel(ch.ChannelID))
	expect(t, bob, protocol.ClientJoinChannelSuccess)
	require.NoError(t, alice.JoinChannel(ch.ChannelID))
	expect(t, alice, protocol.ClientJoinChannelSuccess)

	require.NoError(t, alice.SendMessage("members only"))
	expect(t, alice, protocol.ClientSendMessageSuccess)
	assert.Equal(t, "members only", expect(t, bob, protocol.ClientMessagePosted).Payload.(MessageInfo).Content)

	// The server handled the post before these pings, so anything it sent
	// carol or dave is already ahead of the pong.
	for _, c := range []*ClientApp{carol, dave} {
		require.NoError(t, c.Ping())
		for _, e := range eventsUntil(t, c, protocol.ClientPong) {
			assert.NotEqual(t, protocol.ClientMessagePosted, e.Type)
		}
	}
}

func TestClientRejectsInvalidRequests(t *testing.T) {
	a := NewClientApp(host.NewClient())
	assert.ErrorIs(t, a.TryLogin("x", "hunter22"), ErrInvalidRequest)
	assert.ErrorIs(t, a.SendMessage("no channel"), ErrInvalidRequest)
	assert.ErrorIs(t, a.TryLogin("alice", "hunter22"), ErrNotConnected)
}
