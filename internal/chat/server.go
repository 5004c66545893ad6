package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/chatnet/internal/host"
	"github.com/1ureka/chatnet/internal/protocol"
	"github.com/1ureka/chatnet/internal/transport"
	"github.com/1ureka/chatnet/internal/util"
)

const storeTimeout = 5 * time.Second

// PublicTypes are the request types a connection may send before it logs
// in. Pass them to host.WithAuthGate.
var PublicTypes = []protocol.MessageType{
	protocol.ServerGetPing,
	protocol.ServerRegister,
	protocol.ServerLogin,
}

type session struct {
	username string
	channel  string // channel currently joined, if any
}

// ServerApp holds the chat handlers of a host.Server and the per-connection
// sessions.
type ServerApp struct {
	store  Store
	server *host.Server

	mu       sync.Mutex
	sessions map[uint32]*session
}

func NewServerApp(store Store) *ServerApp {
	return &ServerApp{
		store:    store,
		sessions: make(map[uint32]*session),
	}
}

// Hooks returns the connection hooks to pass to host.NewServer.
func (a *ServerApp) Hooks() host.Hooks {
	return host.Hooks{
		OnClientConnect: func(conn *transport.Connection) bool {
			conn.Send(protocol.NewPacket(protocol.ClientClientConnected))
			return true
		},
		OnClientValidated: func(conn *transport.Connection) {
			conn.Send(protocol.NewPacket(protocol.ClientClientAccepted))
		},
		OnClientDisconnect: a.endSession,
	}
}

// Register installs every request handler on s.
func (a *ServerApp) Register(s *host.Server) {
	a.server = s

	s.Handle(protocol.ServerGetPing, a.handlePing)
	s.Handle(protocol.ServerRegister, a.handleRegister)
	s.Handle(protocol.ServerLogin, a.handleLogin)
	s.Handle(protocol.ServerLogout, a.handleLogout)
	s.Handle(protocol.ServerChangeDisplayName, a.handleChangeDisplayName)

	s.Handle(protocol.ServerCreateServer, a.handleCreateServer)
	s.Handle(protocol.ServerDeleteServer, a.handleDeleteServer)
	s.Handle(protocol.ServerJoinServer, a.handleJoinServer)
	s.Handle(protocol.ServerLeaveServer, a.handleLeaveServer)

	s.Handle(protocol.ServerAddChannelToServer, a.handleAddChannel)
	s.Handle(protocol.ServerRemoveChannelFromServer, a.handleRemoveChannel)
	s.Handle(protocol.ServerJoinChannel, a.handleJoinChannel)
	s.Handle(protocol.ServerLeaveChannel, a.handleLeaveChannel)

	s.Handle(protocol.ServerSendMessage, a.handleSendMessage)
	s.Handle(protocol.ServerEditMessage, a.handleEditMessage)
	s.Handle(protocol.ServerDeleteMessage, a.handleDeleteMessage)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// update applies fn to the session of id, creating it when needed.
func (a *ServerApp) update(id uint32, fn func(s *session)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		s = &session{}
		a.sessions[id] = s
	}
	fn(s)
}

// user returns the logged-in username of conn.
func (a *ServerApp) user(conn *transport.Connection) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[conn.ID()]; ok && s.username != "" {
		return s.username, nil
	}
	return "", ErrNotLoggedIn
}

func (a *ServerApp) loggedIn(username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sessions {
		if s.username == username {
			return true
		}
	}
	return false
}

// audience returns the connections whose session has channelID joined,
// leaving out except.
func (a *ServerApp) audience(channelID string, except uint32) []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []uint32
	for id, s := range a.sessions {
		if id != except && s.username != "" && s.channel == channelID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *ServerApp) endSession(conn *transport.Connection) {
	a.mu.Lock()
	s, ok := a.sessions[conn.ID()]
	delete(a.sessions, conn.ID())
	a.mu.Unlock()

	if ok && s.username != "" {
		ctx, cancel := storeCtx()
		defer cancel()
		if err := a.store.Logout(ctx, s.username); err != nil {
			util.LogWarning("[%d] logout of %s failed: %v", conn.ID(), s.username, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Replies
// ---------------------------------------------------------------------------

// fail answers with a failure reply. Decoding errors are returned so the
// host reports them (and closes the link on a malformed body); store errors
// are answered only.
func (a *ServerApp) fail(conn *transport.Connection, t protocol.MessageType, err error) error {
	util.Logf("[%d] %s: %v", conn.ID(), t, err)
	conn.Send(Encode(t, &Failure{Reason: err.Error()}))
	if errors.Is(err, protocol.ErrBodyUnderflow) || errors.Is(err, ErrInvalidRequest) {
		return err
	}
	return nil
}

func (a *ServerApp) ok(conn *transport.Connection, t protocol.MessageType, body payload) error {
	conn.Send(Encode(t, body))
	return nil
}

func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// ---------------------------------------------------------------------------
// Account handlers
// ---------------------------------------------------------------------------

func (a *ServerApp) handlePing(conn *transport.Connection, pkt *protocol.Packet) error {
	ping, err := Decode[Ping](pkt)
	if err != nil {
		return err
	}
	util.Logf("[%d] ping", conn.ID())
	return a.ok(conn, protocol.ClientPong, &ping)
}

func (a *ServerApp) handleRegister(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[Credentials](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientRegisterFail, err)
	}
	util.LogInfo("[%d] register %s", conn.ID(), req.Username)

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.CreateUser(ctx, req.Username, req.Password); err != nil {
		return a.fail(conn, protocol.ClientRegisterFail, err)
	}
	return a.ok(conn, protocol.ClientRegisterSuccess, &Empty{})
}

func (a *ServerApp) handleLogin(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[Credentials](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientLoginFail, err)
	}
	util.LogInfo("[%d] login %s", conn.ID(), req.Username)

	if _, err := a.user(conn); err == nil || a.loggedIn(req.Username) {
		return a.fail(conn, protocol.ClientLoginFail, ErrAlreadyLoggedIn)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.Login(ctx, req.Username, req.Password); err != nil {
		return a.fail(conn, protocol.ClientLoginFail, err)
	}
	u, err := a.store.User(ctx, req.Username)
	if err != nil {
		return a.fail(conn, protocol.ClientLoginFail, err)
	}

	a.update(conn.ID(), func(s *session) { s.username = u.Username })
	conn.SetAuthenticated(true)
	return a.ok(conn, protocol.ClientLoginSuccess, &Profile{Username: u.Username, DisplayName: u.DisplayName})
}

func (a *ServerApp) handleLogout(conn *transport.Connection, pkt *protocol.Packet) error {
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientLogoutFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.Logout(ctx, username); err != nil {
		return a.fail(conn, protocol.ClientLogoutFail, err)
	}

	a.mu.Lock()
	delete(a.sessions, conn.ID())
	a.mu.Unlock()
	conn.SetAuthenticated(false)
	util.LogInfo("[%d] logout %s", conn.ID(), username)
	return a.ok(conn, protocol.ClientLogoutSuccess, &Empty{})
}

func (a *ServerApp) handleChangeDisplayName(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[DisplayName](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientChangeDisplayNameFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientChangeDisplayNameFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.ChangeDisplayName(ctx, username, req.Name); err != nil {
		return a.fail(conn, protocol.ClientChangeDisplayNameFail, err)
	}
	return a.ok(conn, protocol.ClientChangeDisplayNameSuccess, &Profile{Username: username, DisplayName: req.Name})
}

// ---------------------------------------------------------------------------
// Server handlers
// ---------------------------------------------------------------------------

func (a *ServerApp) handleCreateServer(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ServerName](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientCreateServerFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientCreateServerFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	srv, err := a.store.CreateServer(ctx, username, req.Name)
	if err != nil {
		return a.fail(conn, protocol.ClientCreateServerFail, err)
	}
	util.LogInfo("[%d] %s created server %s (%s)", conn.ID(), username, srv.Name, srv.ID)
	return a.ok(conn, protocol.ClientCreateServerSuccess, &ServerInfo{ServerID: srv.ID, Name: srv.Name})
}

func (a *ServerApp) handleDeleteServer(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ServerRef](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientDeleteServerFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientDeleteServerFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.DeleteServer(ctx, username, req.ServerID); err != nil {
		return a.fail(conn, protocol.ClientDeleteServerFail, err)
	}
	return a.ok(conn, protocol.ClientDeleteServerSuccess, &req)
}

func (a *ServerApp) handleJoinServer(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ServerRef](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientJoinServerFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientJoinServerFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.JoinServer(ctx, req.ServerID, username); err != nil {
		return a.fail(conn, protocol.ClientJoinServerFail, err)
	}
	return a.ok(conn, protocol.ClientJoinServerSuccess, &req)
}

func (a *ServerApp) handleLeaveServer(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ServerRef](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientLeaveServerFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientLeaveServerFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.LeaveServer(ctx, req.ServerID, username); err != nil {
		return a.fail(conn, protocol.ClientLeaveServerFail, err)
	}
	return a.ok(conn, protocol.ClientLeaveServerSuccess, &req)
}

// ---------------------------------------------------------------------------
// Channel handlers
// ---------------------------------------------------------------------------

func (a *ServerApp) handleAddChannel(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ChannelSpec](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientAddChannelToServerFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientAddChannelToServerFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	ch, err := a.store.CreateChannel(ctx, username, req.ServerID, req.Name)
	if err != nil {
		return a.fail(conn, protocol.ClientAddChannelToServerFail, err)
	}
	return a.ok(conn, protocol.ClientAddChannelToServerSuccess,
		&ChannelInfo{ServerID: ch.ServerID, ChannelID: ch.ID, Name: ch.Name})
}

func (a *ServerApp) handleRemoveChannel(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ChannelRef](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientRemoveChannelFromServerFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientRemoveChannelFromServerFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.DeleteChannel(ctx, username, req.ServerID, req.ChannelID); err != nil {
		return a.fail(conn, protocol.ClientRemoveChannelFromServerFail, err)
	}
	return a.ok(conn, protocol.ClientRemoveChannelFromServerSuccess, &req)
}

// handleJoinChannel makes the channel the connection's current one. The
// user must be a member of the channel's server.
func (a *ServerApp) handleJoinChannel(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ChannelSelect](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientJoinChannelFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientJoinChannelFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	ch, err := a.store.Channel(ctx, req.ChannelID)
	if err != nil {
		return a.fail(conn, protocol.ClientJoinChannelFail, err)
	}
	u, err := a.store.User(ctx, username)
	if err != nil {
		return a.fail(conn, protocol.ClientJoinChannelFail, err)
	}
	member := false
	for _, id := range u.Servers {
		if id == ch.ServerID {
			member = true
			break
		}
	}
	if !member {
		return a.fail(conn, protocol.ClientJoinChannelFail, ErrNotMember)
	}

	a.update(conn.ID(), func(s *session) { s.channel = ch.ID })
	return a.ok(conn, protocol.ClientJoinChannelSuccess,
		&ChannelInfo{ServerID: ch.ServerID, ChannelID: ch.ID, Name: ch.Name})
}

func (a *ServerApp) handleLeaveChannel(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[ChannelSelect](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientLeaveChannelFail, err)
	}
	if _, err := a.user(conn); err != nil {
		return a.fail(conn, protocol.ClientLeaveChannelFail, err)
	}

	joined := false
	a.update(conn.ID(), func(s *session) {
		if s.channel == req.ChannelID {
			s.channel = ""
			joined = true
		}
	})

	if !joined {
		return a.fail(conn, protocol.ClientLeaveChannelFail, ErrUnknownChannel)
	}
	return a.ok(conn, protocol.ClientLeaveChannelSuccess, &req)
}

// ---------------------------------------------------------------------------
// Message handlers
// ---------------------------------------------------------------------------

// handleSendMessage stores the message, confirms it to the author and fans
// it out as MessagePosted to the other logged-in connections that joined
// the channel.
func (a *ServerApp) handleSendMessage(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[NewMessage](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientSendMessageFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientSendMessageFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	msg, err := a.store.SendMessage(ctx, username, req.ChannelID, req.Content)
	if err != nil {
		return a.fail(conn, protocol.ClientSendMessageFail, err)
	}

	info := messageInfo(msg)
	a.ok(conn, protocol.ClientSendMessageSuccess, info)
	if a.server != nil {
		posted := Encode(protocol.ClientMessagePosted, info)
		n := 0
		for _, id := range a.audience(req.ChannelID, conn.ID()) {
			if peer, ok := a.server.Connection(id); !ok || !peer.Authenticated() {
				continue
			}
			if a.server.MessageOne(id, posted) {
				n++
			}
		}
		util.Logf("[%d] message %s fanned out to %d connections", conn.ID(), msg.ID, n)
	}
	return nil
}

func (a *ServerApp) handleEditMessage(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[MessageEdit](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientEditMessageFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientEditMessageFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	msg, err := a.store.EditMessage(ctx, username, req.MessageID, req.Content)
	if err != nil {
		return a.fail(conn, protocol.ClientEditMessageFail, err)
	}
	return a.ok(conn, protocol.ClientEditMessageSuccess, messageInfo(msg))
}

func (a *ServerApp) handleDeleteMessage(conn *transport.Connection, pkt *protocol.Packet) error {
	req, err := Decode[MessageRef](pkt)
	if err != nil {
		return a.fail(conn, protocol.ClientDeleteMessageFail, err)
	}
	username, err := a.user(conn)
	if err != nil {
		return a.fail(conn, protocol.ClientDeleteMessageFail, err)
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := a.store.DeleteMessage(ctx, username, req.ChannelID, req.MessageID); err != nil {
		return a.fail(conn, protocol.ClientDeleteMessageFail, err)
	}
	return a.ok(conn, protocol.ClientDeleteMessageSuccess, &req)
}
