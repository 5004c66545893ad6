package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/chatnet/internal/host"
	"github.com/1ureka/chatnet/internal/protocol"
	"github.com/1ureka/chatnet/internal/transport"
	"github.com/1ureka/chatnet/internal/util"
)

// ErrNotConnected is returned by ClientApp requests while the link is down.
var ErrNotConnected = errors.New("not connected")

// Event is one decoded server reply.
type Event struct {
	Type    protocol.MessageType
	Payload any
}

func (e Event) String() string {
	switch p := e.Payload.(type) {
	case Failure:
		return fmt.Sprintf("%s: %s", e.Type, p.Reason)
	case Empty:
		return e.Type.String()
	}
	return fmt.Sprintf("%s %+v", e.Type, e.Payload)
}

// ClientApp wraps a host.Client with typed chat requests and keeps the
// state the server reported back.
type ClientApp struct {
	client *host.Client
	events chan Event

	mu      sync.Mutex
	profile Profile
	online  bool
	channel string
	rtt     time.Duration
}

// NewClientApp installs the reply handlers on c. Decoded replies are also
// delivered on Events; when nobody reads them the oldest are dropped.
func NewClientApp(c *host.Client) *ClientApp {
	a := &ClientApp{
		client: c,
		events: make(chan Event, 64),
	}
	a.register()
	return a
}

// Events returns the stream of decoded replies.
func (a *ClientApp) Events() <-chan Event { return a.events }

func (a *ClientApp) Profile() (Profile, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile, a.online
}

// Channel returns the channel joined last, if any.
func (a *ClientApp) Channel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel
}

// RTT returns the round trip measured by the last Ping.
func (a *ClientApp) RTT() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rtt
}

func (a *ClientApp) emit(e Event) {
	for {
		select {
		case a.events <- e:
			return
		default:
		}
		select {
		case <-a.events:
		default:
		}
	}
}

// ---------------------------------------------------------------------------
// Reply handlers
// ---------------------------------------------------------------------------

// on decodes replies of type t as T, runs apply and emits the event.
func on[T any, P interface {
	*T
	payload
}](a *ClientApp, t protocol.MessageType, apply func(v *T)) {
	a.client.Handle(t, func(conn *transport.Connection, pkt *protocol.Packet) error {
		v, err := Decode[T, P](pkt)
		if err != nil {
			return err
		}
		if apply != nil {
			apply(&v)
		}
		a.emit(Event{Type: t, Payload: v})
		return nil
	})
}

func (a *ClientApp) register() {
	on[Empty](a, protocol.ClientClientConnected, func(*Empty) { util.Logf("server acknowledged connection") })
	on[Empty](a, protocol.ClientClientAccepted, func(*Empty) { util.LogSuccess("server accepted connection") })

	on[Ping](a, protocol.ClientPong, func(p *Ping) {
		rtt := time.Since(p.Sent)
		a.mu.Lock()
		a.rtt = rtt
		a.mu.Unlock()
		util.LogInfo("ping %s", rtt)
	})

	on[Empty](a, protocol.ClientRegisterSuccess, func(*Empty) { util.LogSuccess("registered") })
	on[Profile](a, protocol.ClientLoginSuccess, func(p *Profile) {
		a.mu.Lock()
		a.profile, a.online = *p, true
		a.mu.Unlock()
		util.LogSuccess("logged in as %s (%s)", p.Username, p.DisplayName)
	})
	on[Empty](a, protocol.ClientLogoutSuccess, func(*Empty) {
		a.mu.Lock()
		a.profile, a.online, a.channel = Profile{}, false, ""
		a.mu.Unlock()
		util.LogInfo("logged out")
	})
	on[Profile](a, protocol.ClientChangeDisplayNameSuccess, func(p *Profile) {
		a.mu.Lock()
		a.profile = *p
		a.mu.Unlock()
	})

	on[ServerInfo](a, protocol.ClientCreateServerSuccess, func(s *ServerInfo) {
		util.LogSuccess("created server %s (%s)", s.Name, s.ServerID)
	})
	on[ServerRef](a, protocol.ClientDeleteServerSuccess, nil)
	on[ServerRef](a, protocol.ClientJoinServerSuccess, nil)
	on[ServerRef](a, protocol.ClientLeaveServerSuccess, nil)

	on[ChannelInfo](a, protocol.ClientAddChannelToServerSuccess, func(c *ChannelInfo) {
		util.LogSuccess("created channel #%s (%s)", c.Name, c.ChannelID)
	})
	on[ChannelRef](a, protocol.ClientRemoveChannelFromServerSuccess, nil)
	on[ChannelInfo](a, protocol.ClientJoinChannelSuccess, func(c *ChannelInfo) {
		a.mu.Lock()
		a.channel = c.ChannelID
		a.mu.Unlock()
		util.LogInfo("joined #%s", c.Name)
	})
	on[ChannelSelect](a, protocol.ClientLeaveChannelSuccess, func(c *ChannelSelect) {
		a.mu.Lock()
		if a.channel == c.ChannelID {
			a.channel = ""
		}
		a.mu.Unlock()
	})

	on[MessageInfo](a, protocol.ClientSendMessageSuccess, nil)
	on[MessageInfo](a, protocol.ClientEditMessageSuccess, nil)
	on[MessageRef](a, protocol.ClientDeleteMessageSuccess, nil)
	on[MessageInfo](a, protocol.ClientMessagePosted, func(m *MessageInfo) {
		if m.ChannelID == a.Channel() {
			util.LogInfo("<%s> %s", m.Author, m.Content)
		}
	})

	for _, t := range []protocol.MessageType{
		protocol.ClientRegisterFail,
		protocol.ClientLoginFail,
		protocol.ClientLogoutFail,
		protocol.ClientChangeDisplayNameFail,
		protocol.ClientCreateServerFail,
		protocol.ClientDeleteServerFail,
		protocol.ClientAddChannelToServerFail,
		protocol.ClientRemoveChannelFromServerFail,
		protocol.ClientJoinServerFail,
		protocol.ClientLeaveServerFail,
		protocol.ClientJoinChannelFail,
		protocol.ClientLeaveChannelFail,
		protocol.ClientSendMessageFail,
		protocol.ClientEditMessageFail,
		protocol.ClientDeleteMessageFail,
	} {
		t := t // per-iteration copy (pre-Go 1.22 loop semantics)
		on[Failure](a, t, func(f *Failure) { util.LogWarning("%s: %s", t, f.Reason) })
	}
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// send validates body and queues it. Replies arrive through the handlers.
func (a *ClientApp) send(t protocol.MessageType, body payload) error {
	if err := validate.Struct(body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !a.client.Send(Encode(t, body)) {
		return ErrNotConnected
	}
	return nil
}

func (a *ClientApp) Ping() error {
	return a.send(protocol.ServerGetPing, &Ping{Sent: time.Now()})
}

func (a *ClientApp) TryRegister(username, password string) error {
	return a.send(protocol.ServerRegister, &Credentials{Username: username, Password: password})
}

func (a *ClientApp) TryLogin(username, password string) error {
	return a.send(protocol.ServerLogin, &Credentials{Username: username, Password: password})
}

func (a *ClientApp) Logout() error {
	return a.send(protocol.ServerLogout, &Empty{})
}

func (a *ClientApp) ChangeDisplayName(name string) error {
	return a.send(protocol.ServerChangeDisplayName, &DisplayName{Name: name})
}

func (a *ClientApp) CreateServer(name string) error {
	return a.send(protocol.ServerCreateServer, &ServerName{Name: name})
}

func (a *ClientApp) DeleteServer(serverID string) error {
	return a.send(protocol.ServerDeleteServer, &ServerRef{ServerID: serverID})
}

func (a *ClientApp) JoinServer(serverID string) error {
	return a.send(protocol.ServerJoinServer, &ServerRef{ServerID: serverID})
}

func (a *ClientApp) LeaveServer(serverID string) error {
	return a.send(protocol.ServerLeaveServer, &ServerRef{ServerID: serverID})
}

func (a *ClientApp) CreateChannel(serverID, name string) error {
	return a.send(protocol.ServerAddChannelToServer, &ChannelSpec{ServerID: serverID, Name: name})
}

func (a *ClientApp) RemoveChannel(serverID, channelID string) error {
	return a.send(protocol.ServerRemoveChannelFromServer, &ChannelRef{ServerID: serverID, ChannelID: channelID})
}

func (a *ClientApp) JoinChannel(channelID string) error {
	return a.send(protocol.ServerJoinChannel, &ChannelSelect{ChannelID: channelID})
}

func (a *ClientApp) LeaveChannel(channelID string) error {
	return a.send(protocol.ServerLeaveChannel, &ChannelSelect{ChannelID: channelID})
}

// SendMessage posts content to the joined channel.
func (a *ClientApp) SendMessage(content string) error {
	ch := a.Channel()
	if ch == "" {
		return fmt.Errorf("%w: join a channel first", ErrInvalidRequest)
	}
	return a.SendMessageTo(ch, content)
}

func (a *ClientApp) SendMessageTo(channelID, content string) error {
	return a.send(protocol.ServerSendMessage, &NewMessage{ChannelID: channelID, Content: content})
}

func (a *ClientApp) EditMessage(messageID, content string) error {
	return a.send(protocol.ServerEditMessage, &MessageEdit{MessageID: messageID, Content: content})
}

func (a *ClientApp) DeleteMessage(channelID, messageID string) error {
	return a.send(protocol.ServerDeleteMessage, &MessageRef{ChannelID: channelID, MessageID: messageID})
}
