package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/1ureka/chatnet/internal/protocol"
)

// ErrInvalidRequest wraps validation failures of a decoded payload.
var ErrInvalidRequest = errors.New("invalid request")

var validate = validator.New(validator.WithRequiredStructEnabled())

// payload is a packet body layout. Fields are written and read in
// declaration order.
type payload interface {
	read(pkt *protocol.Packet) error
	write(pkt *protocol.Packet)
}

// Decode reads a T from pkt and validates it. A short body yields an error
// wrapping protocol.ErrBodyUnderflow, a bad value one wrapping
// ErrInvalidRequest.
func Decode[T any, P interface {
	*T
	payload
}](pkt *protocol.Packet) (T, error) {
	var v T
	if err := P(&v).read(pkt); err != nil {
		return v, err
	}
	if err := validate.Struct(&v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return v, err
		}
		return v, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return v, nil
}

// Encode builds a packet of type t carrying p.
func Encode(t protocol.MessageType, p payload) *protocol.Packet {
	pkt := protocol.NewPacket(t)
	p.write(pkt)
	return pkt
}

// readStrings fills dst in order.
func readStrings(pkt *protocol.Packet, dst ...*string) error {
	for _, d := range dst {
		s, err := pkt.ReadString()
		if err != nil {
			return err
		}
		*d = s
	}
	return nil
}

func writeStrings(pkt *protocol.Packet, src ...string) {
	for _, s := range src {
		pkt.WriteString(s)
	}
}

// ---------------------------------------------------------------------------
// Requests (client → server)
// ---------------------------------------------------------------------------

// Credentials is the body of Register and Login.
type Credentials struct {
	Username string `validate:"required,min=3,max=32,alphanum"`
	Password string `validate:"required,min=6,max=72"`
}

func (p *Credentials) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.Username, &p.Password)
}
func (p *Credentials) write(pkt *protocol.Packet) { writeStrings(pkt, p.Username, p.Password) }

type DisplayName struct {
	Name string `validate:"required,max=32"`
}

func (p *DisplayName) read(pkt *protocol.Packet) error { return readStrings(pkt, &p.Name) }
func (p *DisplayName) write(pkt *protocol.Packet)      { writeStrings(pkt, p.Name) }

// ServerName is the body of CreateServer.
type ServerName struct {
	Name string `validate:"required,max=64"`
}

func (p *ServerName) read(pkt *protocol.Packet) error { return readStrings(pkt, &p.Name) }
func (p *ServerName) write(pkt *protocol.Packet)      { writeStrings(pkt, p.Name) }

// ServerRef is the body of DeleteServer, JoinServer and LeaveServer.
type ServerRef struct {
	ServerID string `validate:"required"`
}

func (p *ServerRef) read(pkt *protocol.Packet) error { return readStrings(pkt, &p.ServerID) }
func (p *ServerRef) write(pkt *protocol.Packet)      { writeStrings(pkt, p.ServerID) }

// ChannelSpec is the body of AddChannelToServer.
type ChannelSpec struct {
	ServerID string `validate:"required"`
	Name     string `validate:"required,max=64"`
}

func (p *ChannelSpec) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.ServerID, &p.Name)
}
func (p *ChannelSpec) write(pkt *protocol.Packet) { writeStrings(pkt, p.ServerID, p.Name) }

// ChannelRef is the body of RemoveChannelFromServer.
type ChannelRef struct {
	ServerID  string `validate:"required"`
	ChannelID string `validate:"required"`
}

func (p *ChannelRef) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.ServerID, &p.ChannelID)
}
func (p *ChannelRef) write(pkt *protocol.Packet) { writeStrings(pkt, p.ServerID, p.ChannelID) }

// ChannelSelect is the body of JoinChannel and LeaveChannel.
type ChannelSelect struct {
	ChannelID string `validate:"required"`
}

func (p *ChannelSelect) read(pkt *protocol.Packet) error { return readStrings(pkt, &p.ChannelID) }
func (p *ChannelSelect) write(pkt *protocol.Packet)      { writeStrings(pkt, p.ChannelID) }

// NewMessage is the body of SendMessage.
type NewMessage struct {
	ChannelID string `validate:"required"`
	Content   string `validate:"required,max=2000"`
}

func (p *NewMessage) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.ChannelID, &p.Content)
}
func (p *NewMessage) write(pkt *protocol.Packet) { writeStrings(pkt, p.ChannelID, p.Content) }

// MessageEdit is the body of EditMessage.
type MessageEdit struct {
	MessageID string `validate:"required"`
	Content   string `validate:"required,max=2000"`
}

func (p *MessageEdit) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.MessageID, &p.Content)
}
func (p *MessageEdit) write(pkt *protocol.Packet) { writeStrings(pkt, p.MessageID, p.Content) }

// MessageRef is the body of DeleteMessage.
type MessageRef struct {
	ChannelID string `validate:"required"`
	MessageID string `validate:"required"`
}

func (p *MessageRef) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.ChannelID, &p.MessageID)
}
func (p *MessageRef) write(pkt *protocol.Packet) { writeStrings(pkt, p.ChannelID, p.MessageID) }

// Ping carries the client's send time; the server echoes it in a Pong.
type Ping struct {
	Sent time.Time
}

func (p *Ping) read(pkt *protocol.Packet) error {
	t, err := pkt.ReadTime()
	p.Sent = t
	return err
}
func (p *Ping) write(pkt *protocol.Packet) { pkt.WriteTime(p.Sent) }

// ---------------------------------------------------------------------------
// Replies (server → client)
// ---------------------------------------------------------------------------

// Failure is the body of every *Fail reply.
type Failure struct {
	Reason string
}

func (p *Failure) read(pkt *protocol.Packet) error { return readStrings(pkt, &p.Reason) }
func (p *Failure) write(pkt *protocol.Packet)      { writeStrings(pkt, p.Reason) }

// Profile is the body of LoginSuccess and ChangeDisplayNameSuccess.
type Profile struct {
	Username    string
	DisplayName string
}

func (p *Profile) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.Username, &p.DisplayName)
}
func (p *Profile) write(pkt *protocol.Packet) { writeStrings(pkt, p.Username, p.DisplayName) }

// ServerInfo is the body of CreateServerSuccess and JoinServerSuccess.
type ServerInfo struct {
	ServerID string
	Name     string
}

func (p *ServerInfo) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.ServerID, &p.Name)
}
func (p *ServerInfo) write(pkt *protocol.Packet) { writeStrings(pkt, p.ServerID, p.Name) }

// ChannelInfo is the body of AddChannelToServerSuccess and
// JoinChannelSuccess.
type ChannelInfo struct {
	ServerID  string
	ChannelID string
	Name      string
}

func (p *ChannelInfo) read(pkt *protocol.Packet) error {
	return readStrings(pkt, &p.ServerID, &p.ChannelID, &p.Name)
}
func (p *ChannelInfo) write(pkt *protocol.Packet) {
	writeStrings(pkt, p.ServerID, p.ChannelID, p.Name)
}

// MessageInfo is the body of SendMessageSuccess, EditMessageSuccess and
// MessagePosted.
type MessageInfo struct {
	MessageID string
	ChannelID string
	Author    string
	Content   string
	Sent      time.Time
}

func (p *MessageInfo) read(pkt *protocol.Packet) error {
	if err := readStrings(pkt, &p.MessageID, &p.ChannelID, &p.Author, &p.Content); err != nil {
		return err
	}
	t, err := pkt.ReadTime()
	p.Sent = t
	return err
}

func (p *MessageInfo) write(pkt *protocol.Packet) {
	writeStrings(pkt, p.MessageID, p.ChannelID, p.Author, p.Content)
	pkt.WriteTime(p.Sent)
}

func messageInfo(m Message) *MessageInfo {
	return &MessageInfo{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		Author:    m.Author,
		Content:   m.Content,
		Sent:      m.CreatedAt,
	}
}

// Empty is the body of replies that carry nothing.
type Empty struct{}

func (*Empty) read(*protocol.Packet) error { return nil }
func (*Empty) write(*protocol.Packet)      {}
