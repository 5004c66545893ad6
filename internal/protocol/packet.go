// Package protocol defines the packet format, the shared message type
// enumeration and the body codec used by both chat client and server.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed header size: Type(4) + Size(8).
const HeaderSize = 12

// DefaultMaxBodySize caps the declared body size accepted from a peer.
const DefaultMaxBodySize = 16 * 1024 * 1024

var (
	// ErrBodyUnderflow is returned by the Read* methods when the remaining
	// body is shorter than the value being read. The peer is out of sync
	// with the field order of this message type.
	ErrBodyUnderflow = errors.New("packet body underflow")

	// ErrShortHeader is returned when a header buffer is not HeaderSize bytes.
	ErrShortHeader = errors.New("packet header too short")
)

// Header is the fixed-layout prefix of every packet on the wire.
type Header struct {
	Type MessageType
	Size uint64 // always len(Packet.Body)
}

// MarshalBinary encodes the header as little-endian Type then Size.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf, nil
}

// UnmarshalBinary decodes a header produced by MarshalBinary.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes (need %d)", ErrShortHeader, len(data), HeaderSize)
	}
	h.Type = MessageType(binary.LittleEndian.Uint32(data[0:4]))
	h.Size = binary.LittleEndian.Uint64(data[4:12])
	return nil
}

func (h Header) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint64(buf[4:12], h.Size)
}

// Packet is one application-level message: a header and its body.
//
// Writes append to the tail of Body, reads consume from its head, and both
// keep Header.Size equal to len(Body). There is no per-field tag: sender and
// receiver must agree on the field order of each message type.
type Packet struct {
	Header Header
	Body   []byte
}

// NewPacket returns an empty packet of the given type.
func NewPacket(t MessageType) *Packet {
	return &Packet{Header: Header{Type: t}}
}

// Type returns the message type from the header.
func (p *Packet) Type() MessageType {
	return p.Header.Type
}

// Len returns the number of unread body bytes.
func (p *Packet) Len() int {
	return len(p.Body)
}

// Clone returns a deep copy, so one packet can be queued on several
// connections and still be read independently by each.
func (p *Packet) Clone() *Packet {
	c := &Packet{Header: p.Header}
	if len(p.Body) > 0 {
		c.Body = make([]byte, len(p.Body))
		copy(c.Body, p.Body)
	}
	return c
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s (%d bytes)", p.Header.Type, p.Header.Size)
}
