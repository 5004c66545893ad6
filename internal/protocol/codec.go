package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Writers: append little-endian values to the tail of the body.
// ---------------------------------------------------------------------------

func (p *Packet) grow(n int) []byte {
	start := len(p.Body)
	p.Body = append(p.Body, make([]byte, n)...)
	p.Header.Size += uint64(n)
	return p.Body[start:]
}

func (p *Packet) WriteUint8(v uint8) *Packet {
	p.grow(1)[0] = v
	return p
}

func (p *Packet) WriteInt8(v int8) *Packet {
	return p.WriteUint8(uint8(v))
}

func (p *Packet) WriteBool(v bool) *Packet {
	if v {
		return p.WriteUint8(1)
	}
	return p.WriteUint8(0)
}

func (p *Packet) WriteUint16(v uint16) *Packet {
	binary.LittleEndian.PutUint16(p.grow(2), v)
	return p
}

func (p *Packet) WriteInt16(v int16) *Packet {
	return p.WriteUint16(uint16(v))
}

func (p *Packet) WriteUint32(v uint32) *Packet {
	binary.LittleEndian.PutUint32(p.grow(4), v)
	return p
}

func (p *Packet) WriteInt32(v int32) *Packet {
	return p.WriteUint32(uint32(v))
}

func (p *Packet) WriteUint64(v uint64) *Packet {
	binary.LittleEndian.PutUint64(p.grow(8), v)
	return p
}

func (p *Packet) WriteInt64(v int64) *Packet {
	return p.WriteUint64(uint64(v))
}

// WriteBytes appends raw bytes without a length prefix.
func (p *Packet) WriteBytes(b []byte) *Packet {
	copy(p.grow(len(b)), b)
	return p
}

// WriteString appends a uint32 length prefix followed by the UTF-8 bytes of s.
func (p *Packet) WriteString(s string) *Packet {
	p.WriteUint32(uint32(len(s)))
	copy(p.grow(len(s)), s)
	return p
}

// WriteTime appends t as int64 unix nanoseconds.
func (p *Packet) WriteTime(t time.Time) *Packet {
	return p.WriteInt64(t.UnixNano())
}

// ---------------------------------------------------------------------------
// Readers: consume from the head of the body in write order.
// ---------------------------------------------------------------------------

func (p *Packet) take(n int, what string) ([]byte, error) {
	if n < 0 || n > len(p.Body) {
		return nil, fmt.Errorf("%w: reading %s needs %d bytes, %d left", ErrBodyUnderflow, what, n, len(p.Body))
	}
	b := p.Body[:n]
	p.Body = p.Body[n:]
	p.Header.Size -= uint64(n)
	return b, nil
}

func (p *Packet) ReadUint8() (uint8, error) {
	b, err := p.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *Packet) ReadInt8() (int8, error) {
	v, err := p.ReadUint8()
	return int8(v), err
}

func (p *Packet) ReadBool() (bool, error) {
	v, err := p.ReadUint8()
	return v != 0, err
}

func (p *Packet) ReadUint16() (uint16, error) {
	b, err := p.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (p *Packet) ReadInt16() (int16, error) {
	v, err := p.ReadUint16()
	return int16(v), err
}

func (p *Packet) ReadUint32() (uint32, error) {
	b, err := p.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *Packet) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

func (p *Packet) ReadUint64() (uint64, error) {
	b, err := p.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (p *Packet) ReadInt64() (int64, error) {
	v, err := p.ReadUint64()
	return int64(v), err
}

// ReadBytes consumes exactly n raw bytes. The returned slice is a copy.
func (p *Packet) ReadBytes(n int) ([]byte, error) {
	b, err := p.take(n, "bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadString consumes a string written by WriteString.
func (p *Packet) ReadString() (string, error) {
	n, err := p.ReadUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(len(p.Body)) {
		return "", fmt.Errorf("%w: string of %d bytes, %d left", ErrBodyUnderflow, n, len(p.Body))
	}
	b, err := p.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadTime consumes a timestamp written by WriteTime.
func (p *Packet) ReadTime() (time.Time, error) {
	ns, err := p.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ns), nil
}
