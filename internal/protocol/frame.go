package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/valyala/bytebufferpool"
)

var (
	// ErrTruncatedBody means the stream ended before the declared body size
	// was satisfied. The stream can no longer be trusted.
	ErrTruncatedBody = errors.New("stream ended inside packet body")

	// ErrBodyTooLarge means the declared body size exceeds the reader's limit.
	ErrBodyTooLarge = errors.New("declared body size too large")
)

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	var h Header
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return h, err
	}
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return h, err
	}
	return h, nil
}

// Bodies up to this size are allocated up front. Larger ones, only possible
// with the limit disabled, grow as bytes actually arrive.
const preallocLimit = 1 << 20

// ReadPacket reads a header and then exactly Header.Size body bytes.
// maxBody == 0 disables the size limit.
func ReadPacket(r io.Reader, maxBody uint64) (*Packet, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if (maxBody > 0 && h.Size > maxBody) || h.Size > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %s declares %d bytes (limit %d)", ErrBodyTooLarge, h.Type, h.Size, maxBody)
	}

	pkt := &Packet{Header: h}
	if h.Size == 0 {
		return pkt, nil
	}

	if h.Size <= preallocLimit {
		pkt.Body = make([]byte, h.Size)
		_, err = io.ReadFull(r, pkt.Body)
	} else {
		var buf bytebufferpool.ByteBuffer
		var n int64
		n, err = io.CopyN(&buf, r, int64(h.Size))
		if err == nil && uint64(n) != h.Size {
			err = io.ErrUnexpectedEOF
		}
		pkt.Body = buf.B
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s declares %d bytes: %v", ErrTruncatedBody, h.Type, h.Size, err)
		}
		return nil, err
	}
	return pkt, nil
}

// WritePacket writes header and body as a single frame so two packets can
// never interleave on w. It returns the number of bytes written.
func WritePacket(w io.Writer, pkt *Packet) (int, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var hdr [HeaderSize]byte
	Header{Type: pkt.Header.Type, Size: uint64(len(pkt.Body))}.put(hdr[:])
	buf.B = append(buf.B[:0], hdr[:]...)
	buf.B = append(buf.B, pkt.Body...)

	return w.Write(buf.B)
}
