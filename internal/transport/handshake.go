package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	scrambleIn  uint64 = 0xDEADBEEFC0DECAFE
	scrambleOut uint64 = 0xC0DEFACE12345678
)

// Scramble is the handshake transform both peers apply to the challenge:
// XOR with a constant, swap the two nibbles of every byte, XOR again.
func Scramble(x uint64) uint64 {
	x ^= scrambleIn
	x = (x&0xF0F0F0F0F0F0F0F0)>>4 | (x&0x0F0F0F0F0F0F0F0F)<<4
	return x ^ scrambleOut
}

func newNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ValidateClient runs the server side of the handshake: send the nonce, read
// the client's 8-byte answer and compare it with Scramble(nonce). A wrong
// answer or any I/O error closes the connection. It must be called before
// Start.
func (c *Connection) ValidateClient(ctx context.Context) error {
	if c.owner != OwnerServer {
		return fmt.Errorf("validate client: connection is %s-owned", c.owner)
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateAwaitingValidation)) {
		return fmt.Errorf("validate client: connection is %s", c.State())
	}

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], c.nonce)
	if _, err := c.conn.Write(buf[:]); err != nil {
		err = fmt.Errorf("send handshake nonce: %w", err)
		c.shutdown(err)
		return err
	}

	if _, err := io.ReadFull(c.conn, buf[:]); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = fmt.Errorf("read handshake answer: %w", err)
		c.shutdown(err)
		return err
	}

	if binary.LittleEndian.Uint64(buf[:]) != c.expected {
		c.shutdown(ErrHandshakeRejected)
		return ErrHandshakeRejected
	}
	return nil
}

// AnswerValidation runs the client side of the handshake: read the server's
// nonce and reply with Scramble(nonce). It must be called before Start.
func (c *Connection) AnswerValidation(ctx context.Context) error {
	if c.owner != OwnerClient {
		return fmt.Errorf("answer validation: connection is %s-owned", c.owner)
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateAwaitingValidation)) {
		return fmt.Errorf("answer validation: connection is %s", c.State())
	}

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	var buf [8]byte
	if _, err := io.ReadFull(c.conn, buf[:]); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = fmt.Errorf("read handshake nonce: %w", err)
		c.shutdown(err)
		return err
	}

	binary.LittleEndian.PutUint64(buf[:], Scramble(binary.LittleEndian.Uint64(buf[:])))
	if _, err := c.conn.Write(buf[:]); err != nil {
		err = fmt.Errorf("send handshake answer: %w", err)
		c.shutdown(err)
		return err
	}
	return nil
}
