// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/1ureka/chatnet/internal/protocol"
)

// Role represents the user's chosen role (server or client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// DefaultPort is the port the chat server listens on unless told otherwise.
const DefaultPort = 60000

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config stores all parameters gathered from CLI flags or interactive prompts.
type Config struct {
	Role Role `validate:"oneof=server client"`

	Host string `validate:"omitempty,hostname_rfc1123|ip"` // Client: server to dial
	Port int    `validate:"min=1,max=65535"`               // Server: listen port, Client: server port

	Listen   string `validate:"omitempty,hostname_port"` // Server: TCP listen address, overrides Port
	WSListen string `validate:"omitempty,hostname_port"` // Server: extra WebSocket listener
	WSURL    string `validate:"omitempty,url"`           // Client: connect over WebSocket instead of TCP

	Handshake      bool
	AuthGate       bool
	MaxBodySize    uint64 `validate:"max=1073741824"`
	MaxConnections int    `validate:"min=0"`

	Debug bool
}

// Default returns a configuration with the chat defaults filled in.
func Default() Config {
	return Config{
		Role:        RoleServer,
		Host:        "127.0.0.1",
		Port:        DefaultPort,
		Handshake:   true,
		AuthGate:    true,
		MaxBodySize: protocol.DefaultMaxBodySize,
	}
}

// ListenAddr returns the TCP address a server binds.
func (c Config) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks every field and joins the failures into one error.
func (c Config) Validate() error {
	if c.Role == RoleClient && c.Host == "" && c.WSURL == "" {
		return errors.New("invalid configuration: Host: a client needs a server host or a WebSocket URL")
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
