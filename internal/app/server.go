// Package app wires the chat application to the hosts for the two CLI
// roles.
package app

import (
	"context"
	"fmt"

	"github.com/1ureka/chatnet/internal/chat"
	"github.com/1ureka/chatnet/internal/config"
	"github.com/1ureka/chatnet/internal/host"
	"github.com/1ureka/chatnet/internal/transport"
	"github.com/1ureka/chatnet/internal/util"
)

// WSPath is the HTTP path the WebSocket listener upgrades.
const WSPath = "/ws"

// NewServer builds a chat server from cfg without starting it.
func NewServer(cfg config.Config, store chat.Store) *host.Server {
	app := chat.NewServerApp(store)

	opts := []host.Option{
		host.WithHandshake(cfg.Handshake),
		host.WithMaxBodySize(cfg.MaxBodySize),
		host.WithMaxConnections(cfg.MaxConnections),
		host.WithHooks(app.Hooks()),
	}
	if cfg.AuthGate {
		opts = append(opts, host.WithAuthGate(chat.PublicTypes...))
	}

	s := host.NewServer(opts...)
	app.Register(s)
	return s
}

// RunServer orchestrates the server lifecycle:
//  1. Start the TCP listener (and the WebSocket one if configured)
//  2. Dispatch inbound packets on this goroutine until ctx is cancelled
//  3. Stop every listener and connection
func RunServer(ctx context.Context, cfg config.Config) error {
	s := NewServer(cfg, chat.NewMemoryStore())
	defer s.Stop()

	// ── 1. Listeners ───────────────────────────────────────────────────
	if err := s.Start(ctx, cfg.ListenAddr()); err != nil {
		return err
	}

	if cfg.WSListen != "" {
		ln, err := transport.ListenWebSocket(cfg.WSListen, WSPath)
		if err != nil {
			return err
		}
		util.LogInfo("WebSocket listener on ws://%s%s", ln.Addr(), WSPath)
		go func() {
			if err := s.Serve(ctx, ln); err != nil {
				util.LogError("WebSocket accept loop stopped: %v", err)
			}
		}()
	}

	util.StartStatsReporter(ctx)
	util.LogSuccess("chat server ready")

	// ── 2. Dispatch ────────────────────────────────────────────────────
	for {
		if _, err := s.Update(ctx, host.Unbounded, true); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("update: %w", err)
		}
	}
}
