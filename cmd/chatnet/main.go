// Chatnet CLI entry point.
//
// Runs either the chat server or a terminal chat client speaking the framed
// TCP protocol (optionally tunnelled through WebSocket).
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -host, -port, -listen, -wsListen, -wsUrl, ...).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/chatnet/internal/app"
	"github.com/1ureka/chatnet/internal/config"
	"github.com/1ureka/chatnet/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()

	// CLI flags.
	role := flag.String("role", "", "Role: server or client")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Server host to connect to (client only)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Listen port (server) or server port (client), 1~65535")
	flag.StringVar(&cfg.Listen, "listen", "", "TCP listen address, overrides -port (server only)")
	flag.StringVar(&cfg.WSListen, "wsListen", "", "Also accept clients over WebSocket on this address (server only)")
	wsURLFlag := flag.String("wsUrl", "", "Connect over WebSocket instead of TCP (client only)")
	flag.BoolVar(&cfg.Handshake, "handshake", cfg.Handshake, "Require the connection handshake")
	flag.BoolVar(&cfg.AuthGate, "authGate", cfg.AuthGate, "Drop requests from connections that have not logged in (server only)")
	flag.Uint64Var(&cfg.MaxBodySize, "maxBody", cfg.MaxBodySize, "Largest accepted packet body in bytes, 0 for no limit")
	flag.IntVar(&cfg.MaxConnections, "maxConns", 0, "Maximum concurrent clients, 0 for no limit (server only)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Chatnet — v%s", version))
	pterm.Println()

	if *wsURLFlag != "" {
		wsURL, err := normalizeWSURL(*wsURLFlag)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.WSURL = wsURL
	}

	switch *role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(&cfg)
	case "server":
		cfg.Role = config.RoleServer
	case "client":
		cfg.Role = config.RoleClient
	default:
		util.LogError("invalid -role: must be 'server' or 'client'")
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	var err error
	if cfg.Role == config.RoleServer {
		err = app.RunServer(ctx, cfg)
	} else {
		err = app.RunClient(ctx, cfg, os.Stdin)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("bye")
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive fills cfg from prompts when no -role flag is provided.
func runInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Host the chat", "Client — Join a chat server"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
		cfg.Port = askPort("Port to listen on (1 ~ 65535)", cfg.Port)
		return
	}

	cfg.Role = config.RoleClient
	host, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Server host").
		WithDefaultValue(cfg.Host).
		Show()
	pterm.Println()
	cfg.Host = strings.TrimSpace(host)
	cfg.Port = askPort("Server port (1 ~ 65535)", cfg.Port)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, app.WSPath), nil
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string, def int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			WithDefaultValue(strconv.Itoa(def)).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}
