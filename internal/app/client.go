package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/chatnet/internal/chat"
	"github.com/1ureka/chatnet/internal/config"
	"github.com/1ureka/chatnet/internal/host"
	"github.com/1ureka/chatnet/internal/util"
)

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// RunClient orchestrates the client lifecycle:
//  1. Connect over TCP, or over WebSocket when a URL is configured
//  2. Dispatch replies on a background goroutine
//  3. Read commands from in until EOF, /quit or ctx cancellation
func RunClient(ctx context.Context, cfg config.Config, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := host.NewClient(
		host.WithHandshake(cfg.Handshake),
		host.WithMaxBodySize(cfg.MaxBodySize),
	)
	app := chat.NewClientApp(c)

	// ── 1. Connect ─────────────────────────────────────────────────────
	var err error
	if cfg.WSURL != "" {
		err = c.ConnectURL(ctx, cfg.WSURL)
	} else {
		err = c.Connect(ctx, cfg.Host, uint16(cfg.Port))
	}
	if err != nil {
		return err
	}
	defer c.Disconnect()

	util.StartStatsReporter(ctx)

	// ── 2. Dispatch ────────────────────────────────────────────────────
	go func() {
		for ctx.Err() == nil {
			if _, err := c.Update(ctx, host.Unbounded, true); err != nil {
				return
			}
		}
	}()

	// ── 3. REPL ────────────────────────────────────────────────────────
	pterm.Info.Println("type /help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !c.IsConnected() {
				return errors.New("connection to server lost")
			}
			if err := Execute(app, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				util.LogWarning("%v", err)
			}
		}
	}
}

type command struct {
	args  string // usage
	help  string
	nargs int
	rest  bool // the last argument takes the rest of the line
	run   func(a *chat.ClientApp, args []string) error
}

var commands = map[string]command{
	"register": {args: "<user> <password>", nargs: 2, help: "create an account",
		run: func(a *chat.ClientApp, v []string) error { return a.TryRegister(v[0], v[1]) }},
	"login": {args: "<user> <password>", nargs: 2, help: "log in",
		run: func(a *chat.ClientApp, v []string) error { return a.TryLogin(v[0], v[1]) }},
	"logout": {help: "log out",
		run: func(a *chat.ClientApp, v []string) error { return a.Logout() }},
	"nick": {args: "<display name>", nargs: 1, rest: true, help: "change display name",
		run: func(a *chat.ClientApp, v []string) error { return a.ChangeDisplayName(v[0]) }},
	"ping": {help: "measure round trip",
		run: func(a *chat.ClientApp, v []string) error { return a.Ping() }},
	"create": {args: "<name>", nargs: 1, rest: true, help: "create a server",
		run: func(a *chat.ClientApp, v []string) error { return a.CreateServer(v[0]) }},
	"delete": {args: "<server>", nargs: 1, help: "delete a server you own",
		run: func(a *chat.ClientApp, v []string) error { return a.DeleteServer(v[0]) }},
	"join": {args: "<server>", nargs: 1, help: "join a server",
		run: func(a *chat.ClientApp, v []string) error { return a.JoinServer(v[0]) }},
	"leave": {args: "<server>", nargs: 1, help: "leave a server",
		run: func(a *chat.ClientApp, v []string) error { return a.LeaveServer(v[0]) }},
	"channel": {args: "<server> <name>", nargs: 2, rest: true, help: "add a channel to a server",
		run: func(a *chat.ClientApp, v []string) error { return a.CreateChannel(v[0], v[1]) }},
	"rmchannel": {args: "<server> <channel>", nargs: 2, help: "remove a channel",
		run: func(a *chat.ClientApp, v []string) error { return a.RemoveChannel(v[0], v[1]) }},
	"enter": {args: "<channel>", nargs: 1, help: "switch to a channel",
		run: func(a *chat.ClientApp, v []string) error { return a.JoinChannel(v[0]) }},
	"exit": {args: "<channel>", nargs: 1, help: "leave a channel",
		run: func(a *chat.ClientApp, v []string) error { return a.LeaveChannel(v[0]) }},
	"edit": {args: "<message> <text>", nargs: 2, rest: true, help: "edit your message",
		run: func(a *chat.ClientApp, v []string) error { return a.EditMessage(v[0], v[1]) }},
	"del": {args: "<channel> <message>", nargs: 2, help: "delete a message",
		run: func(a *chat.ClientApp, v []string) error { return a.DeleteMessage(v[0], v[1]) }},
	"quit": {help: "disconnect and exit",
		run: func(a *chat.ClientApp, v []string) error { return errQuit }},
}

// Execute runs one REPL line. Lines starting with '/' are commands, anything
// else is posted to the current channel.
func Execute(a *chat.ClientApp, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return a.SendMessage(line)
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	if name == "help" {
		printHelp()
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command /%s", name)
	}

	args, err := splitArgs(rest, cmd.nargs, cmd.rest)
	if err != nil {
		return fmt.Errorf("usage: /%s %s", name, cmd.args)
	}
	return cmd.run(a, args)
}

func splitArgs(s string, n int, rest bool) ([]string, error) {
	s = strings.TrimSpace(s)
	if n == 0 {
		if s != "" {
			return nil, errors.New("unexpected arguments")
		}
		return nil, nil
	}

	var args []string
	if rest {
		args = strings.SplitN(s, " ", n)
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	} else {
		args = strings.Fields(s)
	}
	if len(args) != n || args[n-1] == "" {
		return nil, errors.New("wrong argument count")
	}
	return args, nil
}

func printHelp() {
	data := pterm.TableData{{"Command", "Arguments", "Description"}}
	for _, name := range []string{
		"register", "login", "logout", "nick", "ping",
		"create", "delete", "join", "leave",
		"channel", "rmchannel", "enter", "exit",
		"edit", "del", "quit",
	} {
		cmd := commands[name]
		data = append(data, []string{"/" + name, cmd.args, cmd.help})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Println("Any other line is sent to the current channel.")
}
