package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/netutil"
)

const dialTimeout = 10 * time.Second

// Dial opens a TCP stream to host:port. host may be a name or an address
// literal; every resolved address is tried in order until one connects.
func Dial(ctx context.Context, host string, port uint16) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// Listen binds a TCP listener on addr with SO_REUSEADDR set. When maxConns
// is positive, at most that many accepted sockets are alive at once and
// further clients wait in the kernel backlog.
func Listen(ctx context.Context, addr string, maxConns int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}
