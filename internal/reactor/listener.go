package reactor

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listen creates a non-blocking listening socket bound to addr ("host:port",
// host may be empty for all interfaces) and registers it with the reactor.
// The caller must set the returned Stream's OnAcceptable before traffic
// arrives; Accept is the only safe way to drain a pending connection from
// inside that callback, the gateway-server analogue of Connector.Dial on the
// client side.
func (r *Reactor) Listen(addr string) (*Stream, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("reactor: invalid listen address %q: %w", addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	var sa unix.SockaddrInet4
	if host != "" {
		ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip4", host)
		if err != nil || len(ips) == 0 {
			unix.Close(fd)
			return nil, fmt.Errorf("reactor: resolve %q: %w", host, err)
		}
		copy(sa.Addr[:], ips[0].To4())
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: invalid port %q: %w", port, err)
	}
	sa.Port = p

	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: bind %q: %w", addr, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: listen %q: %w", addr, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: set nonblock: %w", err)
	}

	s := NewStream(fd)
	r.AddStream(s)
	r.StartRead(s)
	return s, nil
}

// Accept drains one pending connection off a listening Stream. Only safe to
// call from within that Stream's OnAcceptable callback (the reactor
// goroutine). Returns (-1, nil) if nothing was pending (EAGAIN).
func Accept(s *Stream) (int, error) {
	fd, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, nil
		}
		return -1, err
	}
	return fd, nil
}
