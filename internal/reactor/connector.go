package reactor

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Connector performs non-blocking TCP connects and hands the resulting fd
// to a Reactor, the Go analogue of the original's IoLoop connect path
// (IoLoop.cpp's uv_tcp_connect callback) adapted to poll(2) instead of
// libuv: a connect() is issued non-blocking, the fd is registered for
// POLLOUT, and completion is detected via SO_ERROR once the reactor
// reports writability.
type Connector struct {
	reactor *Reactor
}

// NewConnector binds a Connector to reactor.
func NewConnector(reactor *Reactor) *Connector {
	return &Connector{reactor: reactor}
}

// ConnectResult is delivered to the caller's OnConnect once a Dial either
// completes or fails.
type ConnectResult struct {
	Stream *Stream
	Err    error
}

// Dial resolves addr, issues a non-blocking connect, and reports the
// outcome on result once the reactor observes the socket become writable
// or times out. addr must be "host:port".
func (c *Connector) Dial(ctx context.Context, addr string, timeout time.Duration, result chan<- ConnectResult) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		result <- ConnectResult{Err: fmt.Errorf("reactor: invalid address %q: %w", addr, err)}
		return
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		result <- ConnectResult{Err: fmt.Errorf("reactor: resolve %q: %w", host, err)}
		return
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		result <- ConnectResult{Err: fmt.Errorf("reactor: invalid port %q: %w", port, err)}
		return
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		result <- ConnectResult{Err: fmt.Errorf("reactor: socket: %w", err)}
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		result <- ConnectResult{Err: fmt.Errorf("reactor: set nonblock: %w", err)}
		return
	}

	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ips[0].To4())
	sa.Port = p

	err = unix.Connect(fd, &sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		result <- ConnectResult{Err: fmt.Errorf("reactor: connect: %w", err)}
		return
	}

	s := NewStream(fd)
	s.OnWrite = func() (int, error) {
		errno, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			result <- ConnectResult{Err: gerr}
			return 0, gerr
		}
		if errno != 0 {
			cerr := unix.Errno(errno)
			result <- ConnectResult{Err: fmt.Errorf("reactor: connect failed: %w", cerr)}
			return 0, cerr
		}
		result <- ConnectResult{Stream: s}
		return 0, nil
	}
	c.reactor.AddStream(s)
	c.reactor.StartWrite(s)

	if timeout > 0 {
		go func() {
			t := time.NewTimer(timeout)
			defer t.Stop()
			select {
			case <-t.C:
				c.reactor.DisposeStream(s)
			case <-ctx.Done():
			}
		}()
	}
}
