// Package reactor implements a single-goroutine poll(2)-based I/O
// multiplexer, ported from
// original_source/src/apex/infra/Reactor.{hpp,cpp} and IoLoop.{hpp,cpp}.
// Exactly one goroutine ever touches stream state or invokes stream
// callbacks; every other goroutine communicates with it by pushing a
// Command across a self-pipe, the same design the original uses to keep a
// blocking poll() call interruptible from any thread.
package reactor

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// OnReadFunc receives bytes read from the stream, or a non-nil err and nil
// data on read failure (including EOF, reported as io.EOF-equivalent via
// err). OnWriteFunc is called when the fd is writable and should attempt a
// single non-blocking write, returning bytes written.
type (
	OnReadFunc  func(data []byte, err error)
	OnWriteFunc func() (n int, err error)
)

// Stream is one registered file descriptor and its callbacks, the Go
// analogue of the original's Stream struct. A Stream is owned by exactly
// one Reactor for its lifetime; Dispose is the only safe way to unregister
// it from outside the reactor goroutine.
type Stream struct {
	fd        int
	wantRead  bool
	wantWrite bool
	hangup    bool
	closed    bool
	disposing bool

	OnRead       OnReadFunc
	OnWrite      OnWriteFunc
	OnDispose    func()
	OnAcceptable func() // set instead of OnRead for a listening socket
	UserData     any
}

// NewStream wraps fd for registration with a Reactor.
func NewStream(fd int) *Stream {
	return &Stream{fd: fd}
}

// Fd returns the underlying file descriptor.
func (s *Stream) Fd() int { return s.fd }

type commandType int

const (
	cmdAdd commandType = iota
	cmdStartRead
	cmdStartWrite
	cmdStopWrite
	cmdClose
	cmdDispose
	cmdExit
)

type command struct {
	typ    commandType
	stream *Stream
}

// Reactor runs the poll loop on its own goroutine, matching the original's
// dedicated reactor thread.
type Reactor struct {
	logger *slog.Logger

	pipeR, pipeW int

	mu       sync.Mutex
	commands []command

	streams []*Stream

	stopped chan struct{}
}

// New creates and starts a Reactor. The poll loop runs until Stop is
// called.
func New(logger *slog.Logger) (*Reactor, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("reactor: create wakeup pipe: %w", err)
	}
	r := &Reactor{
		logger:  logger.With("component", "reactor"),
		pipeR:   fds[0],
		pipeW:   fds[1],
		stopped: make(chan struct{}),
	}
	go r.mainLoop()
	return r, nil
}

func (r *Reactor) pushCommand(c command) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
	var b [1]byte
	b[0] = 'x'
	for {
		_, err := unix.Write(r.pipeW, b[:])
		if err == unix.EINTR {
			continue
		}
		break
	}
}

// AddStream registers a new stream with the reactor. Neither read nor
// write polling starts until StartRead/StartWrite is called.
func (r *Reactor) AddStream(s *Stream) { r.pushCommand(command{typ: cmdAdd, stream: s}) }

// StartRead enables POLLIN interest on s.
func (r *Reactor) StartRead(s *Stream) { r.pushCommand(command{typ: cmdStartRead, stream: s}) }

// StartWrite enables POLLOUT interest on s; OnWrite must be set.
func (r *Reactor) StartWrite(s *Stream) { r.pushCommand(command{typ: cmdStartWrite, stream: s}) }

// CloseStream requests the fd be closed on the reactor goroutine.
func (r *Reactor) CloseStream(s *Stream) { r.pushCommand(command{typ: cmdClose, stream: s}) }

// DisposeStream marks s so no further user callbacks fire, then schedules
// its removal; OnDispose (if set) is invoked once removal completes, the
// same "disposing" discipline the original uses to let an owner safely
// detach a stream whose callbacks might otherwise race its teardown.
func (r *Reactor) DisposeStream(s *Stream) { r.pushCommand(command{typ: cmdDispose, stream: s}) }

// Stop signals the reactor goroutine to exit and waits for it.
func (r *Reactor) Stop() {
	r.pushCommand(command{typ: cmdExit})
	<-r.stopped
}

func (r *Reactor) mainLoop() {
	defer close(r.stopped)
	buf := make([]byte, 10240)
	running := true

	for running {
		pfds := make([]unix.PollFd, 0, len(r.streams)+1)
		pfds = append(pfds, unix.PollFd{Fd: int32(r.pipeR), Events: unix.POLLIN})
		active := make([]*Stream, 0, len(r.streams))
		active = append(active, nil)

		for _, s := range r.streams {
			if s == nil || s.closed {
				continue
			}
			var events int16
			if s.wantRead {
				events |= unix.POLLIN
			}
			if s.wantWrite && !s.hangup {
				events |= unix.POLLOUT
			}
			pfds = append(pfds, unix.PollFd{Fd: int32(s.fd), Events: events})
			active = append(active, s)
		}

		n, err := unix.Poll(pfds, -1)
		if err != nil && err != unix.EINTR {
			r.logger.Error("poll failed", "error", err)
			return
		}
		if n <= 0 {
			continue
		}

		for i := 1; i < len(pfds); i++ {
			revents := pfds[i].Revents
			if revents == 0 {
				continue
			}
			s := active[i]
			r.handleStreamEvents(s, revents, buf)
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			r.drainWakeup(buf)
			running = r.processCommands()
		}

		r.reapClosed()
	}

	for _, s := range r.streams {
		if s != nil && !s.closed {
			unix.Close(s.fd)
		}
	}
	unix.Close(r.pipeR)
	unix.Close(r.pipeW)
}

func (r *Reactor) handleStreamEvents(s *Stream, revents int16, buf []byte) {
	if revents&unix.POLLOUT != 0 && s.OnWrite != nil && !s.disposing {
		n, err := s.OnWrite()
		if n == 0 || err != nil {
			s.wantWrite = false
		}
	}
	if revents&unix.POLLIN != 0 && s.OnAcceptable != nil && !s.disposing {
		s.OnAcceptable()
	} else if revents&unix.POLLIN != 0 && s.OnRead != nil {
		var nread int
		var rerr error
		for {
			nread, rerr = unix.Read(s.fd, buf)
			if rerr == unix.EINTR {
				continue
			}
			break
		}
		if rerr == nil && !s.disposing {
			s.OnRead(buf[:nread], nil)
		} else if rerr != nil && rerr != unix.EAGAIN {
			s.OnRead(nil, rerr)
		}
	}
	if revents&unix.POLLHUP != 0 {
		s.hangup = true
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 && !s.disposing && s.OnRead != nil {
		s.OnRead(nil, fmt.Errorf("reactor: poll error on fd %d", s.fd))
	}
}

func (r *Reactor) drainWakeup(buf []byte) {
	for {
		n, err := unix.Read(r.pipeR, buf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil && err != unix.EINTR {
			return
		}
		if n < len(buf) {
			return
		}
	}
}

func (r *Reactor) processCommands() (keepRunning bool) {
	r.mu.Lock()
	cmds := r.commands
	r.commands = nil
	r.mu.Unlock()

	keepRunning = true
	for _, c := range cmds {
		switch c.typ {
		case cmdAdd:
			r.streams = append(r.streams, c.stream)
		case cmdStartRead:
			c.stream.wantRead = true
		case cmdStartWrite:
			c.stream.wantWrite = true
		case cmdClose:
			c.stream.closed = true
		case cmdDispose:
			c.stream.disposing = true
			c.stream.closed = true
		case cmdExit:
			keepRunning = false
		}
	}
	return keepRunning
}

func (r *Reactor) reapClosed() {
	for i, s := range r.streams {
		if s == nil || !s.closed || s.fd < 0 {
			continue
		}
		unix.Close(s.fd)
		s.fd = -1
		if s.OnDispose != nil {
			s.OnDispose()
		}
		r.streams[i] = nil
	}
}
