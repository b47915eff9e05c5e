//go:build linux

package rpc

import (
	"golang.org/x/sys/unix"
)

// maxEpollEvents bounds how many readiness events a single Wait call can
// return; the Reactor loops over Wait until the poller itself blocks, so
// this only controls batch size, not throughput.
const maxEpollEvents = 256

// Interest selects which directions of readiness a registration cares
// about, the Go analogue of the source's amy::Event.
type Interest uint32

const (
	Readable Interest = unix.EPOLLIN
	Writable Interest = unix.EPOLLOUT
	// Both watches for either direction becoming ready, used for sockets
	// that are both read from and written to in the same tick (Client,
	// Transfer).
	Both Interest = Readable | Writable
)

// Readiness reports one fd becoming ready for the interest(s) it was
// registered with. HangUp and Err surface unix.EPOLLHUP/EPOLLERR so the
// Reactor can treat a dead peer the same way a failed read would be
// treated, without waiting for a subsequent read to return EOF.
type Readiness struct {
	Fd       int
	Readable bool
	Writable bool
	HangUp   bool
	Err      bool
}

// Poller multiplexes readiness notifications over a fixed set of
// registered file descriptors using epoll. It is the Reactor's only
// source of blocking: everything else in the station is non-blocking
// by construction (§4). A Poller is owned by exactly one Reactor
// goroutine and must never be shared.
type Poller struct {
	epfd  int
	events [maxEpollEvents]unix.EpollEvent
}

// NewPoller creates an empty epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: fd}, nil
}

// Register starts watching fd for the given interest. Registering the
// same fd twice without an intervening Deregister returns unix.EEXIST,
// the same invariant amy::Registrar enforces.
func (p *Poller) Register(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Reregister changes the interest set for an already-registered fd.
// The Client source uses this to drop Writable once its outgoing buffer
// drains, so epoll stops waking the Reactor for a socket with nothing
// queued to send.
func (p *Poller) Reregister(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Deregister stops watching fd. Every fd registered with Register must
// eventually pass through Deregister exactly once before (or as part
// of) being closed; skipping it is the programmer bug the Invariant in
// §8 calls out, so callers in this package always pair the two through
// the Incoming/Client/Transfer teardown paths rather than closing raw
// fds directly.
func (p *Poller) Deregister(fd int) error {
	// Linux ignores the event argument for EPOLL_CTL_DEL, but kernels
	// before 2.6.9 required a non-nil pointer; pass one for portability
	// across the old kernels this reactor model was originally built
	// against.
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

// Wait blocks until at least one registered fd is ready, or timeoutMS
// elapses (-1 blocks indefinitely; the Reactor passes the distance to
// its next cleanup deadline so the timer source never needs its own
// fd). It returns the events reusing an internal buffer valid only
// until the next Wait call.
func (p *Poller) Wait(timeoutMS int) ([]Readiness, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.events[:], timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		out := make([]Readiness, n)
		for i := 0; i < n; i++ {
			ev := p.events[i]
			out[i] = Readiness{
				Fd:       int(ev.Fd),
				Readable: ev.Events&unix.EPOLLIN != 0,
				Writable: ev.Events&unix.EPOLLOUT != 0,
				HangUp:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
				Err:      ev.Events&unix.EPOLLERR != 0,
			}
		}
		return out, nil
	}
}

// Close releases the underlying epoll fd. The Reactor calls this once,
// on station shutdown, after every other fd has already been
// deregistered and closed.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
