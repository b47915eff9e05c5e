package rpc

import (
	"context"
	"net"
	"syscall"

	"github.com/anacrolix/log"
)

// listenTCP binds the RPC socket on 0.0.0.0:port (§6), the same way the
// teacher's own listen setup does for its peer-facing listener. A zero
// SO_LINGER timeout is also set here on the listening socket itself for
// parity with that setup, though the linger option that actually matters for each
// accepted connection is set separately in Reactor.handleAccept, since
// SO_LINGER on a listening fd has no effect on sockets it later accepts.
//
// The returned *net.TCPListener is put in non-blocking mode by the runtime
// automatically; fdOf extracts the underlying file descriptor so the
// Reactor can register it directly with epoll instead of going through
// net.Listener.Accept's blocking semantics.
var tcpListenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) (err error) {
		var controlErr error
		err = c.Control(func(fd uintptr) {
			controlErr = setSockNoLinger(fd)
		})
		if err == nil {
			err = controlErr
		}
		return
	},
}

func listenTCP(addr string, logger log.Logger) (*net.TCPListener, error) {
	l, err := tcpListenConfig.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	tl, ok := l.(*net.TCPListener)
	if !ok {
		l.Close()
		logger.Levelf(log.Error, "listener for %q was not a *net.TCPListener", addr)
		return nil, errNotTCPListener
	}
	return tl, nil
}

var errNotTCPListener = netListenerTypeError{}

type netListenerTypeError struct{}

func (netListenerTypeError) Error() string { return "listener is not a *net.TCPListener" }
