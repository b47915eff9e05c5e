//go:build linux

package rpc

import "syscall"

// fdOf extracts the raw file descriptor backing a net.Conn/net.Listener so
// the Reactor can register it with the epoll Poller directly, bypassing
// net.Listener.Accept/net.Conn.Read's blocking semantics the way the
// teacher's socket.go bypasses net.Dialer for raw SetsockoptLinger calls.
func fdOf(c syscall.Conn) (int, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := raw.Control(func(u uintptr) { fd = int(u) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}
