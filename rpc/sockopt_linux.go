//go:build linux

package rpc

import "golang.org/x/sys/unix"

// setSockNoLinger enables SO_LINGER with a zero timeout, so closing an RPC
// connection aborts it immediately (RST) and discards any unsent buffered
// data instead of flushing it in the background — the control channel is
// request/response, not a stream worth draining on close.
func setSockNoLinger(fd uintptr) error {
	return unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
}
