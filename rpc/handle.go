package rpc

import "github.com/anacrolix/chansync"

// Handle is the bidirectional, in-process controller channel (§6):
// CtlMessages flow in from the controller, Messages flow out to it. The
// Reactor owns the receive side; whatever embeds the RPC station owns the
// send side via the paired Handle NewHandle returns.
type Handle struct {
	out    chan<- Message
	in     <-chan CtlMessage
	closed *chansync.SetOnce
}

// ControllerSide is the other end of a Handle pair, held by the code that
// embeds the RPC station.
type ControllerSide struct {
	In  chan<- CtlMessage
	Out <-chan Message
}

// NewHandle allocates a connected pair: the Reactor's Handle, and the
// ControllerSide the owning process uses to drive it. Buffered to a small
// depth so a burst of resource updates doesn't stall the sender on the
// Reactor's poll cadence.
func NewHandle(buf int) (*Handle, *ControllerSide) {
	toRPC := make(chan CtlMessage, buf)
	fromRPC := make(chan Message, buf)
	closed := new(chansync.SetOnce)
	return &Handle{out: fromRPC, in: toRPC, closed: closed},
		&ControllerSide{In: toRPC, Out: fromRPC}
}

// Send delivers a Message to the controller. It never blocks: if the
// controller isn't draining Out, the message is dropped and false is
// returned, matching the teacher's posture that a blocked controller
// channel must never stall the reactor tick.
func (h *Handle) Send(m Message) bool {
	select {
	case h.out <- m:
		return true
	default:
		return false
	}
}

// TryRecv drains at most one pending CtlMessage without blocking. ok is
// false when no message is currently queued.
func (h *Handle) TryRecv() (m CtlMessage, ok bool) {
	select {
	case m = <-h.in:
		return m, true
	default:
		return CtlMessage{}, false
	}
}

// Close marks the handle closed. Idempotent.
func (h *Handle) Close() { h.closed.Set() }

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.IsSet() }
