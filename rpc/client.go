package rpc

import (
	"bytes"
	"net"
	"time"

	"github.com/ardenhall/tormenta/rpc/ws"
)

// Client is a WebSocket-upgraded peer of the RPC server (§3). Reads are
// fed through a ws.Parser; writes accumulate in a back buffer that's
// flipped to the front buffer for draining on each writable notification,
// the same double-buffer technique the teacher's peerConnMsgWriterBuffer
// uses to avoid copying pending bytes on every partial write.
type Client struct {
	Conn net.Conn
	Fd   int

	parser ws.Parser

	front bytes.Buffer
	back  bytes.Buffer

	lastActivity time.Time
}

// NewClient wraps a freshly upgraded connection.
func NewClient(conn net.Conn, fd int) *Client {
	return &Client{
		Conn:         conn,
		Fd:           fd,
		parser:       ws.Parser{MaxFrameSize: ws.DefaultMaxFrameSize},
		lastActivity: time.Now(),
	}
}

// Feed hands newly read bytes to the frame parser, returning every
// complete Text frame's payload. Non-text control frames (Ping/Pong/Close)
// are handled internally: Ping queues a Pong reply, Close queues a
// matching Close and signals the caller via closeRequested.
func (c *Client) Feed(chunk []byte) (texts [][]byte, closeRequested bool, err error) {
	c.lastActivity = time.Now()
	frames, err := c.parser.Feed(chunk)
	if err != nil {
		return nil, false, err
	}
	for _, f := range frames {
		switch f.Opcode {
		case ws.OpText:
			texts = append(texts, f.Payload)
		case ws.OpPing:
			c.QueueFrame(ws.Encode(ws.OpPong, f.Payload, true))
		case ws.OpClose:
			c.QueueFrame(ws.Encode(ws.OpClose, nil, true))
			closeRequested = true
		}
	}
	return texts, closeRequested, nil
}

// QueueText encodes and queues a text frame for the next writable tick.
func (c *Client) QueueText(payload []byte) {
	c.QueueFrame(ws.EncodeText(payload))
}

// QueueFrame appends already-encoded bytes to the back buffer.
func (c *Client) QueueFrame(encoded []byte) {
	c.back.Write(encoded)
}

// HasPendingWrite reports whether there are queued bytes not yet handed
// to the socket.
func (c *Client) HasPendingWrite() bool {
	return c.front.Len() > 0 || c.back.Len() > 0
}

// FlushableBytes returns the bytes ready to write to the socket right
// now, flipping the back buffer into the front one first if the front is
// empty (the teacher's coalescing trick: writes that arrive between
// flushes batch into one send instead of many small ones).
func (c *Client) FlushableBytes() []byte {
	if c.front.Len() == 0 && c.back.Len() > 0 {
		c.front, c.back = c.back, c.front
	}
	return c.front.Bytes()
}

// Wrote records that n bytes of the front buffer were successfully
// written to the socket.
func (c *Client) Wrote(n int) {
	c.front.Next(n)
}

// TimedOut reports whether this Client has gone idleTimeout without any
// frame activity (the Reactor drives this off Config.IdleTimeout).
func (c *Client) TimedOut(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(c.lastActivity) > idleTimeout
}
