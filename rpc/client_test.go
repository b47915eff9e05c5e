package rpc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardenhall/tormenta/rpc/ws"
)

func TestClientFeedExtractsTextFrames(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()
	c := NewClient(server, 1)

	texts, closeReq, err := c.Feed(clientFrame(byte(ws.OpText), []byte(`{"type":"SUBSCRIBE"}`)))
	require.NoError(t, err)
	require.False(t, closeReq)
	require.Len(t, texts, 1)
	require.Equal(t, `{"type":"SUBSCRIBE"}`, string(texts[0]))
}

func TestClientFeedQueuesPongForPing(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()
	c := NewClient(server, 1)

	_, _, err := c.Feed(clientFrame(byte(ws.OpPing), []byte("ping-body")))
	require.NoError(t, err)
	require.True(t, c.HasPendingWrite())

	frame := c.FlushableBytes()
	require.Equal(t, byte(ws.OpPong)|0x80, frame[0])
}

func TestClientFeedSignalsCloseRequested(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()
	c := NewClient(server, 1)

	_, closeReq, err := c.Feed(clientFrame(byte(ws.OpClose), nil))
	require.NoError(t, err)
	require.True(t, closeReq)
	require.True(t, c.HasPendingWrite())
}

func TestClientQueueTextCoalescesIntoFrontBuffer(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()
	c := NewClient(server, 1)

	c.QueueText([]byte("one"))
	first := c.FlushableBytes()
	require.NotEmpty(t, first)

	c.QueueText([]byte("two"))
	require.True(t, c.HasPendingWrite())

	c.Wrote(len(first))
	// "two" was queued to the back buffer while "one" was still in front;
	// it should now flip forward.
	second := c.FlushableBytes()
	require.NotEmpty(t, second)
}

func TestClientTimedOut(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()
	c := NewClient(server, 1)

	require.False(t, c.TimedOut(time.Now(), time.Minute))
	require.True(t, c.TimedOut(time.Now().Add(2*time.Minute), time.Minute))
}
