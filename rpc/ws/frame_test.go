package ws

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func maskPayload(key [4]byte, payload []byte) []byte {
	out := make([]byte, len(payload))
	for i := range payload {
		out[i] = payload[i] ^ key[i%4]
	}
	return out
}

func encodeClientFrame(opcode Opcode, payload []byte, fin bool) []byte {
	first := byte(0)
	if fin {
		first = 0x80
	}
	first |= byte(opcode) & 0x0F

	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	masked := maskPayload(key, payload)

	out := []byte{first, 0x80 | byte(len(payload))}
	out = append(out, key[:]...)
	out = append(out, masked...)
	return out
}

func TestParserSingleTextFrame(t *testing.T) {
	raw := encodeClientFrame(OpText, []byte("hello"), true)
	var p Parser
	frames, err := p.Feed(raw)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.True(t, frames[0].Fin)
	require.Equal(t, OpText, frames[0].Opcode)
	require.Equal(t, "hello", string(frames[0].Payload))
}

func TestParserSplitAcrossFeeds(t *testing.T) {
	raw := encodeClientFrame(OpBinary, []byte("split-payload"), true)
	var p Parser
	first, err := p.Feed(raw[:3])
	require.NoError(t, err)
	require.Empty(t, first)

	frames, err := p.Feed(raw[3:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, "split-payload", string(frames[0].Payload))
}

func TestParserMultipleFramesInOneChunk(t *testing.T) {
	raw := append(encodeClientFrame(OpText, []byte("one"), true), encodeClientFrame(OpText, []byte("two"), true)...)
	var p Parser
	frames, err := p.Feed(raw)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, "one", string(frames[0].Payload))
	require.Equal(t, "two", string(frames[1].Payload))
}

func TestParserRejectsUnmaskedFrame(t *testing.T) {
	raw := []byte{0x81, 0x02, 'h', 'i'} // FIN|text, len=2, MASK bit unset
	var p Parser
	_, err := p.Feed(raw)
	require.ErrorIs(t, err, ErrUnmasked)
}

func TestParserRejectsReservedBits(t *testing.T) {
	raw := encodeClientFrame(OpText, []byte("x"), true)
	raw[0] |= 0x40 // set RSV1
	var p Parser
	_, err := p.Feed(raw)
	require.ErrorIs(t, err, ErrReservedBits)
}

func TestParserRejectsOversizedFrame(t *testing.T) {
	p := Parser{MaxFrameSize: 4}
	raw := encodeClientFrame(OpText, []byte("toolong"), true)
	_, err := p.Feed(raw)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeTextWritesUnmaskedFrame(t *testing.T) {
	payload := []byte(`{"type":"SUBSCRIBE"}`)
	out := EncodeText(payload)
	// server frames are unmasked, so the payload bytes follow the two-byte
	// header verbatim.
	require.Equal(t, byte(0x81), out[0])
	require.Equal(t, byte(len(payload)), out[1])
	require.Equal(t, payload, out[2:])
}

func TestEncodeCloseCarriesCode(t *testing.T) {
	out := EncodeClose(1002, "protocol error")
	require.Equal(t, byte(OpClose)|0x80, out[0])
	require.Equal(t, []byte{0x03, 0xEA}, out[2:4]) // 1002, big-endian
}

func TestEncodeLargePayloadUses16BitLength(t *testing.T) {
	payload := make([]byte, 300)
	out := Encode(OpBinary, payload, true)
	require.Equal(t, byte(126), out[1])
}
