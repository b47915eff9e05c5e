package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeCMessageSubscribe(t *testing.T) {
	msg, err := DecodeCMessage([]byte(`{"type":"SUBSCRIBE","serial":"s1","id":"t1"}`))
	require.NoError(t, err)
	require.Equal(t, CSubscribe, msg.Type)
	require.Equal(t, "s1", msg.Serial)
	require.NotNil(t, msg.Subscribe)
	require.Equal(t, "t1", msg.Subscribe.ID)
}

func TestDecodeCMessageUploadTorrent(t *testing.T) {
	msg, err := DecodeCMessage([]byte(`{"type":"UPLOAD_TORRENT","serial":"s2","size":1024}`))
	require.NoError(t, err)
	require.NotNil(t, msg.UploadTorrent)
	require.EqualValues(t, 1024, msg.UploadTorrent.Size)
}

func TestDecodeCMessageRejectsUnknownType(t *testing.T) {
	_, err := DecodeCMessage([]byte(`{"type":"BOGUS","serial":"s3"}`))
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecodeCMessageRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeCMessage([]byte(`not json`))
	require.Error(t, err)
}

func TestSMessageEncodeIncludesTypeAndToken(t *testing.T) {
	msg := NewTransferOffered("s1", "tok-abc", 1700000000)
	b, err := msg.Encode()
	require.NoError(t, err)
	require.Contains(t, string(b), `"type":"TRANSFER_OFFERED"`)
	require.Contains(t, string(b), `"token":"tok-abc"`)
}

func TestNewErrorCarriesSerialAndReason(t *testing.T) {
	msg := NewError("s9", "bad schema")
	b, err := msg.Encode()
	require.NoError(t, err)
	require.Contains(t, string(b), `"serial":"s9"`)
	require.Contains(t, string(b), `"reason":"bad schema"`)
}
