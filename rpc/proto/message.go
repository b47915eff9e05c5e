package proto

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// CType tags a client-originated message's wire shape.
type CType string

const (
	CSubscribe      CType = "SUBSCRIBE"
	CUnsubscribe    CType = "UNSUBSCRIBE"
	CUpdateResource CType = "UPDATE_RESOURCE"
	CRemoveResource CType = "REMOVE_RESOURCE"
	CUploadTorrent  CType = "UPLOAD_TORRENT"
	CDownloadFile   CType = "DOWNLOAD_FILE"
)

// SType tags a server-originated message's wire shape.
type SType string

const (
	SResourcesExtant SType = "RESOURCES_EXTANT"
	SResourcesUpdate SType = "RESOURCES_UPDATE"
	SResourcesRemoved SType = "RESOURCES_REMOVED"
	STransferOffered SType = "TRANSFER_OFFERED"
	STransferFailed  SType = "TRANSFER_FAILED"
	SError           SType = "ERROR"
)

// ErrUnknownMessageType is returned by DecodeCMessage when the wire
// envelope's type field doesn't match any known CType.
var ErrUnknownMessageType = errors.New("proto: unknown message type")

// CMessage is the tagged union of every message a client may send.
// Exactly one of the typed fields is populated, selected by Type.
type CMessage struct {
	Type   CType  `json:"type"`
	Serial string `json:"serial"`

	Subscribe      *CSubscribeMsg      `json:"-"`
	Unsubscribe    *CUnsubscribeMsg    `json:"-"`
	UpdateResource *CResourceUpdate    `json:"-"`
	RemoveResource *CRemoveResourceMsg `json:"-"`
	UploadTorrent  *CUploadTorrentMsg  `json:"-"`
	DownloadFile   *CDownloadFileMsg   `json:"-"`
}

type CSubscribeMsg struct {
	Serial string `json:"serial"`
	ID     string `json:"id"`
}

type CUnsubscribeMsg struct {
	Serial string `json:"serial"`
	ID     string `json:"id"`
}

type CRemoveResourceMsg struct {
	Serial string `json:"serial"`
	ID     string `json:"id"`
}

type CUploadTorrentMsg struct {
	Serial string `json:"serial"`
	Size   uint64 `json:"size"`
}

type CDownloadFileMsg struct {
	Serial string `json:"serial"`
	ID     string `json:"id"`
}

// DecodeCMessage parses a single JSON text frame's worth of bytes into a
// CMessage, dispatching on the envelope's type field the way the
// Processor's handle_client expects (§4.6).
func DecodeCMessage(data []byte) (CMessage, error) {
	var envelope struct {
		Type   CType  `json:"type"`
		Serial string `json:"serial"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return CMessage{}, errors.Wrap(err, "proto: decode envelope")
	}
	msg := CMessage{Type: envelope.Type, Serial: envelope.Serial}
	switch envelope.Type {
	case CSubscribe:
		msg.Subscribe = &CSubscribeMsg{}
		return msg, decodeInto(data, msg.Subscribe)
	case CUnsubscribe:
		msg.Unsubscribe = &CUnsubscribeMsg{}
		return msg, decodeInto(data, msg.Unsubscribe)
	case CUpdateResource:
		msg.UpdateResource = &CResourceUpdate{}
		return msg, decodeInto(data, msg.UpdateResource)
	case CRemoveResource:
		msg.RemoveResource = &CRemoveResourceMsg{}
		return msg, decodeInto(data, msg.RemoveResource)
	case CUploadTorrent:
		msg.UploadTorrent = &CUploadTorrentMsg{}
		return msg, decodeInto(data, msg.UploadTorrent)
	case CDownloadFile:
		msg.DownloadFile = &CDownloadFileMsg{}
		return msg, decodeInto(data, msg.DownloadFile)
	default:
		return CMessage{}, errors.Wrapf(ErrUnknownMessageType, "type=%q", envelope.Type)
	}
}

func decodeInto(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "proto: decode body")
	}
	return nil
}

// SMessage is the tagged union of every message the server may send to a
// client. Encode flattens it back to a single JSON object with a
// type field, mirroring how DecodeCMessage reads one.
type SMessage struct {
	Type   SType  `json:"type"`
	Serial string `json:"serial,omitempty"`

	ResourcesExtant  []Resource        `json:"resources,omitempty"`
	ResourcesUpdate  []SResourceUpdate `json:"updates,omitempty"`
	ResourcesRemoved []string          `json:"ids,omitempty"`
	Token            string            `json:"token,omitempty"`
	Expiry           int64             `json:"expiry,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// NewResourcesExtant builds the reply to a fresh SUBSCRIBE: a full
// snapshot of each resource given. The Processor passes only the
// subscribed resource itself, not resources it owns.
func NewResourcesExtant(serial string, resources []Resource) SMessage {
	return SMessage{Type: SResourcesExtant, Serial: serial, ResourcesExtant: resources}
}

// NewResourcesUpdate builds a RESOURCES_UPDATE fan-out message, not tied
// to any particular client's serial (it's unsolicited).
func NewResourcesUpdate(updates []SResourceUpdate) SMessage {
	return SMessage{Type: SResourcesUpdate, ResourcesUpdate: updates}
}

// NewResourcesRemoved builds a RESOURCES_REMOVED fan-out message.
func NewResourcesRemoved(ids []string) SMessage {
	return SMessage{Type: SResourcesRemoved, ResourcesRemoved: ids}
}

// NewTransferOffered builds the reply to UPLOAD_TORRENT, carrying the
// freshly minted single-use token and its expiry (unix seconds).
func NewTransferOffered(serial, token string, expiry int64) SMessage {
	return SMessage{Type: STransferOffered, Serial: serial, Token: token, Expiry: expiry}
}

// NewTransferFailed builds the message sent to a transfer's originating
// client when the transfer engine reports an error for it.
func NewTransferFailed(serial, reason string) SMessage {
	return SMessage{Type: STransferFailed, Serial: serial, Reason: reason}
}

// NewError builds a generic ERROR reply, echoing the serial of the
// message that provoked it when one is known.
func NewError(serial, reason string) SMessage {
	return SMessage{Type: SError, Serial: serial, Reason: reason}
}

// Encode marshals an SMessage to its wire form.
func (m SMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "proto: encode SMessage")
	}
	return b, nil
}
