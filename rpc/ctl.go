package rpc

import (
	"github.com/ardenhall/tormenta/rpc/proto"
)

// CtlMessage is a message the controller sends inbound to the RPC
// station, draining off the controller channel the Reactor polls
// alongside its sockets (§6, §4.7).
type CtlMessage struct {
	Extant  []proto.Resource
	Update  []proto.SResourceUpdate
	Removed []string
	// Shutdown, when true, tells the Reactor to close the listener,
	// deregister everything, and return. No other field is meaningful
	// on a Shutdown message.
	Shutdown bool
}

// MessageKind tags which variant a Message carries.
type MessageKind uint8

const (
	MessageUpdateTorrent MessageKind = iota
	MessageUpdateServer
	MessageUpdateFile
	MessageRemoveTorrent
	MessageRemovePeer
	MessageRemoveTracker
	MessageTorrent
)

// Message is a controller-bound message the Processor or the Reactor
// emits outward in response to client activity (§6).
type Message struct {
	Kind MessageKind

	UpdateTorrent proto.CResourceUpdate

	// UpdateServer / UpdateFile / RemovePeer / RemoveTracker share these
	// generic id fields; only the ones relevant to Kind are populated.
	ID           string
	TorrentID    string
	ThrottleUp   *uint32
	ThrottleDown *uint32
	Priority     uint8

	// TorrentData carries the raw, unparsed torrent metainfo body handed up
	// from a completed UploadTorrent transfer. Its concrete shape is an
	// external collaborator's type (§1: torrent metadata parsing is out
	// of scope for this core); it is threaded through opaquely.
	TorrentData []byte
}

// UpdateServerMessage builds a Message carrying a server-wide throttle
// change.
func UpdateServerMessage(id string, up, down *uint32) Message {
	return Message{Kind: MessageUpdateServer, ID: id, ThrottleUp: up, ThrottleDown: down}
}

// UpdateFileMessage builds a Message carrying a per-file priority change.
func UpdateFileMessage(id, torrentID string, priority uint8) Message {
	return Message{Kind: MessageUpdateFile, ID: id, TorrentID: torrentID, Priority: priority}
}

// RemoveTorrentMessage builds a Message requesting a torrent's removal.
func RemoveTorrentMessage(id string) Message {
	return Message{Kind: MessageRemoveTorrent, ID: id}
}

// RemovePeerMessage builds a Message requesting a peer's removal.
func RemovePeerMessage(id, torrentID string) Message {
	return Message{Kind: MessageRemovePeer, ID: id, TorrentID: torrentID}
}

// RemoveTrackerMessage builds a Message requesting a tracker's removal.
func RemoveTrackerMessage(id, torrentID string) Message {
	return Message{Kind: MessageRemoveTracker, ID: id, TorrentID: torrentID}
}

// TorrentMessage builds a Message handing a freshly uploaded torrent's
// raw bencoded bytes up to the controller.
func TorrentMessage(data []byte) Message {
	return Message{Kind: MessageTorrent, TorrentData: data}
}
