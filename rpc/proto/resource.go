// Package proto defines the RPC wire protocol: the JSON messages clients
// and the server exchange over the WebSocket control channel (§4.6, §6),
// and the resource shapes those messages carry.
package proto

// ResourceKind identifies which kind of managed object a Resource
// describes.
type ResourceKind string

const (
	ResourceTorrent ResourceKind = "torrent"
	ResourceFile    ResourceKind = "file"
	ResourcePeer    ResourceKind = "peer"
	ResourceTracker ResourceKind = "tracker"
	ResourceServer  ResourceKind = "server"
)

// Resource is a full snapshot of a managed object, sent on RESOURCES_EXTANT
// (first subscription and controller-originated Extant messages).
type Resource struct {
	ID       string       `json:"id"`
	Kind     ResourceKind `json:"kind"`
	Name     string       `json:"name,omitempty"`
	TorrentID string      `json:"torrent_id,omitempty"`

	Progress      float64 `json:"progress,omitempty"`
	RateUp        uint64  `json:"rate_up,omitempty"`
	RateDown      uint64  `json:"rate_down,omitempty"`
	ThrottleUp    *uint32 `json:"throttle_up,omitempty"`
	ThrottleDown  *uint32 `json:"throttle_down,omitempty"`
	Priority      *uint8  `json:"priority,omitempty"`
}

// SResourceUpdate is a partial, server-originated update to an existing
// resource, sent on RESOURCES_UPDATE. Only non-nil fields changed.
type SResourceUpdate struct {
	ID           string   `json:"id"`
	Progress     *float64 `json:"progress,omitempty"`
	RateUp       *uint64  `json:"rate_up,omitempty"`
	RateDown     *uint64  `json:"rate_down,omitempty"`
	ThrottleUp   *uint32  `json:"throttle_up,omitempty"`
	ThrottleDown *uint32  `json:"throttle_down,omitempty"`
	Priority     *uint8   `json:"priority,omitempty"`
}

// CResourceUpdate is a client-originated request to change a resource,
// forwarded to the controller once the Processor's resource lookup finds
// its id; the lookup does not check that the client is subscribed. The
// looked-up resource's kind picks the controller Message (UpdateServer,
// UpdateFile, or UpdateTorrent).
type CResourceUpdate struct {
	ID           string  `json:"id"`
	ThrottleUp   *uint32 `json:"throttle_up,omitempty"`
	ThrottleDown *uint32 `json:"throttle_down,omitempty"`
	Priority     *uint8  `json:"priority,omitempty"`
}
