package rpc

import (
	"time"

	"github.com/ardenhall/tormenta/rpc/proto"
)

// Processor is the RPC semantic layer (C6): subscriptions, the token
// table, and translation between client messages and controller messages.
// Per §9's design note it is a pure function of (state, message); it owns
// no socket and is driven directly by unit tests as well as by the
// Reactor. Its own fields (subscription maps) are accessed only from the
// Reactor's single goroutine; tokenTable carries its own lock because
// tests drive it directly, outside the Reactor.
type Processor struct {
	tokens *tokenTable

	// subscribers maps a resource id to the set of client ids currently
	// subscribed to it, for fanning out handle_ctl updates (§4.6).
	subscribers map[string]map[string]struct{}
	// clientSubs is the inverse index, used by remove_client to drop a
	// departing client's subscriptions without scanning every resource.
	clientSubs map[string]map[string]struct{}
}

// NewProcessor allocates a Processor whose issued tokens live for ttl.
func NewProcessor(ttl time.Duration) *Processor {
	return &Processor{
		tokens:      newTokenTable(ttl),
		subscribers: make(map[string]map[string]struct{}),
		clientSubs:  make(map[string]map[string]struct{}),
	}
}

// ResourceLookup resolves a resource id to its current full snapshot, for
// replying to SUBSCRIBE. The Processor doesn't own resource state itself
// (the controller does); the Reactor supplies this callback backed by
// whatever view of controller state it maintains.
type ResourceLookup func(id string) (proto.Resource, bool)

// HandleClient processes one inbound client message, returning the
// SMessages to send back to that same client (in order) and, if the
// message also produces controller-bound work, the Message to forward
// (§4.6).
func (p *Processor) HandleClient(clientID string, msg proto.CMessage, lookup ResourceLookup) ([]proto.SMessage, *Message) {
	switch msg.Type {
	case proto.CSubscribe:
		return p.handleSubscribe(clientID, msg.Subscribe, lookup), nil

	case proto.CUnsubscribe:
		p.unsubscribe(clientID, msg.Unsubscribe.ID)
		return nil, nil

	case proto.CUpdateResource:
		res, ok := lookup(msg.UpdateResource.ID)
		if !ok {
			return []proto.SMessage{proto.NewError(msg.Serial, "no such resource")}, nil
		}
		ctl := buildUpdateMessage(res, *msg.UpdateResource)
		return nil, &ctl

	case proto.CRemoveResource:
		res, ok := lookup(msg.RemoveResource.ID)
		if !ok {
			return []proto.SMessage{proto.NewError(msg.Serial, "no such resource")}, nil
		}
		ctl := buildRemoveMessage(res)
		return nil, &ctl

	case proto.CUploadTorrent:
		token, expiry := p.tokens.issue(clientID, msg.Serial, TransferUploadTorrent)
		out := proto.NewTransferOffered(msg.Serial, token, expiry.Unix())
		return []proto.SMessage{out}, nil

	case proto.CDownloadFile:
		out := proto.NewError(msg.Serial, "downloads are not implemented")
		return []proto.SMessage{out}, nil

	default:
		out := proto.NewError(msg.Serial, "unknown message type")
		return []proto.SMessage{out}, nil
	}
}

func (p *Processor) handleSubscribe(clientID string, sub *proto.CSubscribeMsg, lookup ResourceLookup) []proto.SMessage {
	res, ok := lookup(sub.ID)
	if !ok {
		return []proto.SMessage{proto.NewError(sub.Serial, "no such resource")}
	}
	p.subscribe(clientID, sub.ID)
	return []proto.SMessage{proto.NewResourcesExtant(sub.Serial, []proto.Resource{res})}
}

func (p *Processor) subscribe(clientID, resourceID string) {
	if p.subscribers[resourceID] == nil {
		p.subscribers[resourceID] = make(map[string]struct{})
	}
	p.subscribers[resourceID][clientID] = struct{}{}
	if p.clientSubs[clientID] == nil {
		p.clientSubs[clientID] = make(map[string]struct{})
	}
	p.clientSubs[clientID][resourceID] = struct{}{}
}

func (p *Processor) unsubscribe(clientID, resourceID string) {
	delete(p.subscribers[resourceID], clientID)
	delete(p.clientSubs[clientID], resourceID)
}

// HandleCtl translates a controller-originated CtlMessage into the set of
// (clientID, SMessage) notifications to deliver, one per subscriber of
// each affected resource (§4.6).
func (p *Processor) HandleCtl(m CtlMessage) []ClientMessage {
	var out []ClientMessage
	if len(m.Extant) > 0 {
		for _, res := range m.Extant {
			for clientID := range p.subscribers[res.ID] {
				out = append(out, ClientMessage{clientID, proto.NewResourcesExtant("", []proto.Resource{res})})
			}
		}
	}
	if len(m.Update) > 0 {
		byClient := make(map[string][]proto.SResourceUpdate)
		for _, u := range m.Update {
			for clientID := range p.subscribers[u.ID] {
				byClient[clientID] = append(byClient[clientID], u)
			}
		}
		for clientID, updates := range byClient {
			out = append(out, ClientMessage{clientID, proto.NewResourcesUpdate(updates)})
		}
	}
	if len(m.Removed) > 0 {
		seen := make(map[string]struct{})
		for _, id := range m.Removed {
			for clientID := range p.subscribers[id] {
				seen[clientID] = struct{}{}
			}
			delete(p.subscribers, id)
		}
		for clientID := range seen {
			out = append(out, ClientMessage{clientID, proto.NewResourcesRemoved(m.Removed)})
		}
	}
	return out
}

// ClientMessage pairs an outgoing SMessage with the client it's destined
// for, the shape HandleCtl's fan-out and the Reactor's send loop share.
type ClientMessage struct {
	ClientID string
	Message  proto.SMessage
}

// GetTransfer consumes a single-use upload token, as TransferEngine hookup
// requires (§4.4, §4.6).
func (p *Processor) GetTransfer(token string) (clientID, serial string, kind TransferKind, ok bool) {
	return p.tokens.consume(token)
}

// RemoveExpiredTokens drops every token past its expiry; called on the
// cleanup tick.
func (p *Processor) RemoveExpiredTokens() {
	p.tokens.removeExpired(time.Now())
}

// RemoveClient forgets clientID's subscriptions and outstanding tokens,
// on disconnect (§4.6).
func (p *Processor) RemoveClient(clientID string) {
	p.tokens.removeForClient(clientID)
	for resourceID := range p.clientSubs[clientID] {
		delete(p.subscribers[resourceID], clientID)
	}
	delete(p.clientSubs, clientID)
}

// UpdateTorrentMessage builds a Message wrapping a client-originated
// resource update, forwarded to the controller once accepted.
func UpdateTorrentMessage(upd proto.CResourceUpdate) Message {
	return Message{Kind: MessageUpdateTorrent, UpdateTorrent: upd, ID: upd.ID}
}

// buildUpdateMessage picks the controller Message variant a CUpdateResource
// produces based on the target resource's kind (§6: UPDATE_RESOURCE
// addresses any managed object by id, not just torrents). File and peer
// updates aren't modeled on the wire as separate message shapes, so a file
// resource's update borrows CResourceUpdate's Priority field and its parent
// torrent id from the looked-up Resource itself.
func buildUpdateMessage(res proto.Resource, upd proto.CResourceUpdate) Message {
	switch res.Kind {
	case proto.ResourceServer:
		return UpdateServerMessage(upd.ID, upd.ThrottleUp, upd.ThrottleDown)
	case proto.ResourceFile:
		var priority uint8
		if upd.Priority != nil {
			priority = *upd.Priority
		}
		return UpdateFileMessage(upd.ID, res.TorrentID, priority)
	default:
		return UpdateTorrentMessage(upd)
	}
}

// buildRemoveMessage picks the controller Message variant a CRemoveResource
// produces based on the target resource's kind.
func buildRemoveMessage(res proto.Resource) Message {
	switch res.Kind {
	case proto.ResourcePeer:
		return RemovePeerMessage(res.ID, res.TorrentID)
	case proto.ResourceTracker:
		return RemoveTrackerMessage(res.ID, res.TorrentID)
	default:
		return RemoveTorrentMessage(res.ID)
	}
}
