package rpc

import (
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardenhall/tormenta/rpc/proto"
)

// readBufSize bounds a single non-blocking read off any registered socket.
const readBufSize = 64 * 1024

// Reactor is the single-threaded, cooperative event loop described by §4.7:
// it owns the listener, every live Incoming/Client/Transfer, the Processor,
// and the controller Handle, and drives all of them off one epoll Poller.
// Nothing in this type is safe for concurrent use; it is built to run on
// exactly one goroutine, the same posture the source's RPC::run loop takes.
type Reactor struct {
	poller   *Poller
	listener *net.TCPListener
	lid      int

	handle  *Handle
	proc    *Processor
	xfers   *Transfers
	metrics *Metrics
	lookup  ResourceLookup

	clients  map[int]*Client
	incoming map[int]*Incoming

	pollInterval    time.Duration
	cleanupInterval time.Duration
	idleTimeout     time.Duration
	lastCleanup     time.Time

	logger log.Logger
}

// NewReactor binds the listener and wires up an otherwise-empty station.
// lookup resolves resource snapshots for SUBSCRIBE the way the Reactor's
// owning process maintains them; handle is the Reactor's end of the
// controller channel pair returned by NewHandle.
func NewReactor(cfg *Config, handle *Handle, lookup ResourceLookup, reg prometheus.Registerer, logger log.Logger) (*Reactor, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "rpc: create poller")
	}

	ln, err := listenTCP(":"+strconv.Itoa(int(cfg.Port)), logger)
	if err != nil {
		poller.Close()
		return nil, pkgerrors.Wrap(err, "rpc: listen")
	}
	lfd, err := fdOf(ln)
	if err != nil {
		ln.Close()
		poller.Close()
		return nil, pkgerrors.Wrap(err, "rpc: listener fd")
	}
	if err := poller.Register(lfd, Readable); err != nil {
		ln.Close()
		poller.Close()
		return nil, pkgerrors.Wrap(err, "rpc: register listener")
	}

	return &Reactor{
		poller:          poller,
		listener:        ln,
		lid:             lfd,
		handle:          handle,
		proc:            NewProcessor(cfg.TokenLifetime),
		xfers:           NewTransfers(),
		metrics:         NewMetrics(reg),
		lookup:          lookup,
		clients:         make(map[int]*Client),
		incoming:        make(map[int]*Incoming),
		pollInterval:    cfg.PollInterval,
		cleanupInterval: cfg.CleanupInterval,
		idleTimeout:     cfg.IdleTimeout,
		lastCleanup:     time.Now(),
		logger:          logger,
	}, nil
}

// Run drives the reactor until a controller Shutdown message arrives or the
// poller errors out. It blocks the calling goroutine; callers run it in its
// own goroutine, same as the source's dh.run("rpc", ...) closure.
func (r *Reactor) Run() error {
	r.logger.Levelf(log.Debug, "rpc: reactor running")
	for {
		events, err := r.poller.Wait(r.nextTimeoutMS())
		if err != nil {
			return pkgerrors.Wrap(err, "rpc: poll")
		}
		for _, ev := range events {
			switch {
			case ev.Fd == r.lid:
				r.handleAccept()
			case r.incoming[ev.Fd] != nil:
				r.handleIncoming(ev.Fd, ev)
			case r.xfers.Contains(ev.Fd):
				r.handleTransfer(ev.Fd, ev)
			default:
				r.handleConn(ev.Fd, ev)
			}
		}
		if shutdown := r.drainCtl(); shutdown {
			r.logger.Levelf(log.Debug, "rpc: reactor shutting down")
			return r.Close()
		}
		if time.Since(r.lastCleanup) >= r.cleanupInterval {
			r.cleanup()
			r.lastCleanup = time.Now()
		}
	}
}

func (r *Reactor) nextTimeoutMS() int {
	remaining := r.cleanupInterval - time.Since(r.lastCleanup)
	if remaining <= 0 {
		return 0
	}
	if r.pollInterval > 0 && r.pollInterval < remaining {
		remaining = r.pollInterval
	}
	return int(remaining / time.Millisecond)
}

// drainCtl processes every queued CtlMessage, the same dispatch the
// source's handle_ctl performs: fan the update out through the Processor,
// send each resulting SMessage to its client, and remove any client whose
// send fails immediately rather than waiting for the next cleanup tick
// (§9 SUPPLEMENTED FEATURES).
func (r *Reactor) drainCtl() (shutdown bool) {
	for {
		m, ok := r.handle.TryRecv()
		if !ok {
			return false
		}
		if m.Shutdown {
			return true
		}
		for _, cm := range r.proc.HandleCtl(m) {
			r.sendToClient(cm.ClientID, cm.Message)
		}
	}
}

func (r *Reactor) sendToClient(clientID string, msg proto.SMessage) {
	fd, ok := parseClientID(clientID)
	if !ok {
		r.logger.Levelf(log.Warn, "rpc: processor addressed a malformed client id %q", clientID)
		return
	}
	c, ok := r.clients[fd]
	if !ok {
		r.logger.Levelf(log.Warn, "rpc: processor addressed a nonexistent client %q", clientID)
		return
	}
	encoded, err := msg.Encode()
	if err != nil {
		r.logger.Levelf(log.Error, "rpc: encode message for %q: %v", clientID, err)
		return
	}
	c.QueueText(encoded)
	if err := r.poller.Reregister(fd, Both); err != nil {
		r.logger.Levelf(log.Error, "rpc: reregister client %q for write: %v", clientID, err)
		r.removeClient(fd)
	}
}

// handleAccept accepts the one connection epoll reported ready. Level
// triggered epoll re-fires on the listener fd while a backlog remains, so
// a single Accept per notification drains the backlog over successive
// ticks without this call ever blocking.
func (r *Reactor) handleAccept() {
	conn, err := r.listener.Accept()
	if err != nil {
		r.logger.Levelf(log.Error, "rpc: accept: %v", err)
		return
	}
	fd, err := fdOf(conn)
	if err != nil {
		r.logger.Levelf(log.Error, "rpc: accepted conn fd: %v", err)
		conn.Close()
		return
	}
	if err := setSockNoLinger(uintptr(fd)); err != nil {
		r.logger.Levelf(log.Warning, "rpc: disable SO_LINGER on accepted conn: %v", err)
	}
	if err := r.poller.Register(fd, Both); err != nil {
		r.logger.Levelf(log.Error, "rpc: register accepted conn: %v", err)
		conn.Close()
		return
	}
	r.incoming[fd] = NewIncoming(conn, fd)
	r.logger.WithDefaultLevel(log.Debug).Printf("rpc: accepted connection from %s", conn.RemoteAddr())
}

func (r *Reactor) handleIncoming(fd int, ev Readiness) {
	in, ok := r.incoming[fd]
	if !ok {
		return
	}
	if ev.HangUp || ev.Err {
		r.deregisterAndClose(fd, in.Conn)
		delete(r.incoming, fd)
		return
	}
	if !ev.Readable {
		return
	}

	buf := make([]byte, readBufSize)
	n, err := in.Conn.Read(buf)
	if err != nil && n == 0 {
		r.deregisterAndClose(fd, in.Conn)
		delete(r.incoming, fd)
		return
	}

	res := in.Readable(buf[:n])
	switch res.kind {
	case incomingPending:
		return

	case incomingUpgrade:
		delete(r.incoming, fd)
		c := NewClient(in.Conn, fd)
		c.QueueFrame(res.handshakeResponse)
		r.clients[fd] = c
		r.metrics.ClientsConnected.Inc()
		if err := r.poller.Reregister(fd, Both); err != nil {
			r.logger.Levelf(log.Error, "rpc: reregister upgraded conn %d: %v", fd, err)
		}
		r.logger.WithDefaultLevel(log.Debug).Printf("rpc: upgraded connection %d", fd)

	case incomingTransfer:
		delete(r.incoming, fd)
		clientID, serial, kind, ok := r.proc.GetTransfer(res.token)
		if !ok {
			r.logger.Levelf(log.Warn, "rpc: transfer used an invalid or expired token")
			r.deregisterAndClose(fd, in.Conn)
			return
		}
		t := NewTransfer(in.Conn, fd, clientID, serial, kind, res.contentLen, res.initialBody, nil)
		r.xfers.Add(fd, t)
		r.metrics.TransfersOpen.Inc()

	case incomingRejected:
		r.logger.WithDefaultLevel(log.Debug).Printf("rpc: rejected incoming connection: %v", res.err)
		r.deregisterAndClose(fd, in.Conn)
		delete(r.incoming, fd)
	}
}

func (r *Reactor) handleTransfer(fd int, ev Readiness) {
	t, ok := r.xfers.Get(fd)
	if !ok {
		return
	}
	if ev.HangUp || ev.Err {
		r.failTransfer(fd, errTransferStalled)
		return
	}
	if !ev.Readable {
		return
	}
	buf := make([]byte, readBufSize)
	n, err := t.Conn.Read(buf)
	if err != nil && n == 0 {
		r.failTransfer(fd, err)
		return
	}
	res := t.Readable(buf[:n])
	if res.kind == transferTorrentDone {
		r.xfers.Remove(fd)
		r.metrics.TransfersOpen.Dec()
		r.poller.Deregister(fd)
		t.Conn.Close()
		r.logger.WithDefaultLevel(log.Debug).Printf("rpc: received torrent upload (%s)", humanize.Bytes(uint64(len(res.data))))
		if !r.handle.Send(TorrentMessage(res.data)) {
			r.logger.Levelf(log.Error, "rpc: failed to pass torrent upload to controller")
		}
	}
}

func (r *Reactor) failTransfer(fd int, cause error) {
	t, ok := r.xfers.Remove(fd)
	if !ok {
		return
	}
	r.metrics.TransfersOpen.Dec()
	r.poller.Deregister(fd)
	t.Conn.Close()
	r.notifyTransferFailed(t.ClientID, t.Serial, cause)
}

func (r *Reactor) notifyTransferFailed(clientID, serial string, cause error) {
	r.logger.Levelf(log.Warn, "rpc: transfer for client %q failed: %v", clientID, cause)
	r.sendToClient(clientID, proto.NewTransferFailed(serial, cause.Error()))
}

func (r *Reactor) handleConn(fd int, ev Readiness) {
	c, ok := r.clients[fd]
	if !ok {
		return
	}
	if ev.HangUp || ev.Err {
		r.removeClient(fd)
		return
	}
	if ev.Readable {
		buf := make([]byte, readBufSize)
		n, err := c.Conn.Read(buf)
		if err != nil && n == 0 {
			if !errors.Is(err, io.EOF) {
				r.logger.Levelf(log.Debug, "rpc: client %d read error: %v", fd, err)
			}
			r.removeClient(fd)
			return
		}
		texts, closeReq, err := c.Feed(buf[:n])
		if err != nil {
			r.logger.Levelf(log.Debug, "rpc: client %d protocol error: %v", fd, err)
			r.metrics.ClientErrors.Inc()
			r.removeClient(fd)
			return
		}
		for _, text := range texts {
			r.handleClientText(fd, c, text)
		}
		if closeReq {
			r.removeClient(fd)
			return
		}
	}
	if ev.Writable && c.HasPendingWrite() {
		pending := c.FlushableBytes()
		n, err := c.Conn.Write(pending)
		if n > 0 {
			c.Wrote(n)
		}
		if err != nil {
			r.removeClient(fd)
			return
		}
		if !c.HasPendingWrite() {
			r.poller.Reregister(fd, Readable)
		}
	}
}

// handleClientText decodes and processes one text frame's worth of client
// message, queuing replies and forwarding controller-bound work (§4.6).
func (r *Reactor) handleClientText(fd int, c *Client, text []byte) {
	clientID := strconv.Itoa(fd)
	msg, err := proto.DecodeCMessage(text)
	if err != nil {
		r.logger.Levelf(log.Debug, "rpc: client %d sent an invalid message: %v", fd, err)
		r.metrics.ClientErrors.Inc()
		if encoded, encErr := proto.NewError("", err.Error()).Encode(); encErr != nil {
			r.logger.Levelf(log.Error, "rpc: encode decode-error reply for %d: %v", fd, encErr)
		} else {
			c.QueueText(encoded)
		}
		// Write the ERROR frame out before closing: removeClient discards
		// anything still queued.
		for c.HasPendingWrite() {
			n, werr := c.Conn.Write(c.FlushableBytes())
			c.Wrote(n)
			if werr != nil {
				break
			}
		}
		r.removeClient(fd)
		return
	}
	replies, ctl := r.proc.HandleClient(clientID, msg, r.lookup)
	if msg.Type == proto.CUploadTorrent {
		r.metrics.TokensIssued.Inc()
	}
	if ctl != nil {
		if !r.handle.Send(*ctl) {
			r.logger.Levelf(log.Error, "rpc: failed to pass message to controller")
		}
	}
	for _, reply := range replies {
		encoded, err := reply.Encode()
		if err != nil {
			r.logger.Levelf(log.Error, "rpc: encode reply for %d: %v", fd, err)
			continue
		}
		c.QueueText(encoded)
	}
	if c.HasPendingWrite() {
		if err := r.poller.Reregister(fd, Both); err != nil {
			r.logger.Levelf(log.Error, "rpc: reregister client %d for write: %v", fd, err)
		}
	}
}

// cleanup expires tokens and evicts anything that has gone quiet too long,
// mirroring the source's cleanup timer handler.
func (r *Reactor) cleanup() {
	r.proc.RemoveExpiredTokens()

	now := time.Now()
	for fd, c := range r.clients {
		if c.TimedOut(now, r.idleTimeout) {
			r.logger.WithDefaultLevel(log.Debug).Printf("rpc: client %d timed out", fd)
			r.removeClient(fd)
		}
	}
	for fd, in := range r.incoming {
		if in.TimedOut(now) {
			r.poller.Deregister(fd)
			in.Conn.Close()
			delete(r.incoming, fd)
		}
	}
	for fd, t := range r.xfers.m {
		if t.TimedOut(now) {
			r.failTransfer(fd, errTransferStalled)
		}
	}
}

func (r *Reactor) removeClient(fd int) {
	c, ok := r.clients[fd]
	if !ok {
		return
	}
	delete(r.clients, fd)
	r.proc.RemoveClient(strconv.Itoa(fd))
	r.poller.Deregister(fd)
	c.Conn.Close()
	r.metrics.ClientsConnected.Dec()
}

func (r *Reactor) deregisterAndClose(fd int, conn net.Conn) {
	r.poller.Deregister(fd)
	conn.Close()
}

// Addr returns the listener's bound address, mainly useful in tests that
// bind an ephemeral port (Config.Port == 0).
func (r *Reactor) Addr() net.Addr {
	return r.listener.Addr()
}

// Close tears the reactor down: every tracked socket is deregistered and
// closed, then the poller itself and the listener.
func (r *Reactor) Close() error {
	for fd := range r.clients {
		r.removeClient(fd)
	}
	for fd, in := range r.incoming {
		r.poller.Deregister(fd)
		in.Conn.Close()
		delete(r.incoming, fd)
	}
	for fd, t := range r.xfers.m {
		r.xfers.Remove(fd)
		r.metrics.TransfersOpen.Dec()
		r.poller.Deregister(fd)
		t.Conn.Close()
	}
	r.poller.Deregister(r.lid)
	r.listener.Close()
	return r.poller.Close()
}

// parseClientID is the inverse of strconv.Itoa(fd), the Reactor's client
// id scheme: fds are unique for the lifetime of a connection, the same
// property the source relies on keying its HashMap<usize, Client> on the
// registrar-assigned id.
func parseClientID(id string) (int, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return n, true
}
