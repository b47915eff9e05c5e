package rpc

import (
	"net"
	"time"

	"golang.org/x/time/rate"
)

// transferTimeout bounds how long a Transfer may go without progress
// before the cleanup tick reports it stalled (§4.5).
const transferTimeout = 30 * time.Second

// transferResultKind tags a Transfer.Readable outcome.
type transferResultKind uint8

const (
	transferIncomplete transferResultKind = iota
	transferTorrentDone
	transferError
)

type transferResult struct {
	kind transferResultKind

	data     []byte
	clientID string
	serial   string
	err      error
}

// Transfer is an HTTP body-read-in-progress from a client to the server
// (§3, §4.5): an upload that matched a valid token, now draining its
// declared Content-Length from the socket.
type Transfer struct {
	Conn     net.Conn
	Fd       int
	ClientID string
	Serial   string
	Kind     TransferKind

	remaining int64
	buf       []byte
	limiter   *rate.Limiter

	startedAt    time.Time
	lastProgress time.Time
}

// NewTransfer allocates a Transfer expecting total bytes, already seeded
// with whatever bytes arrived with the original request (§4.4's
// initial_body_slice). limiter may be nil. When it is non-nil, Readable
// charges each chunk's length against it with AllowN; the result is not
// acted on, so reads are never delayed or refused. The Reactor always
// passes nil, and nothing derives a limiter from the throttle fields
// UPDATE_RESOURCE carries.
func NewTransfer(conn net.Conn, fd int, clientID, serial string, kind TransferKind, total int64, initial []byte, limiter *rate.Limiter) *Transfer {
	now := time.Now()
	t := &Transfer{
		Conn:         conn,
		Fd:           fd,
		ClientID:     clientID,
		Serial:       serial,
		Kind:         kind,
		remaining:    total,
		buf:          make([]byte, 0, total),
		limiter:      limiter,
		startedAt:    now,
		lastProgress: now,
	}
	t.ingest(initial)
	return t
}

func (t *Transfer) ingest(chunk []byte) {
	if int64(len(chunk)) > t.remaining {
		chunk = chunk[:t.remaining]
	}
	t.buf = append(t.buf, chunk...)
	t.remaining -= int64(len(chunk))
	if len(chunk) > 0 {
		t.lastProgress = time.Now()
	}
}

// Readable drains newly available bytes read from the socket (the
// Reactor reads into chunk and hands it over) and reports whether the
// transfer completed.
func (t *Transfer) Readable(chunk []byte) transferResult {
	if t.limiter != nil && len(chunk) > 0 {
		t.limiter.AllowN(time.Now(), len(chunk))
	}
	t.ingest(chunk)
	if t.remaining > 0 {
		return transferResult{kind: transferIncomplete}
	}
	return transferResult{kind: transferTorrentDone, data: t.buf, clientID: t.ClientID, serial: t.Serial}
}

// TimedOut reports whether this Transfer has gone transferTimeout without
// receiving new bytes.
func (t *Transfer) TimedOut(now time.Time) bool {
	return now.Sub(t.lastProgress) > transferTimeout
}

// Transfers owns every in-flight Transfer, keyed by the Reactor's
// connection id.
type Transfers struct {
	m map[int]*Transfer
}

// NewTransfers allocates an empty Transfers table.
func NewTransfers() *Transfers {
	return &Transfers{m: make(map[int]*Transfer)}
}

// Add registers a newly started transfer under id.
func (ts *Transfers) Add(id int, t *Transfer) { ts.m[id] = t }

// Get returns the transfer registered under id, if any.
func (ts *Transfers) Get(id int) (*Transfer, bool) {
	t, ok := ts.m[id]
	return t, ok
}

// Remove forgets id, returning the Transfer that was registered there.
func (ts *Transfers) Remove(id int) (*Transfer, bool) {
	t, ok := ts.m[id]
	delete(ts.m, id)
	return t, ok
}

// Contains reports whether id names a live transfer.
func (ts *Transfers) Contains(id int) bool {
	_, ok := ts.m[id]
	return ok
}

// Cleanup reports every stalled transfer as a failure and removes it from
// the table (§4.5, §4.7 step 2).
func (ts *Transfers) Cleanup(now time.Time) []transferResult {
	var stalled []transferResult
	for id, t := range ts.m {
		if t.TimedOut(now) {
			stalled = append(stalled, transferResult{
				kind:     transferError,
				clientID: t.ClientID,
				serial:   t.Serial,
				err:      errTransferStalled,
			})
			delete(ts.m, id)
		}
	}
	return stalled
}

var errTransferStalled = transferStalledError{}

type transferStalledError struct{}

func (transferStalledError) Error() string { return "rpc: transfer stalled" }
