package rpc

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ardenhall/tormenta/rpc/ws"
)

// incomingTimeout is how long a raw accepted connection has to produce a
// complete request line + headers before the Reactor drops it (§4.4). This
// is deliberately much shorter than Config.IdleTimeout, which bounds an
// already-classified Client's silence, not an unclassified socket's setup.
const incomingTimeout = 5 * time.Second

var (
	errIncomingTimedOut  = errors.New("rpc: incoming connection timed out before a complete request")
	errNoTransferHeaders = errors.New("rpc: transfer request missing Content-Length")
)

// incomingKind tags which FSM outcome advanceIncoming reached.
type incomingKind uint8

const (
	incomingPending incomingKind = iota
	incomingUpgrade
	incomingTransfer
	incomingRejected
)

// incomingResult is the outcome of one readable notification against an
// Incoming connection (§4.4's ReadingRequest -> {UpgradingWS,
// AwaitingTransferBody, Rejected} states).
type incomingResult struct {
	kind incomingKind

	// incomingUpgrade
	handshakeResponse []byte

	// incomingTransfer
	token        string
	contentLen   int64
	initialBody  []byte

	// incomingRejected
	httpStatus int
	err        error
}

// Incoming is a raw TCP connection not yet classified as Client or
// Transfer (§3, §4.4).
type Incoming struct {
	Conn       net.Conn
	Fd         int
	buf        bytes.Buffer
	acceptedAt time.Time
}

// NewIncoming wraps a freshly accepted connection.
func NewIncoming(conn net.Conn, fd int) *Incoming {
	return &Incoming{Conn: conn, Fd: fd, acceptedAt: time.Now()}
}

// TimedOut reports whether this Incoming has outlived incomingTimeout
// without completing its request headers.
func (in *Incoming) TimedOut(now time.Time) bool {
	return now.Sub(in.acceptedAt) > incomingTimeout
}

// Readable appends newly available bytes and re-parses the accumulated
// buffer for a complete request, advancing the FSM described in §4.4.
func (in *Incoming) Readable(chunk []byte) incomingResult {
	in.buf.Write(chunk)
	raw := in.buf.Bytes()

	term := bytes.Index(raw, []byte("\r\n\r\n"))
	if term < 0 {
		return incomingResult{kind: incomingPending}
	}

	if hs, err := ws.ParseHandshake(raw); err == nil {
		return incomingResult{kind: incomingUpgrade, handshakeResponse: hs.Response}
	} else if !errors.Is(err, ws.ErrNotUpgrade) {
		return incomingResult{kind: incomingRejected, httpStatus: 400, err: err}
	}

	return in.parseTransferRequest(raw, term+4)
}

func (in *Incoming) parseTransferRequest(raw []byte, headerEnd int) incomingResult {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return incomingResult{kind: incomingRejected, httpStatus: 400, err: errors.Wrap(err, "rpc: parse transfer request")}
	}
	if req.Method != http.MethodPost || !strings.HasPrefix(req.URL.Path, "/transfer/") {
		return incomingResult{kind: incomingRejected, httpStatus: 400, err: errors.New("rpc: not a recognized request")}
	}
	token := strings.TrimPrefix(req.URL.Path, "/transfer/")
	if token == "" {
		return incomingResult{kind: incomingRejected, httpStatus: 400, err: errors.New("rpc: transfer request missing token")}
	}
	clRaw := req.Header.Get("Content-Length")
	if clRaw == "" {
		return incomingResult{kind: incomingRejected, httpStatus: 400, err: errNoTransferHeaders}
	}
	cl, err := strconv.ParseInt(clRaw, 10, 64)
	if err != nil || cl < 0 {
		return incomingResult{kind: incomingRejected, httpStatus: 400, err: errNoTransferHeaders}
	}
	return incomingResult{
		kind:        incomingTransfer,
		token:       token,
		contentLen:  cl,
		initialBody: append([]byte(nil), raw[headerEnd:]...),
	}
}
