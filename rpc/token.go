package rpc

import (
	"time"

	"github.com/anacrolix/sync"
	"github.com/google/uuid"
)

// TransferKind identifies what an upload token authorizes.
type TransferKind uint8

const (
	TransferUploadTorrent TransferKind = iota
)

type tokenEntry struct {
	clientID string
	serial   string
	kind     TransferKind
	expiry   time.Time
}

// tokenTable is the Processor's single-use, expiring token store (§3's
// `tokens` map, §4.6 `get_transfer`/`remove_expired_tokens`). Guarded by a
// mutex rather than left to the Reactor's single-threadedness alone,
// because unit tests drive the Processor directly, outside the Reactor,
// per §9's "pure function of state+message" guidance.
type tokenTable struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]tokenEntry
}

func newTokenTable(ttl time.Duration) *tokenTable {
	return &tokenTable{ttl: ttl, m: make(map[string]tokenEntry)}
}

// issue mints a fresh single-use token for clientID, returning the token
// string and its expiry instant.
func (t *tokenTable) issue(clientID, serial string, kind TransferKind) (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	token := uuid.NewString()
	expiry := time.Now().Add(t.ttl)
	t.m[token] = tokenEntry{clientID: clientID, serial: serial, kind: kind, expiry: expiry}
	return token, expiry
}

// consume looks up and removes token, the single-use semantics §3
// requires. ok is false for an unknown, expired, or already-consumed
// token.
func (t *tokenTable) consume(token string) (clientID, serial string, kind TransferKind, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, found := t.m[token]
	if !found {
		return "", "", 0, false
	}
	delete(t.m, token)
	if time.Now().After(entry.expiry) {
		return "", "", 0, false
	}
	return entry.clientID, entry.serial, entry.kind, true
}

// removeExpired drops every token past its expiry, run on the cleanup
// tick (§4.5, §4.7).
func (t *tokenTable) removeExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tok, entry := range t.m {
		if now.After(entry.expiry) {
			delete(t.m, tok)
		}
	}
}

// removeForClient drops every outstanding token belonging to clientID, on
// client disconnect (§4.6 remove_client).
func (t *tokenTable) removeForClient(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tok, entry := range t.m {
		if entry.clientID == clientID {
			delete(t.m, tok)
		}
	}
}
