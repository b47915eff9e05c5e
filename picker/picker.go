package picker

import (
	g "github.com/anacrolix/generics"

	"github.com/ardenhall/tormenta/bitfield"
)

// CompleteBias is added to a piece's availability (via repeated bumps) once
// it is marked complete, and removed (via repeated drops) if it is later
// invalidated. It must exceed the largest real availability any swarm this
// picker serves will reach; 100 matches what the teacher's source used for
// the same purpose. Compacting the underlying pieces array instead (an
// O(1)-completion alternative the source left as dead code) is not
// implemented here — see the design notes for why.
const CompleteBias = 100

// Picker selects which piece to request next from a peer, preferring the
// piece with the lowest availability across the swarm (rarest-first). It
// is not safe for concurrent use; the owning torrent task serializes
// access the same way the teacher serializes access to request state.
type Picker struct {
	idx     *Index
	seeders map[string]struct{}
}

// New allocates a Picker for a torrent of numPieces pieces. Pieces already
// set in have are immediately marked complete.
func New(numPieces int, have bitfield.Bitfield) *Picker {
	pk := &Picker{
		idx:     newIndex(numPieces),
		seeders: make(map[string]struct{}),
	}
	for p := 0; p < numPieces; p++ {
		pk.idx.bump(uint32(p))
		if have.Has(uint32(p)) {
			pk.MarkComplete(uint32(p))
		}
	}
	return pk
}

// AddPeer records a newly connected peer's contribution to availability.
// Seeders are tracked separately and excluded from the availability
// index entirely. A piece this peer holds has its pending flag cleared:
// a fresh announcement of a piece is grounds to reconsider offering it,
// the same way the original source's parity flip re-armed a piece once
// its availability changed again.
func (pk *Picker) AddPeer(p PeerView) {
	if p.IsSeeder() {
		pk.seeders[p.ID()] = struct{}{}
		return
	}
	n := len(pk.idx.info)
	for i := 0; i < n; i++ {
		if p.HasPiece(PieceIndex(i)) {
			pk.idx.bump(uint32(i))
			pk.idx.info[i].pending = false
		}
	}
}

// RemovePeer reverses the effect of AddPeer for a disconnecting peer.
func (pk *Picker) RemovePeer(p PeerView) {
	if _, ok := pk.seeders[p.ID()]; ok {
		delete(pk.seeders, p.ID())
		return
	}
	n := len(pk.idx.info)
	for i := 0; i < n; i++ {
		if p.HasPiece(PieceIndex(i)) {
			pk.idx.drop(uint32(i))
		}
	}
}

// Pick returns the rarest Incomplete piece peer holds, or ok=false if
// none exists. A piece Pick returns is marked pending and skipped by
// every later call — for any peer, not just this one — until some peer's
// AddPeer reports holding it again or MarkIncomplete reopens it. This
// guarantees consecutive Pick calls against the same peer never repeat a
// piece while a second eligible one remains (§8's invariant), without
// ever touching availability itself the way the original source's
// parity-drop trick did: that mutated the shared bucket count on every
// other pick, so a disconnecting peer's RemovePeer (which always drops
// exactly once per held piece) could no longer undo it exactly, drifting
// availability away from the true peer count and, over a long enough
// swarm lifetime, driving it below the bias floor entirely. Pending is a
// flag orthogonal to availability, so it can never cause either failure.
// Pick does not track in-flight requests: once a piece is no longer
// pending it can be offered again, and avoiding a duplicate request for it
// across peers is the caller's job.
func (pk *Picker) Pick(p PeerView) g.Option[PieceIndex] {
	for _, candidate := range pk.idx.pieces {
		info := &pk.idx.info[candidate]
		if info.status != statusIncomplete {
			continue
		}
		if info.pending {
			continue
		}
		if !p.HasPiece(candidate) {
			continue
		}
		info.pending = true
		return g.Some(candidate)
	}
	return g.None[PieceIndex]()
}

// MarkComplete flags piece p as fully downloaded and verified, pushing it
// past every reachable real availability so Pick never offers it again.
func (pk *Picker) MarkComplete(p PieceIndex) {
	pk.idx.info[p].status = statusComplete
	for i := 0; i < CompleteBias; i++ {
		pk.idx.bump(p)
	}
}

// MarkIncomplete reverses MarkComplete, for a piece that failed
// verification after being reported done. The piece's pending flag is
// cleared along with it so it's immediately eligible for Pick again
// rather than waiting on a fresh AddPeer.
func (pk *Picker) MarkIncomplete(p PieceIndex) {
	pk.idx.info[p].status = statusIncomplete
	pk.idx.info[p].pending = false
	for i := 0; i < CompleteBias; i++ {
		pk.idx.drop(p)
	}
}

// Availability reports p's true (unbiased) availability — the count of
// non-seeder peers known to hold it.
func (pk *Picker) Availability(p PieceIndex) int {
	a := int(pk.idx.availability(p))
	if pk.idx.info[p].status == statusComplete {
		a -= CompleteBias
	}
	return a - 1
}
