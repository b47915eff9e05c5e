// Package picker implements rarest-first piece selection: an
// availability-ordered index with O(1) maintenance under peer churn, and
// a picker built on top of it. It is ported from the teacher's
// request-ordering code, generalized from "peers queued by request count"
// to "pieces queued by peer availability" — same bucket-swap technique,
// different key.
package picker

// PieceIndex identifies a piece by its position in the torrent's piece
// list, independent of its current bucket position in an Index.
type PieceIndex = uint32

// pieceStatus tracks whether a piece still needs downloading.
type pieceStatus uint8

const (
	statusIncomplete pieceStatus = iota
	statusComplete
)

// pieceInfo is the per-piece record, indexed by piece id.
type pieceInfo struct {
	position     uint32 // current index into Index.pieces
	availability uint32 // +1-biased count of non-seeder peers holding this piece
	status       pieceStatus
	pending      bool // returned by Pick since its last fresh AddPeer bump
}

// Index is the availability-ordered structure from
// http://blog.libtorrent.org/2011/11/writing-a-fast-piece-picker/: a flat
// array of piece ids partitioned into contiguous buckets by availability,
// with O(1) bump/drop via a single swap plus a boundary-pointer update.
//
// Invariants (enforced after every bump/drop):
//  1. pieces[info[p].position] == p for every piece p.
//  2. pieces[priorities[a]:priorities[a+1]] holds exactly the pieces at
//     availability a+1.
type Index struct {
	pieces     []uint32
	priorities []uint32
	info       []pieceInfo
}

// newIndex allocates an Index for n pieces, all starting at availability 0
// (the caller, Picker.New, immediately bumps every piece once to apply the
// +1 bias described in §3.3).
func newIndex(n int) *Index {
	pieces := make([]uint32, n)
	info := make([]pieceInfo, n)
	for i := range pieces {
		pieces[i] = uint32(i)
		info[i] = pieceInfo{position: uint32(i)}
	}
	return &Index{
		pieces:     pieces,
		priorities: []uint32{uint32(n)},
		info:       info,
	}
}

// swap exchanges the pieces at positions a and b, fixing up both sides'
// position bookkeeping. a and b may be equal, in which case this is a
// no-op.
func (ix *Index) swap(a, b uint32) {
	ix.info[ix.pieces[a]].position = b
	ix.info[ix.pieces[b]].position = a
	ix.pieces[a], ix.pieces[b] = ix.pieces[b], ix.pieces[a]
}

// bump increases p's availability by one: shrink bucket a from its right
// edge (its boundary with bucket a+1) and grow bucket a+1 correspondingly
// (§4.1).
func (ix *Index) bump(p uint32) {
	info := &ix.info[p]
	a := info.availability
	ix.priorities[a]--
	info.availability = a + 1
	if uint32(len(ix.priorities)) == info.availability {
		ix.priorities = append(ix.priorities, uint32(len(ix.pieces)))
	}
	pos := info.position
	ix.swap(pos, ix.priorities[info.availability-1])
}

// drop decreases p's availability by one, the inverse of bump. Calling
// drop on a piece at availability 0 is a contract violation (§7,
// Invariant).
//
// The boundary being widened (priorities[a-1]) must be read before it is
// incremented: dropping grows bucket a-1 by absorbing the position that
// bucket a currently starts at, so that old value — not the post-increment
// one — is where p lands. (bump is the mirror image but doesn't have this
// wrinkle: it shrinks bucket a from the right, and the freshly-decremented
// boundary IS the freed slot, so reading it post-decrement is correct
// there.)
func (ix *Index) drop(p uint32) {
	info := &ix.info[p]
	if info.availability == 0 {
		panic("picker: drop called at availability 0")
	}
	a := info.availability
	target := ix.priorities[a-1]
	ix.priorities[a-1]++
	info.availability = a - 1
	pos := info.position
	ix.swap(pos, target)
}

// availability returns p's current biased availability; Picker.Availability
// removes the biases from it.
func (ix *Index) availability(p uint32) uint32 {
	return ix.info[p].availability
}
