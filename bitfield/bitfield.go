// Package bitfield provides the compact piece-set representation the
// picker takes for the local node's initial pieces. It is a thin wrapper
// over roaring.Bitmap — the same structure the teacher repo uses for its
// own peer-pieces and pending-pieces sets — rather than a hand-rolled
// []uint64.
package bitfield

import "github.com/RoaringBitmap/roaring"

// Bitfield reports which pieces of a fixed-size torrent a peer (or the
// local node) possesses.
type Bitfield struct {
	bits *roaring.Bitmap
}

// New returns an empty Bitfield.
func New() Bitfield {
	return Bitfield{bits: roaring.New()}
}

// FromBools builds a Bitfield from a bit-per-piece slice, the shape tests
// construct values in.
func FromBools(have []bool) Bitfield {
	bm := roaring.New()
	for i, v := range have {
		if v {
			bm.Add(uint32(i))
		}
	}
	return Bitfield{bits: bm}
}

// Set marks piece p as possessed.
func (b Bitfield) Set(p uint32) { b.bits.Add(p) }

// Clear marks piece p as not possessed.
func (b Bitfield) Clear(p uint32) { b.bits.Remove(p) }

// Has reports whether piece p is possessed.
func (b Bitfield) Has(p uint32) bool { return b.bits.Contains(p) }

// Len reports how many pieces are set.
func (b Bitfield) Len() int { return int(b.bits.GetCardinality()) }

// IsComplete reports whether every piece in [0, numPieces) is set — a
// seeder test. The picker itself asks PeerView.IsSeeder instead.
func (b Bitfield) IsComplete(numPieces int) bool {
	for p := 0; p < numPieces; p++ {
		if !b.bits.Contains(uint32(p)) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy; peer bitfields are mutated in place by
// incremental HAVE updates, so callers that need a snapshot (a completion
// check taken at add_peer time, say) must clone first.
func (b Bitfield) Clone() Bitfield {
	return Bitfield{bits: b.bits.Clone()}
}
