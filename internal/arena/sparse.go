package arena

import (
	"slices"

	"github.com/bits-and-blooms/bitset"
)

// sparseChildren is a popcount-compressed child map: a 256-bit presence set
// plus the child ids of the set bits, in byte order. The id for byte b lives
// at index rank(b)-1.
type sparseChildren struct {
	present *bitset.BitSet
	ids     []NodeID
}

func newSparseChildren() *sparseChildren {
	return &sparseChildren{
		present: bitset.New(256),
	}
}

func (s *sparseChildren) get(b byte) NodeID {
	if !s.present.Test(uint(b)) {
		return NullID
	}
	return s.ids[s.present.Rank(uint(b))-1]
}

// insert links b to id. The caller guarantees b is not present.
func (s *sparseChildren) insert(b byte, id NodeID) {
	s.present.Set(uint(b))
	i := int(s.present.Rank(uint(b))) - 1
	s.ids = slices.Insert(s.ids, i, id)
}

func (s *sparseChildren) each(fn func(b byte, id NodeID) bool) {
	k := 0
	for b, ok := s.present.NextSet(0); ok; b, ok = s.present.NextSet(b + 1) {
		if !fn(byte(b), s.ids[k]) { //nolint:gosec // b < 256
			return
		}
		k++
	}
}

func (s *sparseChildren) len() int {
	return len(s.ids)
}
