package arena

// DefaultSlabSlots is the number of dense child slots carved out of one
// backing allocation.
const DefaultSlabSlots = 1024

// slabAllocator hands out fixed-width dense child slots from chunked
// backing slices. Slots are never returned; the budget only shrinks.
type slabAllocator struct {
	width     int
	slabSlots int
	remaining int
	used      int

	cur  []NodeID // unused tail of the current slab
	nSlb int
}

func newSlabAllocator(width, budget, slabSlots int) slabAllocator {
	if slabSlots <= 0 {
		slabSlots = DefaultSlabSlots
	}
	return slabAllocator{
		width:     width,
		slabSlots: slabSlots,
		remaining: budget,
	}
}

// alloc returns a zeroed slot of width entries, or nil once the budget is
// exhausted.
func (s *slabAllocator) alloc() []NodeID {
	if s.remaining <= 0 {
		return nil
	}

	if len(s.cur) < s.width {
		n := min(s.slabSlots, s.remaining)
		s.cur = make([]NodeID, n*s.width)
		s.nSlb++
	}

	slot := s.cur[:s.width:s.width]
	s.cur = s.cur[s.width:]
	s.remaining--
	s.used++

	return slot
}
