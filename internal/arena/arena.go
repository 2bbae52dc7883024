package arena

import (
	"errors"
	"fmt"
	"math"
)

// NodeID is a dense, stable identifier for a trie node.
// Ids are never reused, not even after the phrase that created them is deleted.
type NodeID uint32

const (
	// NullID is the reserved "no node" id.
	NullID NodeID = 0
	// RootID is the id of the root node.
	RootID NodeID = 1
)

var (
	// ErrCapacityExceeded is returned when the arena holds MaxNodes nodes.
	ErrCapacityExceeded = errors.New("arena: capacity exceeded")
	// ErrOutOfRange is returned for a byte outside the configured alphabet.
	ErrOutOfRange = errors.New("arena: byte outside alphabet")
	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = errors.New("arena: invalid config")
)

const (
	// DefaultMaxNodes bounds the number of nodes, root included.
	DefaultMaxNodes = 4_000_000
	// DefaultAlphabetFirst is the lowest accepted byte (space).
	DefaultAlphabetFirst = 0x20
	// DefaultAlphabetSize covers 0x20..0xFF.
	DefaultAlphabetSize = 256 - DefaultAlphabetFirst
	// DefaultDenseDepth: nodes shallower than this may get dense storage.
	DefaultDenseDepth = 8
	// DefaultDenseSlots is the dense slot budget for the whole arena.
	DefaultDenseSlots = 65_536
)

// Config holds the compiled-in limits of the store.
type Config struct {
	// MaxNodes is the maximum number of nodes, including the root.
	MaxNodes int
	// AlphabetFirst and AlphabetSize define the accepted byte range
	// [AlphabetFirst, AlphabetFirst+AlphabetSize).
	AlphabetFirst byte
	AlphabetSize  int
	// DenseDepth is the depth threshold: only nodes with depth < DenseDepth
	// are candidates for dense child storage.
	DenseDepth int
	// DenseSlots is the number of dense child arrays the store may hand out.
	DenseSlots int
	// SlabSlots is the number of dense slots per backing allocation.
	// If 0, DefaultSlabSlots is used.
	SlabSlots int
}

// DefaultConfig returns the default store limits.
func DefaultConfig() Config {
	return Config{
		MaxNodes:      DefaultMaxNodes,
		AlphabetFirst: DefaultAlphabetFirst,
		AlphabetSize:  DefaultAlphabetSize,
		DenseDepth:    DefaultDenseDepth,
		DenseSlots:    DefaultDenseSlots,
		SlabSlots:     DefaultSlabSlots,
	}
}

// Validate reports whether the config can back a store.
func (c Config) Validate() error {
	switch {
	case c.MaxNodes < 1 || c.MaxNodes > math.MaxUint32-1:
		return fmt.Errorf("%w: max nodes %d", ErrInvalidConfig, c.MaxNodes)
	case c.AlphabetSize < 1 || int(c.AlphabetFirst)+c.AlphabetSize > 256:
		return fmt.Errorf("%w: alphabet [%d,+%d)", ErrInvalidConfig, c.AlphabetFirst, c.AlphabetSize)
	case c.DenseDepth < 0:
		return fmt.Errorf("%w: dense depth %d", ErrInvalidConfig, c.DenseDepth)
	case c.DenseSlots < 0:
		return fmt.Errorf("%w: dense slots %d", ErrInvalidConfig, c.DenseSlots)
	}
	return nil
}

type childKind uint8

const (
	kindLeaf childKind = iota // no children yet, representation undecided
	kindDense
	kindSparse
)

type node struct {
	terminal bool
	kind     childKind
	depth    int32
	dense    []NodeID
	sparse   *sparseChildren
}

// Stats tracks store usage.
type Stats struct {
	Nodes               int // nodes allocated, root included
	Capacity            int // MaxNodes
	DenseNodes          int
	SparseNodes         int
	DenseSlotsUsed      int
	DenseSlotsRemaining int
	// MissedDense counts nodes that qualified by depth but found the dense
	// budget exhausted.
	MissedDense int
	Slabs       int
}

// Store is the node arena.
type Store struct {
	cfg   Config
	nodes []node // index is the NodeID; nodes[0] is the null slot
	slabs slabAllocator

	denseNodes  int
	sparseNodes int
	missedDense int
}

// New creates a store holding only the root node.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:   cfg,
		nodes: make([]node, 2, min(cfg.MaxNodes+1, 4096)),
		slabs: newSlabAllocator(cfg.AlphabetSize, cfg.DenseSlots, cfg.SlabSlots),
	}

	return s, nil
}

// Config returns the store's configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Len returns one past the highest allocated id. Every valid id is < Len().
func (s *Store) Len() int {
	return len(s.nodes)
}

// Remaining returns how many more nodes the store can allocate.
func (s *Store) Remaining() int {
	return s.cfg.MaxNodes - (len(s.nodes) - 1)
}

// InAlphabet reports whether b is inside the accepted byte range.
func (s *Store) InAlphabet(b byte) bool {
	return b >= s.cfg.AlphabetFirst && int(b-s.cfg.AlphabetFirst) < s.cfg.AlphabetSize
}

// CreateNode allocates a detached node with the given depth.
func (s *Store) CreateNode(depth int) (NodeID, error) {
	if len(s.nodes)-1 >= s.cfg.MaxNodes {
		return NullID, ErrCapacityExceeded
	}

	id := NodeID(len(s.nodes)) //nolint:gosec // bounded by MaxNodes
	s.nodes = append(s.nodes, node{depth: int32(min(depth, math.MaxInt32))}) //nolint:gosec // clamped

	return id, nil
}

// Child returns the child of id reached by b, or NullID. It never allocates.
func (s *Store) Child(id NodeID, b byte) NodeID {
	n := &s.nodes[id]

	switch n.kind {
	case kindDense:
		if !s.InAlphabet(b) {
			return NullID
		}
		return n.dense[b-s.cfg.AlphabetFirst]
	case kindSparse:
		return n.sparse.get(b)
	default:
		return NullID
	}
}

// GetOrCreateChild returns the child of parent reached by b, creating it if
// needed. On first child creation the parent's representation is frozen.
func (s *Store) GetOrCreateChild(parent NodeID, b byte) (NodeID, error) {
	if !s.InAlphabet(b) {
		return NullID, fmt.Errorf("%w: 0x%02x", ErrOutOfRange, b)
	}

	if id := s.Child(parent, b); id != NullID {
		return id, nil
	}

	// Fail before freezing so a full arena leaves the parent untouched.
	if len(s.nodes)-1 >= s.cfg.MaxNodes {
		return NullID, ErrCapacityExceeded
	}

	if s.nodes[parent].kind == kindLeaf {
		s.freeze(parent)
	}

	id, err := s.CreateNode(int(s.nodes[parent].depth) + 1)
	if err != nil {
		return NullID, err
	}

	// Re-index: CreateNode may have grown s.nodes.
	p := &s.nodes[parent]
	if p.kind == kindDense {
		p.dense[b-s.cfg.AlphabetFirst] = id
	} else {
		p.sparse.insert(b, id)
	}

	return id, nil
}

// freeze picks the child representation of a node about to get its first child.
func (s *Store) freeze(id NodeID) {
	n := &s.nodes[id]

	if int(n.depth) < s.cfg.DenseDepth {
		if slot := s.slabs.alloc(); slot != nil {
			n.kind = kindDense
			n.dense = slot
			s.denseNodes++
			return
		}
		s.missedDense++
	}

	n.kind = kindSparse
	n.sparse = newSparseChildren()
	s.sparseNodes++
}

// Terminal reports whether id ends an active phrase.
func (s *Store) Terminal(id NodeID) bool {
	return s.nodes[id].terminal
}

// SetTerminal sets or clears the terminal flag of id.
func (s *Store) SetTerminal(id NodeID, terminal bool) {
	s.nodes[id].terminal = terminal
}

// Depth returns the distance of id from the root.
func (s *Store) Depth(id NodeID) int {
	return int(s.nodes[id].depth)
}

// IsDense reports whether id uses dense child storage.
func (s *Store) IsDense(id NodeID) bool {
	return s.nodes[id].kind == kindDense
}

// IsSparse reports whether id uses sparse child storage.
func (s *Store) IsSparse(id NodeID) bool {
	return s.nodes[id].kind == kindSparse
}

// ChildCount returns the number of children of id.
func (s *Store) ChildCount(id NodeID) int {
	n := &s.nodes[id]

	switch n.kind {
	case kindDense:
		count := 0
		for _, c := range n.dense {
			if c != NullID {
				count++
			}
		}
		return count
	case kindSparse:
		return n.sparse.len()
	default:
		return 0
	}
}

// EachChild calls fn for every child of id in byte order until fn returns
// false.
func (s *Store) EachChild(id NodeID, fn func(b byte, child NodeID) bool) {
	n := &s.nodes[id]

	switch n.kind {
	case kindDense:
		for i, c := range n.dense {
			if c != NullID && !fn(s.cfg.AlphabetFirst+byte(i), c) { //nolint:gosec // i < AlphabetSize
				return
			}
		}
	case kindSparse:
		n.sparse.each(fn)
	}
}

// Stats returns a snapshot of store usage.
func (s *Store) Stats() Stats {
	return Stats{
		Nodes:               len(s.nodes) - 1,
		Capacity:            s.cfg.MaxNodes,
		DenseNodes:          s.denseNodes,
		SparseNodes:         s.sparseNodes,
		DenseSlotsUsed:      s.slabs.used,
		DenseSlotsRemaining: s.slabs.remaining,
		MissedDense:         s.missedDense,
		Slabs:               s.slabs.nSlb,
	}
}
