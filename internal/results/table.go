// Package results holds the per-query earliest-match table.
//
// The table has one entry per trie node id. During a query, traversals
// running on many goroutines call Record; afterwards a single goroutine reads
// the discovery list and releases exactly the entries that were touched, so
// the next query starts clean without sweeping the whole table.
package results

import (
	"math/bits"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/hupe1980/phrasetrie/internal/arena"
)

// Unset marks an entry with no match in the current query.
const Unset = -1

// DefaultStripes is the default number of lock stripes.
const DefaultStripes = 64

// Entry is the earliest occurrence of one phrase in the current query.
type Entry struct {
	Start int // absolute offset in the query, or Unset
	End   int // match length relative to Start
}

// Match is a discovered entry together with its node id.
type Match struct {
	Node  arena.NodeID
	Start int
	End   int
}

type stripe struct {
	sync.Mutex
	_ cpu.CacheLinePad
}

// Table is the result table plus its discovery list.
type Table struct {
	entries []Entry
	stripes []stripe
	mask    uint32

	listMu     sync.Mutex
	discovered []arena.NodeID
}

// New creates a table for capacity node ids using the given number of lock
// stripes, rounded up to a power of two.
func New(capacity, stripes int) *Table {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	n := 1 << bits.Len(uint(stripes-1))

	t := &Table{
		stripes:    make([]stripe, n),
		mask:       uint32(n - 1), //nolint:gosec // n is a small power of two
		discovered: make([]arena.NodeID, 0, 128),
	}
	t.EnsureCapacity(capacity)

	return t
}

// EnsureCapacity grows the table to hold ids < capacity.
// It must not run concurrently with Record.
func (t *Table) EnsureCapacity(capacity int) {
	if capacity <= len(t.entries) {
		return
	}

	newCap := max(capacity, len(t.entries)*2)
	grown := make([]Entry, newCap)
	copy(grown, t.entries)
	for i := len(t.entries); i < newCap; i++ {
		grown[i] = Entry{Start: Unset}
	}
	t.entries = grown
}

// Capacity returns the number of ids the table can hold.
func (t *Table) Capacity() int {
	return len(t.entries)
}

// Stripes returns the number of lock stripes.
func (t *Table) Stripes() int {
	return len(t.stripes)
}

// Record offers a match of length end starting at start for node id. The
// entry keeps the smallest start seen in the current query. It returns true
// if the entry changed. The first Unset→set transition appends id to the
// discovery list, exactly once.
func (t *Table) Record(id arena.NodeID, start, end int) bool {
	s := &t.stripes[uint32(id)&t.mask]

	s.Lock()
	e := &t.entries[id]
	if e.Start != Unset && start >= e.Start {
		s.Unlock()
		return false
	}
	first := e.Start == Unset
	e.Start = start
	e.End = end
	s.Unlock()

	if first {
		t.listMu.Lock()
		t.discovered = append(t.discovered, id)
		t.listMu.Unlock()
	}

	return true
}

// Entry returns the entry of id. Only call it once all traversals of the
// current query have finished.
func (t *Table) Entry(id arena.NodeID) Entry {
	return t.entries[id]
}

// Discovered returns the discovery list of the current query. The slice is
// owned by the table and is valid until Reset.
func (t *Table) Discovered() []arena.NodeID {
	return t.discovered
}

// Len returns the number of distinct matches in the current query.
func (t *Table) Len() int {
	return len(t.discovered)
}

// Release resets the entry of id to Unset.
func (t *Table) Release(id arena.NodeID) {
	t.entries[id] = Entry{Start: Unset}
}

// Reset releases every discovered entry and empties the discovery list.
func (t *Table) Reset() {
	for _, id := range t.discovered {
		t.entries[id] = Entry{Start: Unset}
	}
	t.discovered = t.discovered[:0]
}

// Matches returns the discovered entries in discovery order.
func (t *Table) Matches() []Match {
	out := make([]Match, len(t.discovered))
	for i, id := range t.discovered {
		e := t.entries[id]
		out[i] = Match{Node: id, Start: e.Start, End: e.End}
	}
	return out
}
