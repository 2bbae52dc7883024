package arena

import (
	"errors"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxNodes = 64
	cfg.DenseDepth = 2
	cfg.DenseSlots = 2
	cfg.SlabSlots = 1
	return cfg
}

func TestStore_New(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		s, err := New(DefaultConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Len() != 2 {
			t.Errorf("expected Len=2 (null + root), got %d", s.Len())
		}
		if s.Stats().Nodes != 1 {
			t.Errorf("expected 1 node, got %d", s.Stats().Nodes)
		}
	})

	t.Run("invalid configs", func(t *testing.T) {
		bad := []Config{
			{MaxNodes: 0, AlphabetSize: 10},
			{MaxNodes: 10, AlphabetSize: 0},
			{MaxNodes: 10, AlphabetFirst: 0xF0, AlphabetSize: 32},
			{MaxNodes: 10, AlphabetSize: 10, DenseDepth: -1},
			{MaxNodes: 10, AlphabetSize: 10, DenseSlots: -1},
		}
		for i, cfg := range bad {
			if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("config %d: expected ErrInvalidConfig, got %v", i, err)
			}
		}
	})
}

func TestStore_Ids(t *testing.T) {
	s, _ := New(testConfig())

	a, err := s.GetOrCreateChild(RootID, 'a')
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := s.GetOrCreateChild(a, 'b')
	c, _ := s.GetOrCreateChild(RootID, 'c')

	if a != 2 || b != 3 || c != 4 {
		t.Errorf("expected ids 2,3,4, got %d,%d,%d", a, b, c)
	}

	again, _ := s.GetOrCreateChild(RootID, 'a')
	if again != a {
		t.Errorf("expected existing child %d, got %d", a, again)
	}
	if s.Child(RootID, 'a') != a {
		t.Error("Child should find existing node")
	}
	if s.Child(RootID, 'z') != NullID {
		t.Error("Child should return NullID for missing byte")
	}
	if s.Depth(b) != 2 {
		t.Errorf("expected depth 2, got %d", s.Depth(b))
	}
}

func TestStore_Representation(t *testing.T) {
	t.Run("depth threshold", func(t *testing.T) {
		s, _ := New(testConfig())

		n1, _ := s.GetOrCreateChild(RootID, 'a') // root: depth 0 -> dense
		n2, _ := s.GetOrCreateChild(n1, 'b')     // n1: depth 1 -> dense
		_, _ = s.GetOrCreateChild(n2, 'c')       // n2: depth 2 -> sparse

		if !s.IsDense(RootID) || !s.IsDense(n1) {
			t.Error("shallow nodes should be dense")
		}
		if !s.IsSparse(n2) {
			t.Error("node at threshold depth should be sparse")
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		cfg := testConfig()
		cfg.DenseSlots = 1
		s, _ := New(cfg)

		n1, _ := s.GetOrCreateChild(RootID, 'a')
		_, _ = s.GetOrCreateChild(n1, 'b')

		if !s.IsDense(RootID) {
			t.Error("root should take the only dense slot")
		}
		if !s.IsSparse(n1) {
			t.Error("n1 should fall back to sparse")
		}
		st := s.Stats()
		if st.MissedDense != 1 || st.DenseSlotsRemaining != 0 {
			t.Errorf("unexpected stats: %+v", st)
		}
	})

	t.Run("frozen after first child", func(t *testing.T) {
		s, _ := New(testConfig())
		n1, _ := s.GetOrCreateChild(RootID, 'a')
		_, _ = s.GetOrCreateChild(n1, 'x')
		wasDense := s.IsDense(n1)

		for _, b := range []byte("yz ~") {
			if _, err := s.GetOrCreateChild(n1, b); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if s.IsDense(n1) != wasDense {
			t.Error("representation changed after first child")
		}
		if s.ChildCount(n1) != 5 {
			t.Errorf("expected 5 children, got %d", s.ChildCount(n1))
		}
	})
}

func TestStore_Sparse(t *testing.T) {
	cfg := testConfig()
	cfg.DenseSlots = 0
	s, _ := New(cfg)

	// Insert out of order to exercise rank placement.
	keys := []byte("zmaq b")
	ids := make(map[byte]NodeID)
	for _, k := range keys {
		id, err := s.GetOrCreateChild(RootID, k)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids[k] = id
	}

	if !s.IsSparse(RootID) {
		t.Fatal("root should be sparse with no dense budget")
	}
	for k, id := range ids {
		if got := s.Child(RootID, k); got != id {
			t.Errorf("byte %q: expected %d, got %d", k, id, got)
		}
	}
	if s.Child(RootID, 'c') != NullID {
		t.Error("missing byte should return NullID")
	}
}

func TestStore_Capacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNodes = 3
	s, _ := New(cfg)

	a, err := s.GetOrCreateChild(RootID, 'a')
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.GetOrCreateChild(a, 'b'); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = s.GetOrCreateChild(RootID, 'c')
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if s.Stats().Nodes != 3 {
		t.Errorf("failed allocation must not change node count, got %d", s.Stats().Nodes)
	}
}

func TestStore_Alphabet(t *testing.T) {
	cfg := testConfig()
	cfg.AlphabetFirst = 'a'
	cfg.AlphabetSize = 26
	s, _ := New(cfg)

	if _, err := s.GetOrCreateChild(RootID, 'A'); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := s.GetOrCreateChild(RootID, 'z'); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if s.Child(RootID, '{') != NullID {
		t.Error("lookup outside alphabet should return NullID")
	}
}

func TestSlabAllocator(t *testing.T) {
	a := newSlabAllocator(4, 5, 2)

	var slots [][]NodeID
	for {
		slot := a.alloc()
		if slot == nil {
			break
		}
		slots = append(slots, slot)
	}

	if len(slots) != 5 {
		t.Fatalf("expected 5 slots, got %d", len(slots))
	}
	if a.nSlb != 3 {
		t.Errorf("expected 3 slabs, got %d", a.nSlb)
	}

	// Slots must not alias each other.
	slots[0][3] = 7
	if slots[1][0] != 0 {
		t.Error("slot writes leaked into the next slot")
	}
	if cap(slots[0]) != 4 {
		t.Errorf("expected capped slot, got cap %d", cap(slots[0]))
	}
}

func BenchmarkStore_Child(b *testing.B) {
	s, _ := New(DefaultConfig())
	id := RootID
	for _, c := range []byte("the quick brown fox") {
		id, _ = s.GetOrCreateChild(id, c)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := RootID
		for _, c := range []byte("the quick brown fox") {
			id = s.Child(id, c)
		}
	}
}

func TestStore_EachChild(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	mustChild := func(parent NodeID, b byte) NodeID {
		t.Helper()
		id, err := s.GetOrCreateChild(parent, b)
		if err != nil {
			t.Fatal(err)
		}
		return id
	}

	c := mustChild(RootID, 'c')
	a := mustChild(RootID, 'a')
	ab := mustChild(a, 'b')
	mustChild(a, 'z')
	y := mustChild(ab, 'y')
	x := mustChild(ab, 'x')

	collect := func(id NodeID) (string, []NodeID) {
		var bs []byte
		var ids []NodeID
		s.EachChild(id, func(b byte, child NodeID) bool {
			bs = append(bs, b)
			ids = append(ids, child)
			return true
		})
		return string(bs), ids
	}

	if got, ids := collect(RootID); got != "ac" || ids[0] != a || ids[1] != c {
		t.Errorf("root children = %q %v", got, ids)
	}
	if got, _ := collect(a); got != "bz" {
		t.Errorf("children of a = %q", got)
	}
	if !s.IsSparse(ab) {
		t.Fatalf("expected depth-2 node to be sparse")
	}
	if got, ids := collect(ab); got != "xy" || ids[0] != x || ids[1] != y {
		t.Errorf("sparse children = %q %v", got, ids)
	}
	if got, _ := collect(x); got != "" {
		t.Errorf("leaf children = %q", got)
	}

	visited := 0
	s.EachChild(RootID, func(byte, NodeID) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("early stop visited %d children", visited)
	}
}
