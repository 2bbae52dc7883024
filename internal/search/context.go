package search

// Searcher is the reusable scratch memory of one query: its candidate
// offsets and their split into chunks. Plan overwrites both, so a Searcher
// serves queries one at a time and the previous plan must no longer be in
// use when the next one is made.
type Searcher struct {
	Offsets []int
	Chunks  [][]int
}

// NewSearcher creates a Searcher with room for offsets offsets.
func NewSearcher(offsets int) *Searcher {
	return &Searcher{
		Offsets: make([]int, 0, offsets),
		Chunks:  make([][]int, 0, 4),
	}
}

// Plan fills the searcher with the offsets of query split into chunks of at
// most size, and returns the chunks.
func (s *Searcher) Plan(query string, size int) [][]int {
	s.Reset()
	s.Offsets = appendOffsets(s.Offsets, query)
	s.Chunks = appendChunks(s.Chunks, s.Offsets, size)
	return s.Chunks
}

// Reset clears the plan without freeing memory.
func (s *Searcher) Reset() {
	s.Offsets = s.Offsets[:0]
	clear(s.Chunks)
	s.Chunks = s.Chunks[:0]
}
