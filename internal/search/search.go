// Package search runs the multi-origin phrase search.
//
// A query is decomposed into candidate start offsets: 0 and every position
// right after a space. Each offset gets an independent trie descent. The
// descents share only the result table, which keeps the earliest start per
// phrase, so the outcome does not depend on how they are scheduled.
package search

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/phrasetrie/internal/arena"
	"github.com/hupe1980/phrasetrie/internal/lexicon"
	"github.com/hupe1980/phrasetrie/internal/results"
)

// DefaultChunkSize is the number of offsets one goroutine handles per task.
const DefaultChunkSize = 64

// Options configures an Engine.
type Options struct {
	// Workers bounds the goroutines of one query. If <= 0, GOMAXPROCS is used.
	Workers int
	// ChunkSize is the number of offsets per task. If <= 0, DefaultChunkSize.
	ChunkSize int
	// PrefixMatches also reports phrases that end inside a longer token.
	// By default a match must end on a space or at the end of the query.
	PrefixMatches bool
}

// Engine searches one lexicon and records into one table.
// The lexicon must not be mutated while Search runs, and queries are run
// one at a time.
type Engine struct {
	lex       *lexicon.Lexicon
	tbl       *results.Table
	workers   int
	chunkSize int
	prefix    bool
	scratch   *Searcher
}

// New creates an engine.
func New(lex *lexicon.Lexicon, tbl *results.Table, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Engine{
		lex:       lex,
		tbl:       tbl,
		workers:   opts.Workers,
		chunkSize: opts.ChunkSize,
		prefix:    opts.PrefixMatches,
		scratch:   NewSearcher(64),
	}
}

// Table returns the result table the engine records into.
func (e *Engine) Table() *results.Table {
	return e.tbl
}

// Workers returns the fan-out width.
func (e *Engine) Workers() int {
	return e.workers
}

// ChunkSize returns the number of offsets per task.
func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// Offsets returns the candidate start offsets of query in ascending order.
func Offsets(query string) []int {
	if len(query) == 0 {
		return nil
	}
	return appendOffsets(make([]int, 0, 16), query)
}

func appendOffsets(dst []int, query string) []int {
	if len(query) == 0 {
		return dst
	}

	dst = append(dst, 0)
	for i := 0; i < len(query)-1; i++ {
		if query[i] == ' ' {
			dst = append(dst, i+1)
		}
	}

	return dst
}

// Chunks splits offsets into consecutive groups of at most size.
func Chunks(offsets []int, size int) [][]int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return appendChunks(make([][]int, 0, (len(offsets)+size-1)/size), offsets, size)
}

func appendChunks(dst [][]int, offsets []int, size int) [][]int {
	if size <= 0 {
		size = DefaultChunkSize
	}

	for len(offsets) > 0 {
		n := min(size, len(offsets))
		dst = append(dst, offsets[:n:n])
		offsets = offsets[n:]
	}

	return dst
}

// Plan returns the chunks of query's offsets and the offset count. The
// chunks live in the engine's scratch memory and stay valid until the next
// call to Plan or Search.
func (e *Engine) Plan(query string) ([][]int, int) {
	chunks := e.scratch.Plan(query, e.chunkSize)
	return chunks, len(e.scratch.Offsets)
}

// Prepare sizes the table for the current lexicon. Call it before launching
// traversals, from the goroutine that owns the query.
func (e *Engine) Prepare() {
	e.tbl.EnsureCapacity(e.lex.Capacity())
}

// SearchFrom descends the trie with query[start:], recording every active
// phrase that ends on a boundary (a space or the end of the query). Recorded
// offsets are absolute positions in query.
func (e *Engine) SearchFrom(query string, start int) {
	id := e.lex.Root()

	for i := start; i < len(query); i++ {
		if i > start && (query[i] == ' ' || e.prefix) && e.lex.Terminal(id) {
			e.tbl.Record(id, start, i-start)
		}

		id = e.lex.Step(id, query[i])
		if id == arena.NullID {
			return
		}
	}

	if e.lex.Terminal(id) && len(query) > start {
		e.tbl.Record(id, start, len(query)-start)
	}
}

// SearchChunk runs SearchFrom for every offset in chunk.
func (e *Engine) SearchChunk(query string, chunk []int) {
	for _, off := range chunk {
		e.SearchFrom(query, off)
	}
}

// Search runs all traversals of query and waits for them. It returns the
// number of offsets searched. The only error is a context cancelled before
// the traversals were launched; running traversals are never interrupted.
func (e *Engine) Search(ctx context.Context, query string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.Prepare()

	chunks, n := e.Plan(query)

	if len(chunks) <= 1 || e.workers == 1 {
		for _, c := range chunks {
			e.SearchChunk(query, c)
		}
		return n, nil
	}

	var g errgroup.Group
	g.SetLimit(e.workers)

	for _, c := range chunks {
		g.Go(func() error {
			e.SearchChunk(query, c)
			return nil
		})
	}

	return n, g.Wait()
}
