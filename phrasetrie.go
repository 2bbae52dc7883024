package phrasetrie

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/phrasetrie/internal/dictfile"
	"github.com/hupe1980/phrasetrie/internal/dispatch"
	"github.com/hupe1980/phrasetrie/internal/emit"
	"github.com/hupe1980/phrasetrie/internal/lexicon"
	"github.com/hupe1980/phrasetrie/internal/results"
	"github.com/hupe1980/phrasetrie/internal/search"
)

// NoMatch is what QueryString returns for a query without matches.
const NoMatch = "-1"

// Match is one reported phrase: the earliest occurrence of an active phrase
// in the query, at query[Start:End].
type Match struct {
	Phrase string
	Start  int
	End    int
}

// Stats describes an index.
type Stats struct {
	Phrases    int // active phrases
	Tombstones int // deleted phrases whose nodes are kept

	Nodes               int // trie nodes, root included
	MaxNodes            int
	DenseNodes          int
	SparseNodes         int
	DenseSlotsUsed      int
	DenseSlotsRemaining int
	MissedDense         int // nodes that wanted a dense array after the budget ran out

	Inserts     int // accepted inserts
	Deletes     int // successful deletes
	BytesWalked int // bytes consumed by insert and delete walks

	Queries int64 // queries answered, library and protocol
	Offsets int64 // trie traversals started by those queries
	Results int64 // phrases reported by those queries
}

// SessionStats are the counters of one Serve call.
type SessionStats = dispatch.Stats

// Index is a mutable phrase dictionary that reports, for a query line, every
// active phrase starting at a token boundary.
//
// Index is safe for concurrent use. Operations are serialized; a single query
// runs its trie traversals in parallel.
type Index struct {
	mu   sync.Mutex
	opts options
	lex  *lexicon.Lexicon
	eng  *search.Engine

	insertsClosed atomic.Bool
	closed        bool
	sessions      uint64

	queries, offsets, results int64
}

// New creates an empty index.
func New(optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)

	if _, err := dispatch.ParseMode(string(o.mode)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	lex, err := lexicon.New(o.arena, o.maxPhraseLen)
	if err != nil {
		return nil, translateError(err)
	}

	tbl := results.New(lex.Capacity(), o.lockStripes)
	eng := search.New(lex, tbl, search.Options{
		Workers:       o.workers,
		ChunkSize:     o.chunkSize,
		PrefixMatches: o.prefixMatches,
	})

	return &Index{
		opts: o,
		lex:  lex,
		eng:  eng,
	}, nil
}

// Insert adds phrase. Inserting an active phrase again is a no-op.
//
// Insert fails with *InvalidByteError, ErrPhraseTooLong or ErrEmptyPhrase
// without changing the index. Once the node capacity is exhausted it returns
// ErrCapacityExceeded for every further call.
func (ix *Index) Insert(ctx context.Context, phrase string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return ErrClosed
	}

	return ix.insertLocked(ctx, phrase)
}

func (ix *Index) insertLocked(ctx context.Context, phrase string) error {
	if ix.insertsClosed.Load() {
		return ErrCapacityExceeded
	}

	start := time.Now()
	err := translateError(ix.lex.Insert(phrase))
	ix.opts.metricsCollector.RecordInsert(time.Since(start), err)
	ix.opts.logger.LogInsert(ctx, len(phrase), err)

	if errors.Is(err, ErrCapacityExceeded) {
		ix.insertsClosed.Store(true)
	}

	return err
}

// Delete deactivates phrase. It returns ErrNotFound if phrase is not active.
// The nodes of a deleted phrase are kept and reused if it is inserted again.
func (ix *Index) Delete(ctx context.Context, phrase string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return ErrClosed
	}

	start := time.Now()
	err := translateError(ix.lex.Delete(phrase))
	ix.opts.metricsCollector.RecordDelete(time.Since(start), err)
	ix.opts.logger.LogDelete(ctx, len(phrase), err)

	return err
}

// Contains reports whether phrase is active.
func (ix *Index) Contains(phrase string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return !ix.closed && ix.lex.Contains(phrase)
}

// Tombstoned reports whether phrase was deleted and not inserted again.
func (ix *Index) Tombstoned(phrase string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return !ix.closed && ix.lex.Tombstoned(phrase)
}

// TombstonedPhrases returns up to limit deleted phrases whose nodes are
// kept, in byte order. A limit <= 0 returns all of them.
func (ix *Index) TombstonedPhrases(limit int) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	return ix.lex.TombstonedPhrases(limit)
}

// Query returns every active phrase that starts at a token boundary of text,
// each once at its earliest start, ordered by start and then by end.
func (ix *Index) Query(ctx context.Context, text string) ([]Match, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	offsets, err := ix.eng.Search(ctx, text)
	if err != nil {
		ix.opts.logger.LogQuery(ctx, offsets, 0, err)
		return nil, err
	}

	ranked := emit.Rank(ix.eng.Table())
	out := make([]Match, len(ranked))
	for i, m := range ranked {
		out[i] = Match{
			Phrase: text[m.Start : m.Start+m.End],
			Start:  m.Start,
			End:    m.Start + m.End,
		}
	}

	ix.queries++
	ix.offsets += int64(offsets)
	ix.results += int64(len(out))
	ix.opts.metricsCollector.RecordQuery(time.Since(start), offsets, len(out))
	ix.opts.logger.LogQuery(ctx, offsets, len(out), nil)

	return out, nil
}

// QueryString answers text in the wire format: the matched phrases joined by
// '|', or NoMatch.
func (ix *Index) QueryString(ctx context.Context, text string) (string, error) {
	matches, err := ix.Query(ctx, text)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return NoMatch, nil
	}

	phrases := make([]string, len(matches))
	for i, m := range matches {
		phrases[i] = m.Phrase
	}

	return strings.Join(phrases, "|"), nil
}

// Load inserts every non-empty line of r. r may be plain text or a zstd or
// lz4 stream. Lines that are not valid phrases are skipped. Load stops with
// ErrCapacityExceeded when the index is full. It returns the number of
// phrases inserted.
func (ix *Index) Load(ctx context.Context, r io.Reader) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, ErrClosed
	}

	rc, _, err := dictfile.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := ix.loadLocked(ctx, rc)
	ix.opts.logger.LogLoad(ctx, "reader", n, err)

	return n, err
}

// LoadFile is Load for a file.
func (ix *Index) LoadFile(ctx context.Context, path string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, ErrClosed
	}

	rc, _, err := dictfile.Open(path)
	if err != nil {
		ix.opts.logger.LogLoad(ctx, path, 0, err)
		return 0, err
	}
	defer rc.Close()

	n, err := ix.loadLocked(ctx, rc)
	ix.opts.logger.LogLoad(ctx, path, n, err)

	return n, err
}

func (ix *Index) loadLocked(ctx context.Context, r io.Reader) (int, error) {
	inserted := 0
	_, err := dictfile.Each(r, func(phrase string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := ix.insertLocked(ctx, phrase)
		switch {
		case err == nil:
			inserted++
			return nil
		case errors.Is(err, ErrCapacityExceeded):
			return err
		default:
			return nil
		}
	})

	return inserted, err
}

// Serve runs the line protocol on r and w until "F" or end of input.
// The index is locked for the whole session.
func (ix *Index) Serve(ctx context.Context, r io.Reader, w io.Writer) (SessionStats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return SessionStats{}, ErrClosed
	}

	ix.sessions++
	logger := ix.opts.logger.WithSession(ix.sessions)

	h := dispatch.NewHarness(dispatch.Config{
		Mode:          dispatch.Mode(ix.opts.mode),
		Workers:       ix.opts.workers,
		QueueCapacity: ix.opts.queueCapacity,
		BatchSize:     ix.opts.batchSize,
	}, ix.lex, ix.eng, logger.Logger, ix.opts.metricsCollector).WithInsertLatch(&ix.insertsClosed)

	logger.InfoContext(ctx, "session started", "mode", ix.opts.mode)
	st, err := h.Run(ctx, r, w)
	logger.InfoContext(ctx, "session ended",
		"queries", st.Queries,
		"inserts", st.Inserts,
		"deletes", st.Deletes,
		"error", err,
	)

	ix.queries += st.Queries
	ix.offsets += st.Offsets
	ix.results += st.Results

	return st, err
}

// Stats returns a snapshot of the index counters.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ls := ix.lex.Stats()

	return Stats{
		Phrases:             ls.Phrases,
		Tombstones:          ls.Tombstones,
		Nodes:               ls.Arena.Nodes,
		MaxNodes:            ls.Arena.Capacity,
		DenseNodes:          ls.Arena.DenseNodes,
		SparseNodes:         ls.Arena.SparseNodes,
		DenseSlotsUsed:      ls.Arena.DenseSlotsUsed,
		DenseSlotsRemaining: ls.Arena.DenseSlotsRemaining,
		MissedDense:         ls.Arena.MissedDense,
		Inserts:             ls.Inserts,
		Deletes:             ls.Deletes,
		BytesWalked:         ls.BytesWalked,
		Queries:             ix.queries,
		Offsets:             ix.offsets,
		Results:             ix.results,
	}
}

// Close marks the index closed. Further calls return ErrClosed.
// Close is idempotent.
func (ix *Index) Close() error {
	if ix == nil {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.closed = true

	return nil
}
