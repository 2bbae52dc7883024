// Package dispatch applies protocol commands to a lexicon and its search
// engine.
//
// Two dispatchers exist. FanOut applies mutations inline on the calling
// goroutine and fans every query out with the search engine. Pool runs all
// work, mutations included, on a fixed WorkerPool; consecutive mutations are
// batched into one job, a query becomes one job per chunk of offsets followed
// by a single ranking job.
//
// Both guarantee that no mutation overlaps a traversal and that a query is
// fully written, and the result table cleared, before the next command runs.
package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/phrasetrie/internal/arena"
	"github.com/hupe1980/phrasetrie/internal/emit"
	"github.com/hupe1980/phrasetrie/internal/lexicon"
	"github.com/hupe1980/phrasetrie/internal/search"
)

// Kind is the type of a Command.
type Kind uint8

// Command kinds.
const (
	KindInsert Kind = iota + 1
	KindDelete
	KindQuery
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindQuery:
		return "query"
	case KindTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Command is one unit of work. Payload is the phrase or the query text.
type Command struct {
	Kind    Kind
	Payload string
}

// Mode selects the dispatcher.
type Mode string

// Dispatch modes.
const (
	ModeFanOut Mode = "fanout"
	ModePool   Mode = "pool"
)

// ErrUnknownMode is returned for a mode other than ModeFanOut or ModePool.
var ErrUnknownMode = errors.New("dispatch: unknown mode")

// ParseMode parses a mode name. The empty string selects ModeFanOut.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFanOut:
		return ModeFanOut, nil
	case ModePool:
		return ModePool, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// DefaultBatchSize bounds the number of mutations in one pool job.
const DefaultBatchSize = 256

// Metrics receives per-command measurements.
type Metrics interface {
	RecordInsert(duration time.Duration, err error)
	RecordDelete(duration time.Duration, err error)
	RecordQuery(duration time.Duration, offsets, matches int)
	RecordMalformed()
}

type noopMetrics struct{}

func (noopMetrics) RecordInsert(time.Duration, error)   {}
func (noopMetrics) RecordDelete(time.Duration, error)   {}
func (noopMetrics) RecordQuery(time.Duration, int, int) {}
func (noopMetrics) RecordMalformed()                    {}

// Stats are the counters of one dispatcher.
type Stats struct {
	Inserts         int64 // accepted inserts
	InsertsRejected int64 // invalid, too long, empty or over capacity
	Deletes         int64 // deletes that removed a phrase
	DeletesMissed   int64 // deletes of absent phrases
	Queries         int64
	Offsets         int64 // traversals started
	Results         int64 // matches written
}

// Config configures a dispatcher.
type Config struct {
	Mode          Mode
	Workers       int // pool size; <= 0 means GOMAXPROCS
	QueueCapacity int // pool queue length; <= 0 means 2 * Workers
	BatchSize     int // mutations per pool job; <= 0 means DefaultBatchSize
}

// Deps are the collaborators of a dispatcher.
type Deps struct {
	Lexicon *lexicon.Lexicon
	Engine  *search.Engine
	Out     *bufio.Writer
	Logger  *slog.Logger
	Metrics Metrics

	// InsertsClosed is set once the node capacity is exhausted and refuses
	// all later inserts. It outlives the dispatcher, because the lexicon
	// never frees nodes. If nil, the dispatcher uses its own.
	InsertsClosed *atomic.Bool
}

// Dispatcher applies commands in order.
type Dispatcher interface {
	// Dispatch applies cmd. Queries are answered on the output before
	// Dispatch returns. Only output and context errors are returned.
	Dispatch(ctx context.Context, cmd Command) error
	// Flush applies mutations that are still pending.
	Flush(ctx context.Context) error
	// Stats returns the counters.
	Stats() Stats
	// Close flushes and releases resources.
	Close() error
}

// New returns the dispatcher selected by cfg.Mode.
func New(cfg Config, deps Deps) (Dispatcher, error) {
	if deps.Lexicon == nil || deps.Engine == nil || deps.Out == nil {
		return nil, errors.New("dispatch: lexicon, engine and output are required")
	}

	c := newCore(deps)

	switch cfg.Mode {
	case "", ModeFanOut:
		return &FanOut{core: c}, nil
	case ModePool:
		return newPool(c, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}

// core holds what both dispatchers share. Mutating methods are called from
// one goroutine at a time.
type core struct {
	lex     *lexicon.Lexicon
	eng     *search.Engine
	out     *bufio.Writer
	logger  *slog.Logger
	metrics Metrics

	insertsClosed *atomic.Bool

	inserts, insertsRejected atomic.Int64
	deletes, deletesMissed   atomic.Int64
	queries, offsets         atomic.Int64
	results                  atomic.Int64
}

func newCore(deps Deps) *core {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.InsertsClosed == nil {
		deps.InsertsClosed = new(atomic.Bool)
	}

	return &core{
		lex:           deps.Lexicon,
		eng:           deps.Engine,
		out:           deps.Out,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		insertsClosed: deps.InsertsClosed,
	}
}

func (c *core) mutate(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case KindInsert:
		c.insert(ctx, cmd.Payload)
	case KindDelete:
		c.delete(ctx, cmd.Payload)
	}
}

func (c *core) insert(ctx context.Context, phrase string) {
	if c.insertsClosed.Load() {
		c.insertsRejected.Add(1)
		c.logger.DebugContext(ctx, "insert refused, capacity exhausted", "len", len(phrase))
		return
	}

	start := time.Now()
	err := c.lex.Insert(phrase)
	c.metrics.RecordInsert(time.Since(start), err)

	switch {
	case err == nil:
		c.inserts.Add(1)
		c.logger.DebugContext(ctx, "insert completed", "len", len(phrase))
	case errors.Is(err, arena.ErrCapacityExceeded):
		c.insertsRejected.Add(1)
		c.insertsClosed.Store(true)
		c.logger.ErrorContext(ctx, "node capacity exhausted, no further inserts accepted",
			"nodes", c.lex.Capacity()-1,
			"error", err,
		)
	default:
		c.insertsRejected.Add(1)
		c.logger.WarnContext(ctx, "insert rejected", "len", len(phrase), "error", err)
	}
}

func (c *core) delete(ctx context.Context, phrase string) {
	start := time.Now()
	err := c.lex.Delete(phrase)
	c.metrics.RecordDelete(time.Since(start), err)

	switch {
	case err == nil:
		c.deletes.Add(1)
		c.logger.DebugContext(ctx, "delete completed", "len", len(phrase))
	case errors.Is(err, lexicon.ErrAlreadyDeleted):
		c.deletesMissed.Add(1)
		c.logger.DebugContext(ctx, "delete skipped, already deleted", "len", len(phrase))
	case errors.Is(err, lexicon.ErrNotFound):
		c.deletesMissed.Add(1)
	default:
		c.logger.WarnContext(ctx, "delete failed", "len", len(phrase), "error", err)
	}
}

// drain ranks, writes and flushes the result of query. It must run after all
// traversals of query have finished.
func (c *core) drain(ctx context.Context, query string, offsets int, start time.Time) error {
	n, err := emit.Drain(c.out, query, c.eng.Table())
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	c.queries.Add(1)
	c.offsets.Add(int64(offsets))
	c.results.Add(int64(n))
	c.metrics.RecordQuery(time.Since(start), offsets, n)
	c.logger.DebugContext(ctx, "query completed", "offsets", offsets, "matches", n)

	return nil
}

func (c *core) Stats() Stats {
	return Stats{
		Inserts:         c.inserts.Load(),
		InsertsRejected: c.insertsRejected.Load(),
		Deletes:         c.deletes.Load(),
		DeletesMissed:   c.deletesMissed.Load(),
		Queries:         c.queries.Load(),
		Offsets:         c.offsets.Load(),
		Results:         c.results.Load(),
	}
}

// FanOut runs mutations inline and fans each query out over goroutines.
type FanOut struct {
	*core
}

// Dispatch implements Dispatcher.
func (f *FanOut) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindInsert, KindDelete:
		f.mutate(ctx, cmd)
		return nil
	case KindQuery:
		start := time.Now()
		offsets, err := f.eng.Search(ctx, cmd.Payload)
		if err != nil {
			return err
		}
		return f.drain(ctx, cmd.Payload, offsets, start)
	case KindTerminate:
		return nil
	default:
		return fmt.Errorf("dispatch: unknown command %s", cmd.Kind)
	}
}

// Flush implements Dispatcher. FanOut has nothing pending.
func (f *FanOut) Flush(context.Context) error { return nil }

// Close implements Dispatcher.
func (f *FanOut) Close() error { return nil }

// Pool runs every command on a WorkerPool.
type Pool struct {
	*core
	workers   *WorkerPool
	batchSize int
	pending   []Command
}

func newPool(c *core, cfg Config) *Pool {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Pool{
		core:      c,
		workers:   NewWorkerPool(cfg.Workers, cfg.QueueCapacity),
		batchSize: cfg.BatchSize,
		pending:   make([]Command, 0, cfg.BatchSize),
	}
}

// Dispatch implements Dispatcher.
func (p *Pool) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindInsert, KindDelete:
		p.pending = append(p.pending, cmd)
		if len(p.pending) >= p.batchSize {
			return p.Flush(ctx)
		}
		return nil
	case KindQuery:
		if err := p.Flush(ctx); err != nil {
			return err
		}
		return p.query(ctx, cmd.Payload)
	case KindTerminate:
		return p.Flush(ctx)
	default:
		return fmt.Errorf("dispatch: unknown command %s", cmd.Kind)
	}
}

// Flush runs the pending mutations as one job and waits for it.
func (p *Pool) Flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}

	batch := p.pending
	err := p.workers.Await(ctx, func() {
		for _, cmd := range batch {
			p.mutate(ctx, cmd)
		}
	})
	p.pending = p.pending[:0]

	return err
}

func (p *Pool) query(ctx context.Context, query string) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return err
	}

	p.eng.Prepare()
	chunks, offsets := p.eng.Plan(query)

	var wg sync.WaitGroup
	for _, chunk := range chunks {
		wg.Add(1)
		if err := p.workers.Submit(ctx, func() {
			defer wg.Done()
			p.eng.SearchChunk(query, chunk)
		}); err != nil {
			wg.Done()
			wg.Wait()
			p.eng.Table().Reset()
			return err
		}
	}
	wg.Wait()

	var drainErr error
	if err := p.workers.Await(ctx, func() {
		drainErr = p.drain(ctx, query, offsets, start)
	}); err != nil {
		p.eng.Table().Reset()
		return err
	}

	return drainErr
}

// Close flushes pending mutations and stops the workers.
func (p *Pool) Close() error {
	err := p.Flush(context.Background())
	p.workers.Close()
	return err
}
