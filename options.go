package phrasetrie

import (
	"log/slog"

	"github.com/hupe1980/phrasetrie/internal/arena"
	"github.com/hupe1980/phrasetrie/internal/dispatch"
	"github.com/hupe1980/phrasetrie/internal/lexicon"
	"github.com/hupe1980/phrasetrie/internal/results"
	"github.com/hupe1980/phrasetrie/internal/search"
)

// Mode selects how Serve schedules protocol commands.
type Mode string

const (
	// ModeFanOut applies mutations inline and fans each query out over
	// short-lived goroutines.
	ModeFanOut Mode = Mode(dispatch.ModeFanOut)
	// ModePool runs all work on a fixed worker pool fed by a bounded queue.
	ModePool Mode = Mode(dispatch.ModePool)
)

type options struct {
	arena            arena.Config
	maxPhraseLen     int
	workers          int
	chunkSize        int
	lockStripes      int
	prefixMatches    bool
	mode             Mode
	queueCapacity    int
	batchSize        int
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures New.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := phrasetrie.NewJSONLogger(slog.LevelInfo)
//	ix, _ := phrasetrie.New(phrasetrie.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithWorkers bounds the goroutines used by one query, and sizes the worker
// pool in ModePool. Values <= 0 select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithChunkSize sets the number of start offsets one task traverses.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithMaxNodes bounds the trie size, root included.
func WithMaxNodes(n int) Option {
	return func(o *options) {
		o.arena.MaxNodes = n
	}
}

// WithMaxPhraseLen bounds the phrase length in bytes.
func WithMaxPhraseLen(n int) Option {
	return func(o *options) {
		o.maxPhraseLen = n
	}
}

// WithDenseDepth sets the depth below which nodes may use dense child arrays.
func WithDenseDepth(depth int) Option {
	return func(o *options) {
		o.arena.DenseDepth = depth
	}
}

// WithDenseSlots sets the total number of dense child arrays.
func WithDenseSlots(n int) Option {
	return func(o *options) {
		o.arena.DenseSlots = n
	}
}

// WithAlphabet sets the accepted bytes to [first, first+size).
// The default is 0x20 through 0xFF.
func WithAlphabet(first byte, size int) Option {
	return func(o *options) {
		o.arena.AlphabetFirst = first
		o.arena.AlphabetSize = size
	}
}

// WithLockStripes sets the number of result table locks, rounded up to a
// power of two.
func WithLockStripes(n int) Option {
	return func(o *options) {
		o.lockStripes = n
	}
}

// WithPrefixMatches also reports phrases that end inside a longer token.
// By default a match must be followed by a space or the end of the query.
func WithPrefixMatches(enabled bool) Option {
	return func(o *options) {
		o.prefixMatches = enabled
	}
}

// WithMode selects the Serve scheduler.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithQueueCapacity bounds the job queue in ModePool.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		o.queueCapacity = n
	}
}

// WithBatchSize bounds the number of mutations run as one job in ModePool.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		arena:            arena.DefaultConfig(),
		maxPhraseLen:     lexicon.DefaultMaxPhraseLen,
		chunkSize:        search.DefaultChunkSize,
		lockStripes:      results.DefaultStripes,
		mode:             ModeFanOut,
		batchSize:        dispatch.DefaultBatchSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
