package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/phrasetrie/internal/lexicon"
	"github.com/hupe1980/phrasetrie/internal/protocol"
	"github.com/hupe1980/phrasetrie/internal/search"
)

// Harness runs protocol sessions against one lexicon.
type Harness struct {
	cfg     Config
	lex     *lexicon.Lexicon
	eng     *search.Engine
	logger  *slog.Logger
	metrics Metrics

	insertsClosed *atomic.Bool

	// Throttles malformed-line warnings; every line is still counted.
	malformedLog rate.Sometimes
}

// NewHarness creates a harness. logger and metrics may be nil.
func NewHarness(cfg Config, lex *lexicon.Lexicon, eng *search.Engine, logger *slog.Logger, metrics Metrics) *Harness {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Harness{
		cfg:          cfg,
		lex:          lex,
		eng:          eng,
		logger:       logger,
		metrics:       metrics,
		insertsClosed: new(atomic.Bool),
		malformedLog:  rate.Sometimes{First: 10, Interval: time.Second},
	}
}

// WithInsertLatch makes the harness share latch with the owner of the
// lexicon: once either side exhausts the node capacity, both refuse inserts.
func (h *Harness) WithInsertLatch(latch *atomic.Bool) *Harness {
	if latch != nil {
		h.insertsClosed = latch
	}
	return h
}

// InsertsClosed reports whether inserts are refused for good.
func (h *Harness) InsertsClosed() bool {
	return h.insertsClosed.Load()
}

// Run serves one session: it preloads phrases from r until the sentinel,
// answers "R", then applies commands until "F" or end of input. Query
// results are written to w and flushed per query.
//
// Run returns nil at a regular end of session. Read, write and context
// errors end the session early and are returned.
func (h *Harness) Run(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	out := bufio.NewWriter(w)

	d, err := New(h.cfg, Deps{
		Lexicon: h.lex,
		Engine:  h.eng,
		Out:     out,
		Logger:  h.logger,
		Metrics: h.metrics,

		InsertsClosed: h.insertsClosed,
	})
	if err != nil {
		return Stats{}, err
	}

	err = h.serve(ctx, d, protocol.NewReader(r), out)
	if cerr := d.Close(); err == nil {
		err = cerr
	}

	return d.Stats(), err
}

func (h *Harness) serve(ctx context.Context, d Dispatcher, in *protocol.Reader, out *bufio.Writer) error {
	n, err := protocol.Preload(in, func(phrase string) error {
		return d.Dispatch(ctx, Command{Kind: KindInsert, Payload: phrase})
	})
	if err := errors.Join(err, d.Flush(ctx)); err != nil {
		if errors.Is(err, protocol.ErrNoSentinel) {
			h.logger.WarnContext(ctx, "input ended during preload", "phrases", n)
			return nil
		}
		return fmt.Errorf("preload: %w", err)
	}

	h.logger.InfoContext(ctx, "preload complete",
		"phrases", n,
		"nodes", h.lex.Capacity()-1,
	)

	if err := protocol.Ready(out); err != nil {
		return fmt.Errorf("ready: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return d.Dispatch(ctx, Command{Kind: KindTerminate})
			}
			return fmt.Errorf("read: %w", err)
		}

		pc, err := protocol.ParseCommand(line)
		if err != nil {
			h.metrics.RecordMalformed()
			h.malformedLog.Do(func() {
				h.logger.WarnContext(ctx, "skipping malformed command", "line", in.Line(), "error", err)
			})
			continue
		}

		cmd := toCommand(pc)
		if err := d.Dispatch(ctx, cmd); err != nil {
			return err
		}
		if cmd.Kind == KindTerminate {
			return nil
		}
	}
}

func toCommand(pc protocol.Command) Command {
	switch pc.Op {
	case protocol.OpInsert:
		return Command{Kind: KindInsert, Payload: pc.Arg}
	case protocol.OpDelete:
		return Command{Kind: KindDelete, Payload: pc.Arg}
	case protocol.OpQuery:
		return Command{Kind: KindQuery, Payload: pc.Arg}
	default:
		return Command{Kind: KindTerminate}
	}
}
