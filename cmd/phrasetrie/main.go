// Command phrasetrie serves the phrase index line protocol on stdin/stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/phrasetrie"
	"github.com/hupe1980/phrasetrie/internal/config"
	"github.com/hupe1980/phrasetrie/metrics/prom"
)

// Version is set at build time.
var Version = "dev"

// statsTombstones caps the tombstoned phrases listed by --stats.
const statsTombstones = 20

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "phrasetrie:", err)
		os.Exit(1)
	}
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:                   "phrasetrie",
		Usage:                  "Answer phrase queries over a mutable phrase dictionary",
		Version:                Version,
		UseShortOptionHandling: true,
		Reader:                 stdin,
		Writer:                 stdout,
		ErrWriter:              stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML config file",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Scheduler: fanout or pool",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Goroutines per query, and pool size in pool mode",
			},
			&cli.IntFlag{
				Name:  "queue",
				Usage: "Job queue capacity in pool mode",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Start offsets per traversal task",
			},
			&cli.IntFlag{
				Name:  "max-nodes",
				Usage: "Trie node capacity, root included",
			},
			&cli.BoolFlag{
				Name:  "prefix-matches",
				Usage: "Also report phrases ending inside a longer token",
			},
			&cli.StringSliceFlag{
				Name:  "dict",
				Usage: "Dictionary file loaded before the session (plain, .zst or .lz4), repeatable",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g. :9090)",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Print index counters to stderr on exit",
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Print the effective configuration as TOML",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfigWithOverrides(c)
					if err != nil {
						return err
					}
					return cfg.WriteTOML(c.App.Writer)
				},
			},
		},
	}
}

// loadConfigWithOverrides loads the config file, if any, and applies flags
// that were set explicitly.
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		cfg = loaded
	}

	if c.IsSet("mode") {
		cfg.Engine.Mode = c.String("mode")
	}
	if c.IsSet("workers") {
		cfg.Engine.Workers = c.Int("workers")
	}
	if c.IsSet("queue") {
		cfg.Engine.QueueCapacity = c.Int("queue")
	}
	if c.IsSet("chunk-size") {
		cfg.Engine.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("max-nodes") {
		cfg.Trie.MaxNodes = c.Int("max-nodes")
	}
	if c.IsSet("prefix-matches") {
		cfg.Engine.PrefixMatches = c.Bool("prefix-matches")
	}
	if dicts := c.StringSlice("dict"); len(dicts) > 0 {
		cfg.Preload.Files = append(cfg.Preload.Files, dicts...)
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *phrasetrie.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.Log.Format == "json" {
		return phrasetrie.NewLogger(slog.NewJSONHandler(w, opts))
	}
	return phrasetrie.NewLogger(slog.NewTextHandler(w, opts))
}

func indexOptions(cfg *config.Config, logger *phrasetrie.Logger, mc phrasetrie.MetricsCollector) []phrasetrie.Option {
	ac := cfg.ArenaConfig()

	return []phrasetrie.Option{
		phrasetrie.WithLogger(logger),
		phrasetrie.WithMetricsCollector(mc),
		phrasetrie.WithMaxNodes(ac.MaxNodes),
		phrasetrie.WithMaxPhraseLen(cfg.Trie.MaxPhraseLen),
		phrasetrie.WithAlphabet(ac.AlphabetFirst, ac.AlphabetSize),
		phrasetrie.WithDenseDepth(ac.DenseDepth),
		phrasetrie.WithDenseSlots(ac.DenseSlots),
		phrasetrie.WithWorkers(cfg.Engine.Workers),
		phrasetrie.WithChunkSize(cfg.Engine.ChunkSize),
		phrasetrie.WithLockStripes(cfg.Engine.LockStripes),
		phrasetrie.WithPrefixMatches(cfg.Engine.PrefixMatches),
		phrasetrie.WithMode(phrasetrie.Mode(cfg.Engine.Mode)),
		phrasetrie.WithQueueCapacity(cfg.Engine.QueueCapacity),
		phrasetrie.WithBatchSize(cfg.Engine.BatchSize),
	}
}

// startMetrics serves /metrics on addr and returns a function that stops it.
func startMetrics(addr string, logger *phrasetrie.Logger) (phrasetrie.MetricsCollector, func(), error) {
	reg := prometheus.NewRegistry()
	mc, err := prom.New(reg)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics endpoint listening", "addr", ln.Addr().String())

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}

	return mc, stop, nil
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, c.App.ErrWriter)

	var mc phrasetrie.MetricsCollector = phrasetrie.NoopMetricsCollector{}
	if cfg.Metrics.Addr != "" {
		var stop func()
		mc, stop, err = startMetrics(cfg.Metrics.Addr, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	ix, err := phrasetrie.New(indexOptions(cfg, logger, mc)...)
	if err != nil {
		return err
	}
	defer ix.Close()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, path := range cfg.Preload.Files {
		_, err := ix.LoadFile(ctx, path)
		if errors.Is(err, phrasetrie.ErrCapacityExceeded) {
			// Inserts are closed for good; queries still work.
			break
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}

	_, err = ix.Serve(ctx, c.App.Reader, c.App.Writer)

	if c.Bool("stats") {
		printStats(c.App.ErrWriter, ix.Stats())
		if ts := ix.TombstonedPhrases(statsTombstones); len(ts) > 0 {
			fmt.Fprintf(c.App.ErrWriter, "tombstoned=%s\n", strings.Join(ts, "|"))
		}
	}

	return err
}

func printStats(w io.Writer, st phrasetrie.Stats) {
	fmt.Fprintf(w, "phrases=%d tombstones=%d inserts=%d deletes=%d\n",
		st.Phrases, st.Tombstones, st.Inserts, st.Deletes)
	fmt.Fprintf(w, "queries=%d searches=%d results=%d bytes_walked=%d\n",
		st.Queries, st.Offsets, st.Results, st.BytesWalked)
	fmt.Fprintf(w, "nodes=%d/%d dense_nodes=%d sparse_nodes=%d dense_slots_used=%d dense_slots_missed=%d\n",
		st.Nodes, st.MaxNodes, st.DenseNodes, st.SparseNodes, st.DenseSlotsUsed, st.MissedDense)
}
