// Package config holds the settings of the phrasetrie binary: compiled-in
// defaults, optionally overlaid by a TOML file, then by command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/hupe1980/phrasetrie/internal/arena"
	"github.com/hupe1980/phrasetrie/internal/conv"
	"github.com/hupe1980/phrasetrie/internal/dispatch"
	"github.com/hupe1980/phrasetrie/internal/lexicon"
	"github.com/hupe1980/phrasetrie/internal/results"
	"github.com/hupe1980/phrasetrie/internal/search"
)

// ErrInvalidConfig is returned when a setting is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete configuration.
type Config struct {
	Trie    Trie    `toml:"trie"`
	Engine  Engine  `toml:"engine"`
	Log     Log     `toml:"log"`
	Metrics Metrics `toml:"metrics"`
	Preload Preload `toml:"preload"`
}

// Trie limits the phrase trie.
type Trie struct {
	MaxNodes      int `toml:"max_nodes"`
	MaxPhraseLen  int `toml:"max_phrase_len"`
	AlphabetFirst int `toml:"alphabet_first"` // lowest accepted byte
	AlphabetSize  int `toml:"alphabet_size"`  // number of accepted bytes
	DenseDepth    int `toml:"dense_depth"`
	DenseSlots    int `toml:"dense_slots"`
}

// Engine configures query execution.
type Engine struct {
	Mode          string `toml:"mode"` // "fanout" or "pool"
	Workers       int    `toml:"workers"`
	QueueCapacity int    `toml:"queue_capacity"`
	BatchSize     int    `toml:"batch_size"`
	ChunkSize     int    `toml:"chunk_size"`
	LockStripes   int    `toml:"lock_stripes"`
	PrefixMatches bool   `toml:"prefix_matches"`
}

// Log configures the stderr logger.
type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `toml:"addr"` // empty disables the endpoint
}

// Preload names extra dictionary files loaded before the session starts.
type Preload struct {
	Files []string `toml:"files,omitempty"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	workers := runtime.GOMAXPROCS(0)

	return &Config{
		Trie: Trie{
			MaxNodes:      arena.DefaultMaxNodes,
			MaxPhraseLen:  lexicon.DefaultMaxPhraseLen,
			AlphabetFirst: arena.DefaultAlphabetFirst,
			AlphabetSize:  arena.DefaultAlphabetSize,
			DenseDepth:    arena.DefaultDenseDepth,
			DenseSlots:    arena.DefaultDenseSlots,
		},
		Engine: Engine{
			Mode:          string(dispatch.ModeFanOut),
			Workers:       workers,
			QueueCapacity: workers * 2,
			BatchSize:     dispatch.DefaultBatchSize,
			ChunkSize:     search.DefaultChunkSize,
			LockStripes:   results.DefaultStripes,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if _, err := conv.IntToByte(c.Trie.AlphabetFirst); err != nil {
		return fmt.Errorf("%w: alphabet_first: %w", ErrInvalidConfig, err)
	}
	if _, err := conv.IntToUint32(c.Trie.MaxNodes); err != nil {
		return fmt.Errorf("%w: max_nodes: %w", ErrInvalidConfig, err)
	}
	if err := c.ArenaConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Trie.MaxPhraseLen < 1 {
		return fmt.Errorf("%w: max_phrase_len %d", ErrInvalidConfig, c.Trie.MaxPhraseLen)
	}

	if _, err := dispatch.ParseMode(c.Engine.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Engine.Workers)
	}
	if c.Engine.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue_capacity %d", ErrInvalidConfig, c.Engine.QueueCapacity)
	}
	if c.Engine.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size %d", ErrInvalidConfig, c.Engine.BatchSize)
	}
	if c.Engine.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size %d", ErrInvalidConfig, c.Engine.ChunkSize)
	}
	if c.Engine.LockStripes < 1 {
		return fmt.Errorf("%w: lock_stripes %d", ErrInvalidConfig, c.Engine.LockStripes)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}

	return nil
}

// ArenaConfig returns the node store limits.
func (c *Config) ArenaConfig() arena.Config {
	ac := arena.DefaultConfig()
	ac.MaxNodes = c.Trie.MaxNodes
	ac.AlphabetFirst = byte(c.Trie.AlphabetFirst) //nolint:gosec // checked by conv.IntToByte in Validate
	ac.AlphabetSize = c.Trie.AlphabetSize
	ac.DenseDepth = c.Trie.DenseDepth
	ac.DenseSlots = c.Trie.DenseSlots
	return ac
}

// DispatchConfig returns the dispatcher settings.
func (c *Config) DispatchConfig() dispatch.Config {
	mode, _ := dispatch.ParseMode(c.Engine.Mode)
	return dispatch.Config{
		Mode:          mode,
		Workers:       c.Engine.Workers,
		QueueCapacity: c.Engine.QueueCapacity,
		BatchSize:     c.Engine.BatchSize,
	}
}

// Level returns the configured log level. Validate rejects unknown names.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.Log.Level)
	return l
}

// ParseLevel parses a slog level name, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return l, nil
}

// WriteTOML encodes the configuration.
func (c *Config) WriteTOML(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(c)
}
