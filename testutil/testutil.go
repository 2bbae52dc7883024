package testutil

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test data
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Zipf returns a Zipfian-distributed value in [0, n).
// P(k) ∝ 1/k^s; s=1.0 is standard Zipf, which is roughly how word
// frequencies in natural text are distributed.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}

	return n - 1
}

// Vocabulary returns n distinct lowercase words of 1 to maxLen letters.
// Letters are drawn from a small alphabet so words share many prefixes.
func (r *RNG) Vocabulary(n, maxLen int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	const letters = "abcdet"
	seen := make(map[string]bool, n)
	out := make([]string, 0, n)

	for attempts := 0; len(out) < n && attempts < n*100; attempts++ {
		l := 1 + r.rand.Intn(maxLen)
		b := make([]byte, l)
		for i := range b {
			b[i] = letters[r.rand.Intn(len(letters))]
		}
		w := string(b)
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}

	return out
}

// Phrase joins 1 to maxWords Zipf-chosen words of vocab with single spaces.
func (r *RNG) Phrase(vocab []string, maxWords int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phraseLocked(vocab, maxWords)
}

func (r *RNG) phraseLocked(vocab []string, maxWords int) string {
	n := 1 + r.rand.Intn(maxWords)
	words := make([]string, n)
	for i := range words {
		words[i] = vocab[r.zipfLocked(len(vocab), 1.1)]
	}
	return strings.Join(words, " ")
}

// Phrases returns n phrases, see Phrase.
func (r *RNG) Phrases(vocab []string, n, maxWords int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, n)
	for i := range out {
		out[i] = r.phraseLocked(vocab, maxWords)
	}
	return out
}

// Match is one ground-truth match: Phrase at query[Start:Start+Len].
type Match struct {
	Phrase string
	Start  int
	Len    int
}

// BruteForceMatch checks every active phrase at every candidate start
// offset of query and keeps the earliest occurrence of each. With prefix
// false a match must be followed by a space or the end of query. The result
// is ordered by start, then by length.
func BruteForceMatch(active map[string]bool, query string, prefix bool) []Match {
	offsets := []int{}
	if query != "" {
		offsets = append(offsets, 0)
	}
	for i := 0; i+1 < len(query); i++ {
		if query[i] == ' ' {
			offsets = append(offsets, i+1)
		}
	}

	earliest := make(map[string]int)
	for _, off := range offsets {
		rest := query[off:]
		for p, ok := range active {
			if !ok || p == "" || !strings.HasPrefix(rest, p) {
				continue
			}
			end := off + len(p)
			if !prefix && end < len(query) && query[end] != ' ' {
				continue
			}
			if s, seen := earliest[p]; !seen || off < s {
				earliest[p] = off
			}
		}
	}

	out := make([]Match, 0, len(earliest))
	for p, s := range earliest {
		out = append(out, Match{Phrase: p, Start: s, Len: len(p)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Len < out[j].Len
	})

	return out
}

// BruteForceLine is BruteForceMatch formatted as an output line without the
// newline: phrases joined by '|', or "-1".
func BruteForceLine(active map[string]bool, query string, prefix bool) string {
	matches := BruteForceMatch(active, query, prefix)
	if len(matches) == 0 {
		return "-1"
	}

	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = m.Phrase
	}
	return strings.Join(parts, "|")
}

// SessionConfig shapes a generated session.
type SessionConfig struct {
	Preload        int // phrases before the sentinel
	Commands       int // commands after the sentinel
	MaxPhraseWords int // default 3
	MaxQueryWords  int // default 40
	PrefixMatches  bool
}

// Session is a protocol transcript: the client input and the output a
// correct server writes for it.
type Session struct {
	Input  string
	Output string
}

// Session generates a session that interleaves inserts, deletes and queries
// over vocab, with the expected output computed by brute force.
func (r *RNG) Session(vocab []string, cfg SessionConfig) Session {
	if cfg.MaxPhraseWords <= 0 {
		cfg.MaxPhraseWords = 3
	}
	if cfg.MaxQueryWords <= 0 {
		cfg.MaxQueryWords = 40
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[string]bool)
	var in, out strings.Builder

	for i := 0; i < cfg.Preload; i++ {
		p := r.phraseLocked(vocab, cfg.MaxPhraseWords)
		active[p] = true
		in.WriteString(p + "\n")
	}
	in.WriteString("S\n")
	out.WriteString("R\n")

	for i := 0; i < cfg.Commands; i++ {
		switch r.rand.Intn(4) {
		case 0:
			p := r.phraseLocked(vocab, cfg.MaxPhraseWords)
			active[p] = true
			in.WriteString("A " + p + "\n")
		case 1:
			p := r.phraseLocked(vocab, cfg.MaxPhraseWords)
			delete(active, p)
			in.WriteString("D " + p + "\n")
		default:
			q := r.phraseLocked(vocab, cfg.MaxQueryWords)
			in.WriteString("Q " + q + "\n")
			out.WriteString(BruteForceLine(active, q, cfg.PrefixMatches) + "\n")
		}
	}
	in.WriteString("F\n")

	return Session{Input: in.String(), Output: out.String()}
}
