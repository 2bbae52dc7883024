// Package lexicon implements the phrase dictionary on top of the node arena.
//
// Deletion is a tombstone: the terminal flag is cleared and every node stays
// allocated, so node ids remain stable for the lifetime of the lexicon.
package lexicon

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/phrasetrie/internal/arena"
)

// DefaultMaxPhraseLen is the default maximum phrase length in bytes.
const DefaultMaxPhraseLen = 4096

var (
	// ErrNotFound is returned by Delete for a phrase that is not active.
	ErrNotFound = errors.New("lexicon: phrase not found")
	// ErrAlreadyDeleted is the ErrNotFound of a phrase that was deleted
	// before and is still tombstoned.
	ErrAlreadyDeleted = fmt.Errorf("%w: already deleted", ErrNotFound)
	// ErrInvalidByte is wrapped by InvalidByteError.
	ErrInvalidByte = errors.New("lexicon: invalid byte")
	// ErrPhraseTooLong is returned for phrases over the configured maximum.
	ErrPhraseTooLong = errors.New("lexicon: phrase too long")
	// ErrEmptyPhrase is returned for the empty phrase.
	ErrEmptyPhrase = errors.New("lexicon: empty phrase")
)

// InvalidByteError reports a phrase byte outside the accepted alphabet.
type InvalidByteError struct {
	Byte byte
	Pos  int
}

func (e *InvalidByteError) Error() string {
	return fmt.Sprintf("lexicon: invalid byte 0x%02x at position %d", e.Byte, e.Pos)
}

func (e *InvalidByteError) Unwrap() error { return ErrInvalidByte }

// Stats describes the lexicon.
type Stats struct {
	Phrases     int // active phrases
	Tombstones  int // deleted phrases whose nodes are kept
	Inserts     int // accepted insert calls
	Deletes     int // successful delete calls
	BytesWalked int // bytes consumed by insert and delete walks
	Arena       arena.Stats
}

// Lexicon is a byte trie of phrases. It is single-writer: Insert and Delete
// must not run concurrently with each other or with any reader.
type Lexicon struct {
	store        *arena.Store
	maxPhraseLen int
	tombstones   *roaring.Bitmap

	phrases     int
	inserts     int
	deletes     int
	bytesWalked int
}

// New creates an empty lexicon.
func New(cfg arena.Config, maxPhraseLen int) (*Lexicon, error) {
	if maxPhraseLen <= 0 {
		maxPhraseLen = DefaultMaxPhraseLen
	}

	store, err := arena.New(cfg)
	if err != nil {
		return nil, err
	}

	return &Lexicon{
		store:        store,
		maxPhraseLen: maxPhraseLen,
		tombstones:   roaring.New(),
	}, nil
}

// Validate checks phrase against the length limit and the alphabet without
// touching the trie.
func (l *Lexicon) Validate(phrase string) error {
	if len(phrase) == 0 {
		return ErrEmptyPhrase
	}
	if len(phrase) > l.maxPhraseLen {
		return fmt.Errorf("%w: %d > %d", ErrPhraseTooLong, len(phrase), l.maxPhraseLen)
	}
	for i := 0; i < len(phrase); i++ {
		if !l.store.InAlphabet(phrase[i]) {
			return &InvalidByteError{Byte: phrase[i], Pos: i}
		}
	}
	return nil
}

// Insert adds phrase. Inserting an active phrase again is a no-op.
func (l *Lexicon) Insert(phrase string) error {
	if err := l.Validate(phrase); err != nil {
		return err
	}

	id, matched := l.longestPrefix(phrase)
	if missing := len(phrase) - matched; missing > l.store.Remaining() {
		return fmt.Errorf("insert %q: %w", phrase, arena.ErrCapacityExceeded)
	}

	for i := matched; i < len(phrase); i++ {
		next, err := l.store.GetOrCreateChild(id, phrase[i])
		if err != nil {
			return fmt.Errorf("insert %q: %w", phrase, err)
		}
		id = next
	}
	l.bytesWalked += len(phrase)
	l.inserts++

	if !l.store.Terminal(id) {
		l.store.SetTerminal(id, true)
		l.phrases++
		l.tombstones.Remove(uint32(id))
	}

	return nil
}

// Delete clears the terminal flag of phrase. It never creates or frees nodes.
func (l *Lexicon) Delete(phrase string) error {
	id := l.find(phrase)
	if id == arena.NullID {
		return ErrNotFound
	}
	if !l.store.Terminal(id) {
		if l.tombstones.Contains(uint32(id)) {
			return ErrAlreadyDeleted
		}
		return ErrNotFound
	}

	l.store.SetTerminal(id, false)
	l.tombstones.Add(uint32(id))
	l.bytesWalked += len(phrase)
	l.phrases--
	l.deletes++

	return nil
}

// Contains reports whether phrase is active.
func (l *Lexicon) Contains(phrase string) bool {
	id := l.find(phrase)
	return id != arena.NullID && l.store.Terminal(id)
}

// Tombstoned reports whether phrase was deleted and not inserted again.
func (l *Lexicon) Tombstoned(phrase string) bool {
	id := l.find(phrase)
	return id != arena.NullID && l.tombstones.Contains(uint32(id))
}

// TombstonedPhrases returns up to limit tombstoned phrases in byte order.
// A limit <= 0 returns all of them.
func (l *Lexicon) TombstonedPhrases(limit int) []string {
	want := int(l.tombstones.GetCardinality()) //nolint:gosec // bounded by MaxNodes
	if limit > 0 {
		want = min(want, limit)
	}
	if want == 0 {
		return nil
	}

	out := make([]string, 0, want)
	path := make([]byte, 0, 64)

	var walk func(id arena.NodeID) bool
	walk = func(id arena.NodeID) bool {
		if l.tombstones.Contains(uint32(id)) {
			out = append(out, string(path))
			if len(out) == want {
				return false
			}
		}

		cont := true
		l.store.EachChild(id, func(b byte, child arena.NodeID) bool {
			path = append(path, b)
			cont = walk(child)
			path = path[:len(path)-1]
			return cont
		})
		return cont
	}
	walk(arena.RootID)

	return out
}

// longestPrefix returns the deepest existing node on phrase's path and the
// number of bytes consumed to reach it.
func (l *Lexicon) longestPrefix(phrase string) (arena.NodeID, int) {
	id := arena.RootID
	for i := 0; i < len(phrase); i++ {
		next := l.store.Child(id, phrase[i])
		if next == arena.NullID {
			return id, i
		}
		id = next
	}
	return id, len(phrase)
}

func (l *Lexicon) find(phrase string) arena.NodeID {
	if len(phrase) == 0 {
		return arena.NullID
	}

	id := arena.RootID
	for i := 0; i < len(phrase); i++ {
		id = l.store.Child(id, phrase[i])
		if id == arena.NullID {
			return arena.NullID
		}
	}

	return id
}

// Root returns the root node id.
func (l *Lexicon) Root() arena.NodeID {
	return arena.RootID
}

// Step follows b from id, returning arena.NullID when there is no such child.
func (l *Lexicon) Step(id arena.NodeID, b byte) arena.NodeID {
	return l.store.Child(id, b)
}

// Terminal reports whether id ends an active phrase.
func (l *Lexicon) Terminal(id arena.NodeID) bool {
	return l.store.Terminal(id)
}

// Capacity returns one past the highest node id in use.
func (l *Lexicon) Capacity() int {
	return l.store.Len()
}

// MaxPhraseLen returns the configured phrase length limit.
func (l *Lexicon) MaxPhraseLen() int {
	return l.maxPhraseLen
}

// Stats returns a snapshot of lexicon counters.
func (l *Lexicon) Stats() Stats {
	return Stats{
		Phrases:     l.phrases,
		Tombstones:  int(l.tombstones.GetCardinality()), //nolint:gosec // bounded by MaxNodes
		Inserts:     l.inserts,
		Deletes:     l.deletes,
		BytesWalked: l.bytesWalked,
		Arena:       l.store.Stats(),
	}
}
