package lexicon

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/phrasetrie/internal/arena"
)

func newLexicon(t *testing.T) *Lexicon {
	t.Helper()
	l, err := New(arena.DefaultConfig(), 0)
	require.NoError(t, err)
	return l
}

func TestLexicon_InsertContains(t *testing.T) {
	l := newLexicon(t)

	require.NoError(t, l.Insert("test"))
	require.NoError(t, l.Insert("test 123"))

	assert.True(t, l.Contains("test"))
	assert.True(t, l.Contains("test 123"))
	assert.False(t, l.Contains("tes"))
	assert.False(t, l.Contains("test 12"))
	assert.False(t, l.Contains(""))

	st := l.Stats()
	assert.Equal(t, 2, st.Phrases)
	assert.Equal(t, 2, st.Inserts)
}

func TestLexicon_InsertIdempotent(t *testing.T) {
	l := newLexicon(t)

	require.NoError(t, l.Insert("cat"))
	nodes := l.Stats().Arena.Nodes
	require.NoError(t, l.Insert("cat"))

	assert.Equal(t, nodes, l.Stats().Arena.Nodes)
	assert.Equal(t, 1, l.Stats().Phrases)
}

func TestLexicon_Delete(t *testing.T) {
	t.Run("tombstone keeps nodes", func(t *testing.T) {
		l := newLexicon(t)
		require.NoError(t, l.Insert("test"))
		require.NoError(t, l.Insert("test 123"))
		nodes := l.Stats().Arena.Nodes

		require.NoError(t, l.Delete("test"))

		assert.False(t, l.Contains("test"))
		assert.True(t, l.Contains("test 123"))
		assert.Equal(t, nodes, l.Stats().Arena.Nodes)
		assert.Equal(t, 1, l.Stats().Tombstones)
	})

	t.Run("not found", func(t *testing.T) {
		l := newLexicon(t)
		require.NoError(t, l.Insert("abc"))
		nodes := l.Stats().Arena.Nodes

		assert.ErrorIs(t, l.Delete("abd"), ErrNotFound)
		assert.ErrorIs(t, l.Delete("ab"), ErrNotFound)
		assert.ErrorIs(t, l.Delete("abcd"), ErrNotFound)
		assert.ErrorIs(t, l.Delete(""), ErrNotFound)
		assert.Equal(t, nodes, l.Stats().Arena.Nodes, "delete must never create nodes")
	})

	t.Run("twice", func(t *testing.T) {
		l := newLexicon(t)
		require.NoError(t, l.Insert("ab"))
		require.NoError(t, l.Delete("ab"))
		err := l.Delete("ab")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, ErrAlreadyDeleted)
		assert.NotErrorIs(t, l.Delete("a"), ErrAlreadyDeleted)
		assert.Equal(t, 0, l.Stats().Phrases)
	})

	t.Run("reinsert after delete", func(t *testing.T) {
		l := newLexicon(t)
		require.NoError(t, l.Insert("ab"))
		nodes := l.Stats().Arena.Nodes
		require.NoError(t, l.Delete("ab"))
		require.NoError(t, l.Insert("ab"))

		assert.True(t, l.Contains("ab"))
		assert.Equal(t, nodes, l.Stats().Arena.Nodes, "reinsert must reuse tombstoned nodes")
		assert.Equal(t, 0, l.Stats().Tombstones)
	})
}

func TestLexicon_Tombstoned(t *testing.T) {
	l := newLexicon(t)
	for _, p := range []string{"the dog", "the", "cat", "a", "the cat"} {
		require.NoError(t, l.Insert(p))
	}
	assert.Empty(t, l.TombstonedPhrases(0))

	for _, p := range []string{"the dog", "cat", "the"} {
		require.NoError(t, l.Delete(p))
	}

	assert.True(t, l.Tombstoned("cat"))
	assert.False(t, l.Tombstoned("the cat"))
	assert.False(t, l.Tombstoned("th"))
	assert.False(t, l.Tombstoned("zebra"))

	assert.Equal(t, []string{"cat", "the", "the dog"}, l.TombstonedPhrases(0))
	assert.Equal(t, []string{"cat", "the"}, l.TombstonedPhrases(2))

	require.NoError(t, l.Insert("the"))
	assert.False(t, l.Tombstoned("the"))
	assert.Equal(t, []string{"cat", "the dog"}, l.TombstonedPhrases(-1))
}

func TestLexicon_Validation(t *testing.T) {
	cfg := arena.DefaultConfig()
	cfg.AlphabetFirst = ' '
	cfg.AlphabetSize = 95 // printable ASCII
	l, err := New(cfg, 8)
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, l.Insert(""), ErrEmptyPhrase)
	})

	t.Run("too long", func(t *testing.T) {
		assert.ErrorIs(t, l.Insert("123456789"), ErrPhraseTooLong)
		assert.NoError(t, l.Insert("12345678"))
	})

	t.Run("invalid byte", func(t *testing.T) {
		nodes := l.Stats().Arena.Nodes
		err := l.Insert("ab\x01c")

		var ibe *InvalidByteError
		require.True(t, errors.As(err, &ibe))
		assert.Equal(t, byte(0x01), ibe.Byte)
		assert.Equal(t, 2, ibe.Pos)
		assert.ErrorIs(t, err, ErrInvalidByte)
		assert.Equal(t, nodes, l.Stats().Arena.Nodes, "rejected insert must not create nodes")
	})
}

func TestLexicon_Capacity(t *testing.T) {
	cfg := arena.DefaultConfig()
	cfg.MaxNodes = 4 // root + 3
	l, err := New(cfg, 0)
	require.NoError(t, err)

	require.NoError(t, l.Insert("abc"))

	err = l.Insert("abd")
	assert.ErrorIs(t, err, arena.ErrCapacityExceeded)
	assert.False(t, l.Contains("abd"))
	assert.Equal(t, 4, l.Stats().Arena.Nodes)

	// Prefixes of existing paths need no new nodes.
	require.NoError(t, l.Insert("ab"))
	assert.True(t, l.Contains("ab"))
}

func TestLexicon_Step(t *testing.T) {
	l := newLexicon(t)
	require.NoError(t, l.Insert("a b"))

	id := l.Root()
	for _, b := range []byte("a b") {
		id = l.Step(id, b)
		require.NotEqual(t, arena.NullID, id)
	}
	assert.True(t, l.Terminal(id))
	assert.Equal(t, arena.NullID, l.Step(id, 'x'))
	assert.Equal(t, 5, l.Capacity())
}
