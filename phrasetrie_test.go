package phrasetrie

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/phrasetrie/internal/dictfile"
	"github.com/hupe1980/phrasetrie/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newIndex(t *testing.T, opts ...Option) *Index {
	t.Helper()
	ix, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func query(t *testing.T, ix *Index, text string) string {
	t.Helper()
	out, err := ix.QueryString(context.Background(), text)
	require.NoError(t, err)
	return out
}

func TestIndex_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)

	require.NoError(t, ix.Insert(ctx, "the cat"))
	assert.True(t, ix.Contains("the cat"))
	assert.Equal(t, "the cat", query(t, ix, "the cat"))

	require.NoError(t, ix.Delete(ctx, "the cat"))
	assert.False(t, ix.Contains("the cat"))
	assert.Equal(t, NoMatch, query(t, ix, "the cat"))
}

func TestIndex_EarliestWins(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)
	require.NoError(t, ix.Insert(ctx, "a"))

	matches, err := ix.Query(ctx, "x a a")
	require.NoError(t, err)
	assert.Equal(t, []Match{{Phrase: "a", Start: 2, End: 3}}, matches)
}

func TestIndex_Tombstone(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)
	require.NoError(t, ix.Insert(ctx, "test"))
	require.NoError(t, ix.Insert(ctx, "test 123"))
	nodes := ix.Stats().Nodes

	require.NoError(t, ix.Delete(ctx, "test"))

	assert.Equal(t, "test 123", query(t, ix, "test 123"))
	st := ix.Stats()
	assert.Equal(t, nodes, st.Nodes)
	assert.Equal(t, 1, st.Phrases)
	assert.Equal(t, 1, st.Tombstones)

	assert.True(t, ix.Tombstoned("test"))
	assert.False(t, ix.Tombstoned("test 123"))
	assert.Equal(t, []string{"test"}, ix.TombstonedPhrases(0))
	assert.ErrorIs(t, ix.Delete(ctx, "test"), ErrNotFound)
}

func TestIndex_Ordering(t *testing.T) {
	ctx := context.Background()

	t.Run("boundary", func(t *testing.T) {
		ix := newIndex(t)
		require.NoError(t, ix.Insert(ctx, "a b"))
		require.NoError(t, ix.Insert(ctx, "a"))
		assert.Equal(t, "a|a b", query(t, ix, "a b"))
	})

	t.Run("prefix matches", func(t *testing.T) {
		ix := newIndex(t, WithPrefixMatches(true))
		require.NoError(t, ix.Insert(ctx, "ab"))
		require.NoError(t, ix.Insert(ctx, "a"))
		assert.Equal(t, "a|ab", query(t, ix, "ab"))
	})

	t.Run("boundary ignores inner prefix", func(t *testing.T) {
		ix := newIndex(t)
		require.NoError(t, ix.Insert(ctx, "ab"))
		require.NoError(t, ix.Insert(ctx, "a"))
		assert.Equal(t, "ab", query(t, ix, "ab"))
	})
}

func TestIndex_IdempotentDelete(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)
	require.NoError(t, ix.Insert(ctx, "cat"))

	require.NoError(t, ix.Delete(ctx, "cat"))
	before := ix.Stats()

	err := ix.Delete(ctx, "cat")
	assert.ErrorIs(t, err, ErrNotFound)

	after := ix.Stats()
	assert.Equal(t, before.Nodes, after.Nodes)
	assert.Equal(t, before.Phrases, after.Phrases)
	assert.Equal(t, before.Tombstones, after.Tombstones)
}

func TestIndex_Errors(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t, WithMaxPhraseLen(8))

	err := ix.Insert(ctx, "ab\x01")
	assert.ErrorIs(t, err, ErrInvalidByte)
	var ibe *InvalidByteError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, byte(1), ibe.Byte)
	assert.Equal(t, 2, ibe.Pos)

	assert.ErrorIs(t, ix.Insert(ctx, "123456789"), ErrPhraseTooLong)
	assert.ErrorIs(t, ix.Insert(ctx, ""), ErrEmptyPhrase)
	assert.ErrorIs(t, ix.Delete(ctx, "nope"), ErrNotFound)
	assert.Zero(t, ix.Stats().Phrases)
}

func TestIndex_CapacityExceeded(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t, WithMaxNodes(4))

	require.NoError(t, ix.Insert(ctx, "abc"))
	assert.ErrorIs(t, ix.Insert(ctx, "abd"), ErrCapacityExceeded)
	// No further inserts, even ones that would fit.
	assert.ErrorIs(t, ix.Insert(ctx, "ab"), ErrCapacityExceeded)

	assert.Equal(t, "abc", query(t, ix, "abc"))
	require.NoError(t, ix.Delete(ctx, "abc"))
}

func TestIndex_CapacityExceededAcrossSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then serve", func(t *testing.T) {
		ix := newIndex(t, WithMaxNodes(4))
		assert.ErrorIs(t, ix.Insert(ctx, "abcdef"), ErrCapacityExceeded)

		var out bytes.Buffer
		st, err := ix.Serve(ctx, strings.NewReader("S\nA a\nQ a\nF\n"), &out)
		require.NoError(t, err)

		assert.Equal(t, "R\n-1\n", out.String())
		assert.Equal(t, int64(1), st.InsertsRejected)
		assert.False(t, ix.Contains("a"))
	})

	t.Run("serve then insert", func(t *testing.T) {
		ix := newIndex(t, WithMaxNodes(4))

		var out bytes.Buffer
		_, err := ix.Serve(ctx, strings.NewReader("S\nA abcdef\nF\n"), &out)
		require.NoError(t, err)

		assert.ErrorIs(t, ix.Insert(ctx, "a"), ErrCapacityExceeded)
		assert.False(t, ix.Contains("a"))

		out.Reset()
		_, err = ix.Serve(ctx, strings.NewReader("S\nA a\nQ a\n"), &out)
		require.NoError(t, err)
		assert.Equal(t, "R\n-1\n", out.String())
	})
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithAlphabet(0xf0, 32))
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = New(WithMaxNodes(0))
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = New(WithMode("threads"))
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestIndex_Closed(t *testing.T) {
	ctx := context.Background()
	ix, err := New()
	require.NoError(t, err)
	require.NoError(t, ix.Insert(ctx, "cat"))
	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())

	assert.ErrorIs(t, ix.Insert(ctx, "dog"), ErrClosed)
	assert.ErrorIs(t, ix.Delete(ctx, "cat"), ErrClosed)
	assert.False(t, ix.Contains("cat"))
	_, err = ix.Query(ctx, "cat")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ix.Serve(ctx, strings.NewReader("S\n"), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndex_Deterministic(t *testing.T) {
	ctx := context.Background()
	phrases := []string{"the", "the cat", "cat", "sat on", "on the mat", "mat", "a"}
	text := strings.Repeat("the cat sat on the mat and a cat ", 50)

	var want string
	for _, workers := range []int{1, 2, 4, 8} {
		ix := newIndex(t, WithWorkers(workers), WithChunkSize(2), WithLockStripes(workers))
		for _, p := range phrases {
			require.NoError(t, ix.Insert(ctx, p))
		}
		for run := 0; run < 5; run++ {
			got := query(t, ix, text)
			if want == "" {
				want = got
			}
			require.Equal(t, want, got, "workers=%d run=%d", workers, run)
		}
	}
	assert.Equal(t, "the|the cat|cat|sat on|on the mat|mat|a", want)
}

func TestIndex_MatchesBruteForce(t *testing.T) {
	ctx := context.Background()

	for _, prefix := range []bool{false, true} {
		rng := testutil.NewRNG(2024)
		vocab := rng.Vocabulary(12, 3)
		ix := newIndex(t, WithPrefixMatches(prefix), WithWorkers(4), WithChunkSize(3))
		active := map[string]bool{}

		for _, p := range rng.Phrases(vocab, 60, 3) {
			require.NoError(t, ix.Insert(ctx, p))
			active[p] = true
		}
		for _, p := range rng.Phrases(vocab, 20, 3) {
			_ = ix.Delete(ctx, p)
			delete(active, p)
		}

		for i := 0; i < 50; i++ {
			text := rng.Phrase(vocab, 30)
			want := testutil.BruteForceMatch(active, text, prefix)

			got, err := ix.Query(ctx, text)
			require.NoError(t, err)
			require.Len(t, got, len(want), "prefix=%v text=%q", prefix, text)
			for j, m := range got {
				assert.Equal(t, want[j].Phrase, m.Phrase)
				assert.Equal(t, want[j].Start, m.Start)
				assert.Equal(t, want[j].Start+want[j].Len, m.End)
			}
		}
	}
}

func TestIndex_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	ix := newIndex(t)
	require.NoError(t, ix.Insert(ctx, "cat"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				out, err := ix.QueryString(ctx, "a cat")
				assert.NoError(t, err)
				assert.Equal(t, "cat", out)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), ix.Stats().Queries)
}

func TestIndex_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("reader skips invalid lines", func(t *testing.T) {
		ix := newIndex(t)
		n, err := ix.Load(ctx, strings.NewReader("cat\nbad\x01\n\nthe mat\n"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, "cat|the mat", query(t, ix, "cat the mat"))
	})

	t.Run("compressed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dict.txt.zst")
		require.NoError(t, dictfile.Create(path, []string{"sat on", "mat"}))

		ix := newIndex(t)
		n, err := ix.LoadFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.True(t, ix.Contains("sat on"))
	})

	t.Run("stops at capacity", func(t *testing.T) {
		ix := newIndex(t, WithMaxNodes(3))
		n, err := ix.Load(ctx, strings.NewReader("ab\ncd\nab\n"))
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, 1, n)
	})

	t.Run("missing file", func(t *testing.T) {
		ix := newIndex(t)
		_, err := ix.LoadFile(ctx, filepath.Join(t.TempDir(), "none"))
		assert.Error(t, err)
	})
}

func TestIndex_Serve(t *testing.T) {
	for _, mode := range []Mode{ModeFanOut, ModePool} {
		t.Run(string(mode), func(t *testing.T) {
			metrics := &BasicMetricsCollector{}
			ix := newIndex(t, WithMode(mode), WithWorkers(3), WithMetricsCollector(metrics))

			var out bytes.Buffer
			st, err := ix.Serve(context.Background(),
				strings.NewReader("a\nS\nQ x a a\nA ab\nbogus\nQ ab a\nD zz\nF\n"), &out)
			require.NoError(t, err)

			assert.Equal(t, "R\na\nab|a\n", out.String())
			assert.Equal(t, int64(2), st.Queries)
			assert.Equal(t, int64(1), st.DeletesMissed)

			ms := metrics.GetStats()
			assert.Equal(t, int64(2), ms.InsertCount)
			assert.Equal(t, int64(2), ms.QueryCount)
			assert.Equal(t, int64(1), ms.MalformedCount)
			assert.Equal(t, int64(2), ix.Stats().Queries)

			// The index stays usable after the session.
			assert.Equal(t, "ab|a", query(t, ix, "ab a"))
		})
	}
}
