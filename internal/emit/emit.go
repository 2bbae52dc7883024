// Package emit orders the matches of one query and writes the output line.
package emit

import (
	"bufio"
	"io"

	"github.com/hupe1980/phrasetrie/internal/results"
)

// NoMatch is the line written for a query without matches.
const NoMatch = "-1\n"

// Rank returns the discovered matches of tbl ordered by start, then by end.
// Every consumed entry is released and the discovery list is cleared, so the
// table is ready for the next query.
func Rank(tbl *results.Table) []results.Match {
	ids := tbl.Discovered()
	if len(ids) == 0 {
		return nil
	}

	out := make([]results.Match, 0, len(ids))
	for _, id := range ids {
		e := tbl.Entry(id)
		out = append(out, results.Match{Node: id, Start: e.Start, End: e.End})
	}
	tbl.Reset()

	// Insertion sort: result lists are short and mostly ordered already.
	for i := 1; i < len(out); i++ {
		m := out[i]
		j := i - 1
		for j >= 0 && less(m, out[j]) {
			out[j+1] = out[j]
			j--
		}
		out[j+1] = m
	}

	return out
}

func less(a, b results.Match) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

// Strings returns the matched substrings of query.
func Strings(query string, matches []results.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = query[m.Start : m.Start+m.End]
	}
	return out
}

// Write writes matches as one line: the substrings joined by '|', or NoMatch.
// It does not flush; use Drain with a *bufio.Writer for that.
func Write(w io.Writer, query string, matches []results.Match) error {
	if len(matches) == 0 {
		_, err := io.WriteString(w, NoMatch)
		return err
	}

	n := len(matches)
	for _, m := range matches {
		n += m.End
	}
	buf := make([]byte, 0, n)
	for i, m := range matches {
		if i > 0 {
			buf = append(buf, '|')
		}
		buf = append(buf, query[m.Start:m.Start+m.End]...)
	}
	buf = append(buf, '\n')

	_, err := w.Write(buf)
	return err
}

// Drain ranks the matches in tbl, writes the output line for query and
// flushes w if it is buffered. It returns the number of matches written.
func Drain(w io.Writer, query string, tbl *results.Table) (int, error) {
	matches := Rank(tbl)
	if err := Write(w, query, matches); err != nil {
		return 0, err
	}

	if bw, ok := w.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			return 0, err
		}
	}

	return len(matches), nil
}
