// Package protocol implements the line protocol spoken on stdin/stdout.
//
// A session has two phases. During preload the client sends one phrase per
// line and ends the phase with the line "S"; the server answers "R". After
// that every line is a command:
//
//	A <phrase>   insert
//	D <phrase>   delete
//	Q <text>     query, answered by one output line
//	F            finish
//
// A trailing '\r' is stripped from every line.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Sentinel is the line that ends preload.
	Sentinel = "S"

	// ReadyLine is written once preload is complete.
	ReadyLine = "R\n"
)

var (
	// ErrMalformedCommand is returned by ParseCommand for a line that is not
	// a command.
	ErrMalformedCommand = errors.New("protocol: malformed command")

	// ErrNoSentinel is returned by Preload when input ends before the sentinel.
	ErrNoSentinel = errors.New("protocol: input ended before preload sentinel")
)

// Op identifies a command.
type Op byte

// Command ops, named by their wire letter.
const (
	OpInsert Op = 'A'
	OpDelete Op = 'D'
	OpQuery  Op = 'Q'
	OpFinish Op = 'F'
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpQuery:
		return "query"
	case OpFinish:
		return "finish"
	default:
		return fmt.Sprintf("op(%q)", byte(o))
	}
}

// Command is one parsed command line.
type Command struct {
	Op  Op
	Arg string
}

// Reader reads protocol lines of any length.
type Reader struct {
	br   *bufio.Reader
	line int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next line without its terminator. A final line
// without a newline is returned normally; io.EOF is returned only when no
// bytes remain.
func (r *Reader) ReadLine() (string, error) {
	s, err := r.br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) || s == "" {
			return "", err
		}
	}
	r.line++

	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")

	return s, nil
}

// Line returns the number of lines read so far.
func (r *Reader) Line() int {
	return r.line
}

// Preload feeds every non-empty line to fn until the sentinel line and
// returns the number of phrases fed. It returns ErrNoSentinel if the input
// ends first. An error from fn stops the preload and is returned as is.
func Preload(r *Reader, fn func(phrase string) error) (int, error) {
	n := 0
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, ErrNoSentinel
			}
			return n, err
		}

		if line == Sentinel {
			return n, nil
		}
		if line == "" {
			continue
		}

		if err := fn(line); err != nil {
			return n, err
		}
		n++
	}
}

// Ready writes the ready line and flushes w.
func Ready(w *bufio.Writer) error {
	if _, err := w.WriteString(ReadyLine); err != nil {
		return err
	}
	return w.Flush()
}

// ParseCommand parses one command line. The argument is everything after the
// first space, kept verbatim, so "Q " is an empty query. A bare "A", "D" or
// "Q" has no payload and is malformed; "F" never needs one.
func ParseCommand(line string) (Command, error) {
	if line == "" {
		return Command{}, fmt.Errorf("%w: empty line", ErrMalformedCommand)
	}

	op := Op(line[0])
	switch op {
	case OpInsert, OpDelete, OpQuery, OpFinish:
	default:
		return Command{}, fmt.Errorf("%w: unknown op %q", ErrMalformedCommand, line[0])
	}

	if len(line) == 1 {
		if op == OpFinish {
			return Command{Op: op}, nil
		}
		return Command{}, fmt.Errorf("%w: %s without payload", ErrMalformedCommand, op)
	}
	if line[1] != ' ' {
		return Command{}, fmt.Errorf("%w: missing separator after %q", ErrMalformedCommand, line[0])
	}
	if op == OpFinish {
		return Command{Op: op}, nil
	}

	return Command{Op: op, Arg: line[2:]}, nil
}
