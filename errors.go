package phrasetrie

import (
	"errors"
	"fmt"

	"github.com/hupe1980/phrasetrie/internal/arena"
	"github.com/hupe1980/phrasetrie/internal/lexicon"
)

var (
	// ErrCapacityExceeded is returned by Insert once the node arena is full.
	// After the first such error the index accepts no further inserts.
	ErrCapacityExceeded = errors.New("node capacity exceeded")

	// ErrNotFound is returned by Delete for a phrase that is not active.
	ErrNotFound = errors.New("phrase not found")

	// ErrInvalidByte is matched by errors.Is for every *InvalidByteError.
	ErrInvalidByte = errors.New("invalid byte")

	// ErrPhraseTooLong is returned for a phrase longer than the configured limit.
	ErrPhraseTooLong = errors.New("phrase too long")

	// ErrEmptyPhrase is returned for an empty phrase.
	ErrEmptyPhrase = errors.New("empty phrase")

	// ErrInvalidOption is returned by New for an out-of-range option.
	ErrInvalidOption = errors.New("invalid option")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("index closed")
)

// InvalidByteError reports a phrase byte outside the accepted alphabet.
//
// The underlying error can be accessed via errors.Unwrap.
type InvalidByteError struct {
	Byte  byte
	Pos   int
	cause error
}

func (e *InvalidByteError) Error() string {
	return fmt.Sprintf("invalid byte 0x%02x at position %d", e.Byte, e.Pos)
}

func (e *InvalidByteError) Unwrap() error { return e.cause }

// Is reports whether target is ErrInvalidByte.
func (e *InvalidByteError) Is(target error) bool { return target == ErrInvalidByte }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ibe *lexicon.InvalidByteError
	if errors.As(err, &ibe) {
		return &InvalidByteError{Byte: ibe.Byte, Pos: ibe.Pos, cause: err}
	}

	switch {
	case errors.Is(err, arena.ErrCapacityExceeded):
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	case errors.Is(err, lexicon.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, lexicon.ErrPhraseTooLong):
		return fmt.Errorf("%w: %w", ErrPhraseTooLong, err)
	case errors.Is(err, lexicon.ErrEmptyPhrase):
		return fmt.Errorf("%w: %w", ErrEmptyPhrase, err)
	case errors.Is(err, arena.ErrInvalidConfig):
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	return err
}
