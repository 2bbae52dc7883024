// Package dictfile reads and writes phrase dictionary files: one phrase per
// line, optionally compressed with zstd or lz4. The format is detected from
// the frame magic, not the file name.
package dictfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/phrasetrie/internal/protocol"
)

// Format is the encoding of a dictionary file.
type Format int

// Formats.
const (
	Plain Format = iota
	Zstd
	LZ4
)

func (f Format) String() string {
	switch f {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "plain"
	}
}

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// FormatFromPath picks the format for a file name by its extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return Zstd
	case ".lz4":
		return LZ4
	default:
		return Plain
	}
}

type readCloser struct {
	io.Reader
	closeFn func() error
}

func (r *readCloser) Close() error { return r.closeFn() }

// NewReader detects the format of r and returns a decompressing reader.
// Closing it does not close r.
func NewReader(r io.Reader) (io.ReadCloser, Format, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, Plain, fmt.Errorf("dictfile: detect format: %w", err)
	}

	switch {
	case bytes.Equal(magic, zstdMagic):
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, Zstd, fmt.Errorf("dictfile: zstd: %w", err)
		}
		return dec.IOReadCloser(), Zstd, nil
	case bytes.Equal(magic, lz4Magic):
		return &readCloser{Reader: lz4.NewReader(br), closeFn: func() error { return nil }}, LZ4, nil
	default:
		return io.NopCloser(br), Plain, nil
	}
}

// Open opens a dictionary file.
func Open(path string) (io.ReadCloser, Format, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, Plain, err
	}

	rc, format, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, format, err
	}

	return &readCloser{
		Reader:  rc,
		closeFn: func() error {
			return errors.Join(rc.Close(), f.Close())
		},
	}, format, nil
}

// Each calls fn for every non-empty line of r. It stops at the first error
// from fn and returns the number of phrases passed to fn.
func Each(r io.Reader, fn func(phrase string) error) (int, error) {
	in := protocol.NewReader(r)

	n := 0
	for {
		line, err := in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("dictfile: line %d: %w", in.Line()+1, err)
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

// Load opens path and calls fn for every phrase in it.
func Load(path string, fn func(phrase string) error) (int, Format, error) {
	rc, format, err := Open(path)
	if err != nil {
		return 0, format, err
	}
	defer rc.Close()

	n, err := Each(rc, fn)
	return n, format, err
}

// Write encodes phrases, one per line, in the given format.
func Write(w io.Writer, format Format, phrases []string) error {
	var (
		out    io.Writer
		finish func() error
	)

	switch format {
	case Zstd:
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return fmt.Errorf("dictfile: zstd: %w", err)
		}
		out, finish = enc, enc.Close
	case LZ4:
		zw := lz4.NewWriter(w)
		out, finish = zw, zw.Close
	default:
		bw := bufio.NewWriter(w)
		out, finish = bw, bw.Flush
	}

	for _, p := range phrases {
		if _, err := io.WriteString(out, p+"\n"); err != nil {
			_ = finish()
			return err
		}
	}

	return finish()
}

// Create writes phrases to path, choosing the format by extension.
func Create(path string, phrases []string) error {
	f, err := os.Create(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return err
	}

	if err := Write(f, FormatFromPath(path), phrases); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
