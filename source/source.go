// Package source reads trace files into a lazy stream of raw frames.
//
// Two on-disk encodings are supported behind one contract: a framed
// binary log (magic header plus length-prefixed msgpack records) and a
// line-oriented text log. The encoding is detected from file content,
// never from the extension alone.
//
// Sources read incrementally: memory use is bounded by a constant-size
// internal buffer regardless of file length. Frames are produced in
// non-decreasing timestamp order; encodings that yield out-of-order
// records are normalized within a bounded lookahead window.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// ErrUnsupportedFormat is returned by Open when the file content
// matches neither supported encoding.
var ErrUnsupportedFormat = errors.New("unsupported trace format")

// ErrFileUnreadable is returned by Open on I/O failure.
var ErrFileUnreadable = errors.New("trace file unreadable")

// Stats carries the recoverable fault tallies of a source. Faults are
// absorbed and counted, never surfaced as stream errors.
type Stats struct {
	// MalformedRecords counts skipped records or lines that did not
	// match the encoding's grammar.
	MalformedRecords int64
	// OutOfOrderDropped counts records falling outside the reorder
	// lookahead window.
	OutOfOrderDropped int64
	// TruncatedTail counts truncated trailing records at end-of-file
	// (0 or 1 for the binary encoding).
	TruncatedTail int64
}

// FrameSource is a lazy sequence of raw frames from one trace file.
//
// Next returns io.EOF when the stream ends. Implementations are not
// safe for concurrent use; exactly one reader owns a source.
type FrameSource interface {
	Next() (types.RawFrame, error)
	Stats() Stats
	Close() error
}

// Options configures Open.
type Options struct {
	// ReorderWindow is the lookahead window, in frames, used to
	// normalize out-of-order records. Zero disables reordering and
	// drops every regressing record.
	ReorderWindow int
}

// sniffLen is how much of the file head is examined for detection.
const sniffLen = 4096

// Open detects the encoding of the file at path and returns a
// FrameSource over it. The returned source already applies the
// reorder window; callers observe non-decreasing timestamps.
func Open(path string, opts Options) (FrameSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}

	head := make([]byte, sniffLen)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}
	head = head[:n]

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}

	var inner FrameSource
	switch {
	case bytes.HasPrefix(head, binaryMagic):
		inner, err = newBinarySource(f)
	case looksLikeText(head):
		inner, err = newTextSource(f)
	default:
		f.Close()
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	return newReorderingSource(inner, opts.ReorderWindow), nil
}

// looksLikeText accepts heads that are valid UTF-8 with no NUL bytes
// and contain at least one line that parses as a frame line. Header
// and comment lines are tolerated.
func looksLikeText(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0x00) >= 0 {
		return false
	}
	// The tail may cut a rune in half; validate all but the last few bytes.
	probe := head
	if len(probe) > utf8.UTFMax {
		probe = probe[:len(probe)-utf8.UTFMax]
	}
	if !utf8.Valid(probe) {
		return false
	}

	for _, line := range bytes.Split(head, []byte("\n")) {
		if _, ok := parseFrameLine(string(line)); ok {
			return true
		}
	}
	return false
}
