package source

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// binaryMagic opens every binary trace log. The leading non-ASCII byte
// keeps binary logs from ever passing the text sniff.
var binaryMagic = []byte{0x89, 'C', 'N', 'B', '1', '\n'}

const (
	// lengthPrefixSize is the size of each record's length prefix.
	lengthPrefixSize = 4
	// maxRecordSize bounds a single record payload. Anything larger is
	// treated as stream corruption, not a frame.
	maxRecordSize = 1 << 20
)

// ErrCorruptRecord is returned when a record's length prefix exceeds
// maxRecordSize. Unlike a truncated tail this is unrecoverable: the
// reader cannot resynchronize past an invalid prefix.
var ErrCorruptRecord = errors.New("corrupt binary record")

// binaryRecord is the msgpack wire form of one frame.
type binaryRecord struct {
	Timestamp float64 `msgpack:"ts"`
	ID        uint32  `msgpack:"id"`
	Payload   []byte  `msgpack:"data"`
	Channel   uint8   `msgpack:"ch"`
	Extended  bool    `msgpack:"ext"`
}

// binarySource reads a framed binary log: magic header followed by
// length-prefixed msgpack records. A truncated trailing record is a
// counted warning, not a fatal error.
type binarySource struct {
	f     *os.File
	r     *bufio.Reader
	stats Stats
	done  bool
}

func newBinarySource(f *os.File) (*binarySource, error) {
	r := bufio.NewReaderSize(f, 64*1024)

	header := make([]byte, len(binaryMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}
	// Open already matched the magic; a mismatch here means the file
	// changed underneath us.
	for i := range header {
		if header[i] != binaryMagic[i] {
			return nil, ErrUnsupportedFormat
		}
	}

	return &binarySource{f: f, r: r}, nil
}

// Next returns the next frame, io.EOF at end of stream.
func (s *binarySource) Next() (types.RawFrame, error) {
	for {
		if s.done {
			return types.RawFrame{}, io.EOF
		}

		var prefix [lengthPrefixSize]byte
		if _, err := io.ReadFull(s.r, prefix[:]); err != nil {
			if err == io.EOF {
				s.done = true
				return types.RawFrame{}, io.EOF
			}
			// Partial length prefix: truncated tail.
			s.stats.TruncatedTail++
			s.done = true
			return types.RawFrame{}, io.EOF
		}

		size := binary.BigEndian.Uint32(prefix[:])
		if size > maxRecordSize {
			return types.RawFrame{}, fmt.Errorf("%w: record size %d exceeds %d", ErrCorruptRecord, size, maxRecordSize)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(s.r, payload); err != nil {
			// Partial record body: truncated tail.
			s.stats.TruncatedTail++
			s.done = true
			return types.RawFrame{}, io.EOF
		}

		var rec binaryRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			s.stats.MalformedRecords++
			continue
		}
		if len(rec.Payload) > types.MaxPayloadLen {
			s.stats.MalformedRecords++
			continue
		}

		return types.RawFrame{
			Timestamp: rec.Timestamp,
			ID:        rec.ID,
			Payload:   rec.Payload,
			Channel:   rec.Channel,
			Extended:  rec.Extended,
		}, nil
	}
}

func (s *binarySource) Stats() Stats { return s.stats }

func (s *binarySource) Close() error { return s.f.Close() }

// Writer encodes frames into the binary trace log format. Used by
// capture tooling and tests; the pipeline itself only reads.
type Writer struct {
	w           io.Writer
	wroteHeader bool
}

// NewWriter creates a binary trace log writer. The magic header is
// written lazily before the first record.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame appends one frame record.
func (w *Writer) WriteFrame(frame types.RawFrame) error {
	if !w.wroteHeader {
		if _, err := w.w.Write(binaryMagic); err != nil {
			return fmt.Errorf("write magic: %w", err)
		}
		w.wroteHeader = true
	}

	payload, err := msgpack.Marshal(binaryRecord{
		Timestamp: frame.Timestamp,
		ID:        frame.ID,
		Payload:   frame.Payload,
		Channel:   frame.Channel,
		Extended:  frame.Extended,
	})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
