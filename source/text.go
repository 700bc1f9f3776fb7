package source

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// textSource reads a line-oriented text log, one frame per line:
//
//	<timestamp> <channel> <id>[x] <Rx|Tx> d <dlc> <octet> ...
//
// Timestamps are seconds as a decimal float, ids are hex (a trailing
// "x" marks an extended identifier), octets are two-digit hex.
// Malformed lines are skipped and counted, never fatal.
type textSource struct {
	f       *os.File
	scanner *bufio.Scanner
	stats   Stats
}

func newTextSource(f *os.File) (*textSource, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &textSource{f: f, scanner: scanner}, nil
}

// Next returns the next frame, io.EOF at end of stream.
func (s *textSource) Next() (types.RawFrame, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if skippableLine(line) {
			continue
		}
		frame, ok := parseFrameLine(line)
		if !ok {
			s.stats.MalformedRecords++
			continue
		}
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return types.RawFrame{}, err
	}
	return types.RawFrame{}, io.EOF
}

func (s *textSource) Stats() Stats { return s.stats }

func (s *textSource) Close() error { return s.f.Close() }

// skippableLine reports lines that are part of the log envelope rather
// than frame records: blanks, comments, and well-known header lines.
// These are not counted as malformed.
func skippableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, ";") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"date ", "base ", "internal ", "begin ", "end "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// parseFrameLine parses one frame line. Returns false for any line
// that does not match the grammar.
func parseFrameLine(line string) (types.RawFrame, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return types.RawFrame{}, false
	}

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || ts < 0 {
		return types.RawFrame{}, false
	}

	channel, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return types.RawFrame{}, false
	}

	idField := fields[2]
	extended := false
	if stripped, ok := strings.CutSuffix(idField, "x"); ok {
		idField = stripped
		extended = true
	}
	idField = strings.TrimPrefix(idField, "0x")
	id, err := strconv.ParseUint(idField, 16, 32)
	if err != nil {
		return types.RawFrame{}, false
	}

	switch fields[3] {
	case "Rx", "Tx":
	default:
		return types.RawFrame{}, false
	}

	if fields[4] != "d" {
		return types.RawFrame{}, false
	}

	dlc, err := strconv.ParseUint(fields[5], 10, 8)
	if err != nil || dlc > types.MaxPayloadLen {
		return types.RawFrame{}, false
	}
	if len(fields) < 6+int(dlc) {
		return types.RawFrame{}, false
	}

	payload := make([]byte, dlc)
	for i := 0; i < int(dlc); i++ {
		octet, err := strconv.ParseUint(fields[6+i], 16, 8)
		if err != nil {
			return types.RawFrame{}, false
		}
		payload[i] = byte(octet)
	}

	return types.RawFrame{
		Timestamp: ts,
		ID:        uint32(id),
		Payload:   payload,
		Channel:   uint8(channel),
		Extended:  extended,
	}, true
}
