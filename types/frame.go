// Package types defines the shared data model of the ingestion pipeline:
// raw frames, decoded samples, file fingerprints, and run state.
//
// It is a leaf package with no internal dependencies.
package types

import (
	"fmt"
	"strings"
)

// MaxPayloadLen is the maximum frame payload length in bytes (CAN FD).
const MaxPayloadLen = 64

// RawFrame is a single raw bus frame as read from a trace file.
//
// A frame is immutable once produced: it is owned by the pipeline stage
// that created it until handed to the next stage. Payload must not be
// mutated after construction.
type RawFrame struct {
	// Timestamp is seconds since trace start, monotonic non-decreasing
	// as observed by consumers of a FrameSource.
	Timestamp float64 `msgpack:"ts"`
	// ID is the arbitration id (11-bit standard or 29-bit extended).
	ID uint32 `msgpack:"id"`
	// Payload is the raw data bytes (0..MaxPayloadLen).
	Payload []byte `msgpack:"data"`
	// Channel is the bus channel the frame was captured on.
	Channel uint8 `msgpack:"ch"`
	// Extended reports whether ID is a 29-bit extended identifier.
	Extended bool `msgpack:"ext"`
}

// HexID returns the arbitration id formatted as a hex string.
func (f RawFrame) HexID() string {
	return fmt.Sprintf("0x%03X", f.ID)
}

// HexPayload returns the payload as space-separated hex octets.
func (f RawFrame) HexPayload() string {
	var b strings.Builder
	for i, octet := range f.Payload {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", octet)
	}
	return b.String()
}
