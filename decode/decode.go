// Package decode applies a signal dictionary to raw frames, producing
// physically-scaled samples.
//
// Decode failures are isolated per signal: a signal whose declared bit
// range overflows the frame payload yields a failure for that signal
// only, and sibling signals in the same frame still decode. Failures
// are returned for the caller to tally and log; they never abort a
// stream.
package decode

import (
	"errors"
	"fmt"

	"github.com/saumyakr1232/can-msg-visualizer/dict"
	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// ErrBitRangeOverflow marks a signal whose declared bits extend past
// the frame payload.
var ErrBitRangeOverflow = errors.New("signal bit range exceeds payload")

// SignalError is a per-signal decode failure.
type SignalError struct {
	// MessageName and SignalName identify the failing signal.
	MessageName string
	SignalName  string
	// Err is the underlying failure, e.g. ErrBitRangeOverflow.
	Err error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("decode %s.%s: %v", e.MessageName, e.SignalName, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// Decoder decodes frames against one immutable dictionary.
// Safe for concurrent use: decoding reads the dictionary, never
// mutates it.
type Decoder struct {
	dict *dict.Dictionary
}

// NewDecoder creates a decoder bound to a dictionary.
func NewDecoder(d *dict.Dictionary) *Decoder {
	return &Decoder{dict: d}
}

// Decode decodes one frame. A frame whose arbitration id has no
// dictionary layout yields zero samples and zero errors: unknown
// traffic is common and expected, not a fault.
func (d *Decoder) Decode(frame types.RawFrame) ([]types.DecodedSample, []*SignalError) {
	msg, ok := d.dict.Lookup(frame.ID)
	if !ok {
		return nil, nil
	}

	samples := make([]types.DecodedSample, 0, len(msg.Signals))
	var failures []*SignalError

	for i := range msg.Signals {
		sig := &msg.Signals[i]

		raw, err := extractRaw(frame.Payload, sig)
		if err != nil {
			failures = append(failures, &SignalError{
				MessageName: msg.Name,
				SignalName:  sig.Name,
				Err:         err,
			})
			continue
		}

		sample := types.DecodedSample{
			Timestamp:   frame.Timestamp,
			MessageName: msg.Name,
			MessageID:   frame.ID,
			SignalName:  sig.Name,
			Raw:         raw,
			Physical:    float64(raw)*sig.Scale + sig.Offset,
			Unit:        sig.Unit,
		}
		if label, ok := sig.Label(raw); ok {
			sample.EnumLabel = label
		}
		samples = append(samples, sample)
	}

	return samples, failures
}

// extractRaw pulls the signal's bit field out of the payload and
// applies signedness.
func extractRaw(payload []byte, sig *dict.Signal) (int64, error) {
	var value uint64

	switch sig.Order {
	case dict.BigEndian:
		// Motorola: StartBit is the MSB. Bits walk down within a byte,
		// then wrap to the MSB of the following byte.
		pos := sig.StartBit
		for i := 0; i < sig.Length; i++ {
			byteIdx := pos / 8
			bitIdx := pos % 8
			if byteIdx >= len(payload) {
				return 0, ErrBitRangeOverflow
			}
			bit := uint64(payload[byteIdx]>>bitIdx) & 1
			value = value<<1 | bit
			if bitIdx == 0 {
				pos += 15
			} else {
				pos--
			}
		}
	default:
		// Intel: StartBit is the LSB, bits run upward.
		if sig.StartBit+sig.Length > len(payload)*8 {
			return 0, ErrBitRangeOverflow
		}
		for i := 0; i < sig.Length; i++ {
			pos := sig.StartBit + i
			bit := uint64(payload[pos/8]>>(pos%8)) & 1
			value |= bit << i
		}
	}

	if sig.Signed && sig.Length < 64 && value&(1<<(sig.Length-1)) != 0 {
		// Two's-complement sign extension within the declared width.
		value |= ^uint64(0) << sig.Length
	}
	return int64(value), nil
}
