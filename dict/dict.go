// Package dict defines the immutable signal dictionary consumed by the
// decoder: message layouts addressed by arbitration id, each carrying
// bit-defined signals with scaling and optional enumerations.
//
// Dictionaries are supplied pre-parsed by the caller and never mutated
// by the pipeline. Enumerated-vs-numeric interpretation is resolved
// once at construction, not re-dispatched per sample.
package dict

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// ByteOrder is the bit packing order of a signal.
type ByteOrder string

const (
	// LittleEndian is Intel packing: the start bit is the LSB.
	LittleEndian ByteOrder = "little_endian"
	// BigEndian is Motorola packing: the start bit is the MSB.
	BigEndian ByteOrder = "big_endian"
)

// SignalKind discriminates signal interpretation. Resolved once when
// the dictionary is built.
type SignalKind int

const (
	// KindNumeric scales the raw value into a physical value.
	KindNumeric SignalKind = iota
	// KindEnum maps raw values to discrete labels.
	KindEnum
)

func (k SignalKind) String() string {
	if k == KindEnum {
		return "enum"
	}
	return "numeric"
}

// Signal is one bit-defined field within a message payload.
type Signal struct {
	// Name is the signal name, unique within its message.
	Name string
	// StartBit is the position of the first bit (LSB for little endian,
	// MSB for big endian, DBC numbering).
	StartBit int
	// Length is the bit width, 1..64.
	Length int
	// Order is the byte order of the packed bits.
	Order ByteOrder
	// Signed marks two's-complement interpretation of the raw value.
	Signed bool
	// Scale and Offset map raw to physical: physical = raw*Scale + Offset.
	Scale  float64
	Offset float64
	// Unit is the engineering unit, possibly empty.
	Unit string
	// Enum maps raw values to labels for enumerated signals.
	Enum map[int64]string
	// Comment is free-form documentation from the definition source.
	Comment string

	kind SignalKind
}

// Kind returns the resolved interpretation of the signal.
func (s *Signal) Kind() SignalKind { return s.kind }

// Label returns the enumeration label for raw, if the signal is
// enumerated and the value is declared.
func (s *Signal) Label(raw int64) (string, bool) {
	if s.kind != KindEnum {
		return "", false
	}
	label, ok := s.Enum[raw]
	return label, ok
}

// Message is a message layout: a named frame id with its signals.
type Message struct {
	// Name is the message name, unique within the dictionary.
	Name string
	// ID is the arbitration id the layout applies to.
	ID uint32
	// Length is the declared payload length (DLC) in bytes.
	Length int
	// Signals are the message's signal layouts.
	Signals []Signal
	// Comment is free-form documentation from the definition source.
	Comment string
}

// Dictionary is an immutable arbitration-id to layout mapping.
type Dictionary struct {
	byID     map[uint32]*Message
	messages []Message
	checksum string
}

// ErrEmptyDictionary is returned when a dictionary has no messages.
var ErrEmptyDictionary = errors.New("dictionary has no messages")

// New builds a Dictionary from message layouts, validating signal
// geometry and resolving each signal's kind. The input slice is copied;
// callers may discard it afterwards.
func New(messages []Message) (*Dictionary, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyDictionary
	}

	d := &Dictionary{
		byID:     make(map[uint32]*Message, len(messages)),
		messages: make([]Message, len(messages)),
	}
	copy(d.messages, messages)

	for i := range d.messages {
		msg := &d.messages[i]
		if msg.Name == "" {
			return nil, fmt.Errorf("message 0x%X has no name", msg.ID)
		}
		if _, dup := d.byID[msg.ID]; dup {
			return nil, fmt.Errorf("duplicate message id 0x%X", msg.ID)
		}
		for j := range msg.Signals {
			sig := &msg.Signals[j]
			if err := validateSignal(msg, sig); err != nil {
				return nil, err
			}
			if len(sig.Enum) > 0 {
				sig.kind = KindEnum
			} else {
				sig.kind = KindNumeric
			}
		}
		d.byID[msg.ID] = msg
	}

	d.checksum = checksumMessages(d.messages)
	return d, nil
}

func validateSignal(msg *Message, sig *Signal) error {
	if sig.Name == "" {
		return fmt.Errorf("message %s has an unnamed signal", msg.Name)
	}
	if sig.Length < 1 || sig.Length > 64 {
		return fmt.Errorf("signal %s.%s has invalid bit length %d", msg.Name, sig.Name, sig.Length)
	}
	if sig.StartBit < 0 {
		return fmt.Errorf("signal %s.%s has negative start bit", msg.Name, sig.Name)
	}
	switch sig.Order {
	case LittleEndian, BigEndian:
	case "":
		sig.Order = LittleEndian
	default:
		return fmt.Errorf("signal %s.%s has unknown byte order %q", msg.Name, sig.Name, sig.Order)
	}
	if sig.Scale == 0 {
		sig.Scale = 1
	}
	return nil
}

// Lookup returns the layout for an arbitration id. Absence is common
// and expected: unknown traffic simply yields no samples.
func (d *Dictionary) Lookup(id uint32) (*Message, bool) {
	msg, ok := d.byID[id]
	return msg, ok
}

// Messages returns all layouts sorted by arbitration id.
func (d *Dictionary) Messages() []Message {
	out := make([]Message, len(d.messages))
	copy(out, d.messages)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MessageCount returns the number of message layouts.
func (d *Dictionary) MessageCount() int { return len(d.messages) }

// SignalCount returns the total number of signals across all messages.
func (d *Dictionary) SignalCount() int {
	n := 0
	for i := range d.messages {
		n += len(d.messages[i].Signals)
	}
	return n
}

// Checksum returns a deterministic content checksum of the dictionary,
// used as the dictionary component of cache fingerprints. Two
// dictionaries with identical layouts produce identical checksums
// regardless of construction order.
func (d *Dictionary) Checksum() string { return d.checksum }

func checksumMessages(messages []Message) string {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for i := range sorted {
		msg := &sorted[i]
		fmt.Fprintf(h, "m|%s|%d|%d\n", msg.Name, msg.ID, msg.Length)

		sigs := make([]Signal, len(msg.Signals))
		copy(sigs, msg.Signals)
		sort.Slice(sigs, func(a, b int) bool { return sigs[a].Name < sigs[b].Name })
		for k := range sigs {
			sig := &sigs[k]
			fmt.Fprintf(h, "s|%s|%d|%d|%s|%t|%g|%g|%s\n",
				sig.Name, sig.StartBit, sig.Length, sig.Order, sig.Signed, sig.Scale, sig.Offset, sig.Unit)

			keys := make([]int64, 0, len(sig.Enum))
			for raw := range sig.Enum {
				keys = append(keys, raw)
			}
			sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
			for _, raw := range keys {
				fmt.Fprintf(h, "e|%d|%s\n", raw, sig.Enum[raw])
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
