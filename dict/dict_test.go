package dict_test

import (
	"errors"
	"testing"

	"github.com/saumyakr1232/can-msg-visualizer/dict"
)

func mustNew(t *testing.T, messages []dict.Message) *dict.Dictionary {
	t.Helper()
	d, err := dict.New(messages)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func engineMessage() dict.Message {
	return dict.Message{
		Name:   "Engine",
		ID:     0x100,
		Length: 8,
		Signals: []dict.Signal{
			{Name: "Rpm", StartBit: 0, Length: 16, Scale: 0.25, Unit: "rpm"},
			{Name: "Temp", StartBit: 16, Length: 8, Signed: true, Offset: -40, Unit: "degC"},
		},
	}
}

func gearMessage() dict.Message {
	return dict.Message{
		Name:   "Gearbox",
		ID:     0x200,
		Length: 2,
		Signals: []dict.Signal{
			{Name: "Gear", StartBit: 0, Length: 4, Enum: map[int64]string{
				0: "N", 1: "D", 2: "R",
			}},
		},
	}
}

func TestNew_EmptyDictionary(t *testing.T) {
	_, err := dict.New(nil)
	if !errors.Is(err, dict.ErrEmptyDictionary) {
		t.Errorf("expected ErrEmptyDictionary, got %v", err)
	}
}

func TestNew_DuplicateMessageID(t *testing.T) {
	a := engineMessage()
	b := engineMessage()
	b.Name = "EngineCopy"
	if _, err := dict.New([]dict.Message{a, b}); err == nil {
		t.Error("expected error for duplicate message id")
	}
}

func TestNew_InvalidBitLength(t *testing.T) {
	msg := engineMessage()
	msg.Signals[0].Length = 65
	if _, err := dict.New([]dict.Message{msg}); err == nil {
		t.Error("expected error for bit length 65")
	}
}

func TestNew_UnknownByteOrder(t *testing.T) {
	msg := engineMessage()
	msg.Signals[0].Order = "middle_endian"
	if _, err := dict.New([]dict.Message{msg}); err == nil {
		t.Error("expected error for unknown byte order")
	}
}

func TestNew_DefaultsAppliedToCopy(t *testing.T) {
	msg := dict.Message{
		Name:    "M",
		ID:      1,
		Signals: []dict.Signal{{Name: "S", StartBit: 0, Length: 8}},
	}
	d := mustNew(t, []dict.Message{msg})

	got, ok := d.Lookup(1)
	if !ok {
		t.Fatal("Lookup(1) missed")
	}
	if got.Signals[0].Order != dict.LittleEndian {
		t.Errorf("expected default little endian, got %q", got.Signals[0].Order)
	}
	if got.Signals[0].Scale != 1 {
		t.Errorf("expected default scale 1, got %g", got.Signals[0].Scale)
	}
	// The caller's slice is untouched.
	if msg.Signals[0].Scale != 0 {
		t.Error("input slice was mutated")
	}
}

func TestLookup_UnknownID(t *testing.T) {
	d := mustNew(t, []dict.Message{engineMessage()})
	if _, ok := d.Lookup(0x7FF); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestKindAndLabel(t *testing.T) {
	d := mustNew(t, []dict.Message{engineMessage(), gearMessage()})

	engine, _ := d.Lookup(0x100)
	if engine.Signals[0].Kind() != dict.KindNumeric {
		t.Error("Rpm should be numeric")
	}

	gearbox, _ := d.Lookup(0x200)
	gear := &gearbox.Signals[0]
	if gear.Kind() != dict.KindEnum {
		t.Error("Gear should be enum")
	}
	if label, ok := gear.Label(1); !ok || label != "D" {
		t.Errorf("Label(1) = %q, %t; want D, true", label, ok)
	}
	if _, ok := gear.Label(9); ok {
		t.Error("undeclared raw value should not match a label")
	}
}

func TestChecksum_OrderIndependent(t *testing.T) {
	a := mustNew(t, []dict.Message{engineMessage(), gearMessage()})
	b := mustNew(t, []dict.Message{gearMessage(), engineMessage()})
	if a.Checksum() != b.Checksum() {
		t.Error("checksum should not depend on construction order")
	}
}

func TestChecksum_ContentSensitive(t *testing.T) {
	a := mustNew(t, []dict.Message{engineMessage()})

	changed := engineMessage()
	changed.Signals[0].Scale = 0.5
	b := mustNew(t, []dict.Message{changed})

	if a.Checksum() == b.Checksum() {
		t.Error("checksum should change when a signal's scaling changes")
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
messages:
  - name: Engine
    id: 256
    length: 8
    signals:
      - name: Rpm
        start_bit: 0
        length: 16
        scale: 0.25
        unit: rpm
      - name: Gear
        start_bit: 16
        length: 4
        enum:
          0: N
          1: D
`)
	d, err := dict.ParseYAML(data)
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	if d.MessageCount() != 1 || d.SignalCount() != 2 {
		t.Errorf("got %d messages, %d signals", d.MessageCount(), d.SignalCount())
	}
	msg, ok := d.Lookup(256)
	if !ok {
		t.Fatal("Lookup(256) missed")
	}
	if msg.Signals[1].Kind() != dict.KindEnum {
		t.Error("Gear should be enum")
	}
}

func TestParseYAML_Invalid(t *testing.T) {
	if _, err := dict.ParseYAML([]byte("messages: {not a list}")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}
