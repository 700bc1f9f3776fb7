package types

// DecodedSample is one named, physically-scaled signal value decoded
// from a raw frame. One RawFrame yields zero or more samples.
//
// Invariant: Physical = float64(Raw)*scale + offset for the signal's
// declared scaling, unless the signal is enumerated, in which case
// EnumLabel carries the matched label and Physical mirrors Raw.
type DecodedSample struct {
	// Timestamp is seconds since trace start, copied from the frame.
	Timestamp float64 `msgpack:"ts"`
	// MessageName is the dictionary name of the containing message.
	MessageName string `msgpack:"msg"`
	// MessageID is the frame arbitration id.
	MessageID uint32 `msgpack:"mid"`
	// SignalName is the dictionary name of the signal.
	SignalName string `msgpack:"sig"`
	// Raw is the extracted integer value before scaling.
	Raw int64 `msgpack:"raw"`
	// Physical is the scaled engineering value.
	Physical float64 `msgpack:"phy"`
	// EnumLabel is the enumeration label for the raw value, empty for
	// numeric signals or unmatched raw values.
	EnumLabel string `msgpack:"enum,omitempty"`
	// Unit is the engineering unit, possibly empty.
	Unit string `msgpack:"unit,omitempty"`
}

// FullName returns the qualified "Message.Signal" name used by
// consumers to key per-signal series.
func (s DecodedSample) FullName() string {
	return s.MessageName + "." + s.SignalName
}
